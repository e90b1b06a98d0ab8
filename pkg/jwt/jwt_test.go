package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	svc, err := NewTokenService("secret", "geo-verification")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, err := svc.GenerateToken("discord-bot", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ClientID != "discord-bot" || claims.Subject != "discord-bot" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	svc, _ := NewTokenService("secret", "geo-verification")
	other, _ := NewTokenService("other-secret", "geo-verification")
	wrongIssuer, _ := NewTokenService("secret", "someone-else")

	foreign, _ := other.GenerateToken("c", time.Hour)
	if _, err := svc.ValidateToken(foreign); err == nil {
		t.Error("accepted token signed with another secret")
	}

	misissued, _ := wrongIssuer.GenerateToken("c", time.Hour)
	if _, err := svc.ValidateToken(misissued); err == nil {
		t.Error("accepted token from another issuer")
	}

	past := time.Now().Add(-time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "geo-verification",
			ExpiresAt: jwt.NewNumericDate(past),
		},
		ClientID: "c",
	}).SignedString([]byte("secret"))
	if _, err := svc.ValidateToken(expired); err == nil {
		t.Error("accepted expired token")
	}

	if _, err := svc.ValidateToken("garbage"); err == nil {
		t.Error("accepted malformed token")
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService("", "x"); err != ErrMissingSecret {
		t.Fatalf("err = %v, want ErrMissingSecret", err)
	}
}
