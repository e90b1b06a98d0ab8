package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/andressep95/geo-verification/pkg/jwt"
)

// tokengen prints a bearer token for an API client.
func main() {
	_ = godotenv.Load()

	clientID := flag.String("client", "", "client identifier placed in the token")
	ttl := flag.Duration("ttl", 0, "token lifetime, 0 for no expiry")
	flag.Parse()

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -client <id> [-ttl 720h]")
		os.Exit(2)
	}

	issuer := os.Getenv("API_JWT_ISSUER")
	if issuer == "" {
		issuer = "geo-verification"
	}

	tokenService, err := jwt.NewTokenService(os.Getenv("API_JWT_SECRET"), issuer)
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v (set API_JWT_SECRET)", err)
	}

	token, err := tokenService.GenerateToken(*clientID, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(token)
	if *ttl > 0 {
		fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).UTC().Format(time.RFC3339))
	}
}
