package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// DefaultCodeLength is used when no explicit length is configured.
const DefaultCodeLength = 6

// codeAlphabet leaves out characters that are easy to confuse in chat (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random verification code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// MatchesCode reports whether text carries code, ignoring case.
func MatchesCode(text, code string) bool {
	if code == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(code))
}
