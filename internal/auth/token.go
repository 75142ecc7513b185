package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenBytes is the amount of randomness in a session or routing token.
// Hex encoding doubles it, so tokens are 32 characters long.
const TokenBytes = 16

// GenerateToken returns a new random token as lowercase hex.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
