// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// # Opaque Tokens

// GenerateSecureToken returns a hex-encoded string built from byteLength bytes
// of cryptographically secure random data.
//
// # Usage
//
// These tokens are capabilities, not credentials: refresh tokens, password
// reset tokens, and email verification tokens. They carry no embedded claims;
// their only power is "prove possession, look up the server-side record".
func GenerateSecureToken(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

// HashToken returns the SHA-256 hash of a raw token as a hex string.
//
// # Why hash before storing?
//
// Only the hash is persisted. An attacker with a database dump cannot replay
// sessions, because the raw token handed to the client never touches disk.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
