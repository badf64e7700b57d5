// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package sec

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plain-text password using the bcrypt algorithm.
//
// Each call salts randomly, so hashing the same password twice yields two
// different strings. Default cost keeps a single hash around the 100ms mark
// on commodity hardware, which is the throttle we want against offline
// brute-forcing.
func HashPassword(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plain-text password with its hashed version.
//
// It never returns an error: a malformed hash is treated as a failed
// verification, not a crash. bcrypt's comparison is constant-time.
func CheckPasswordHash(plainTextPassword, existingHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword))
	return err == nil
}
