// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

/*
Package auth implements the user identity and session management core.

It defines the domain entities (User, Session) and the logic for registration,
login, refresh-token rotation, and account recovery.

# Architecture

This layer is the "Truth" of the system. Entities defined here have no external
dependencies and encapsulate all business rules related to user identity.
*/
package auth

import (
	"time"

	"github.com/prepwise/prepwise/internal/platform/sec"
)

// # Domain Entities

// User represents a registered Prepwise learner.
//
// # Rules
//   - Email is unique, compared case-insensitively.
//   - PasswordHash is generated via bcrypt exclusively by the auth Service and
//     is never serialized; the JSON projection is the "safe view" handed to
//     transport layers.
//   - IsEmailVerified flips to true exactly once via a one-time token.
type User struct {
	ID              string       `json:"id"`
	Email           string       `json:"email"`
	PasswordHash    string       `json:"-"` // Explicitly omitted from JSON for security.
	Role            sec.UserRole `json:"role"`
	IsEmailVerified bool         `json:"is_email_verified"`

	// Premium entitlement, granted by the billing webhook.
	// A nil PremiumExpiresAt with IsPremium=true means a lifetime grant.
	IsPremium        bool       `json:"is_premium"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasActivePremium reports whether the premium entitlement is live at the
// given instant.
func (u *User) HasActivePremium(now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	return u.PremiumExpiresAt == nil || now.Before(*u.PremiumExpiresAt)
}

// Session represents one active refresh-token grant for one device.
//
// # Security Concept
//
// Access tokens (JWT) are stateless and cannot be revoked before expiry. We
// pair short-lived JWTs with long-lived Sessions stored in the database. The
// session row's existence IS its validity: revocation deletes the row, and
// rotation replaces the token hash in place so a stolen old value can never
// be replayed.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Hashed refresh token. Omitted for security.
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldToken           = "token"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldSessionID       = "sessionID"
	FieldAccessToken     = "access_token"
	FieldTokenType       = "token_type"
	FieldExpiresIn       = "expires_in"
	FieldUser            = "user"
	FieldMessage         = "message"
)
