// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
//
// # Implementations
//
// The canonical implementation is PostgreSQL ([PostgresUserRepository]).
type UserRepository interface {
	// FindByID returns the account with the given ID.
	//
	// Returns [apperr.NotFound] if the account does not exist.
	FindByID(ctx context.Context, id string) (*User, error)

	// FindByEmail returns the account with the given email.
	// The comparison is case-insensitive.
	//
	// Returns [apperr.NotFound] if no user is registered with this email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Create persists a brand-new user account to the storage.
	//
	// Returns [apperr.Conflict] if the email is already taken.
	Create(ctx context.Context, user *User) error

	// UpdatePassword replaces only the user's password hash.
	UpdatePassword(ctx context.Context, userID, newHash string) error

	// ResetCredentials replaces the password hash AND deletes every session
	// belonging to the user inside one database transaction.
	//
	// # Why atomic?
	//
	// A reset that updates the password but leaves sessions alive (or the
	// reverse) would let a potentially compromised session outlive the
	// containment action. Either both happen or neither does.
	ResetCredentials(ctx context.Context, userID, newHash string) error

	// MarkVerified flips is_email_verified to true, exactly once.
	//
	// Returns [apperr.ValidationError] if the account is already verified
	// or does not exist.
	MarkVerified(ctx context.Context, userID string) error
}

// # Session Data Access

// SessionRepository defines the data access contract for refresh-token sessions.
//
// # Validity Invariant
//
// A session is valid iff its row exists AND expires_at is in the future.
// Revocation is deletion; there is no tombstone state.
type SessionRepository interface {
	// Create persists a new tracking session for an authenticated login.
	Create(ctx context.Context, session *Session) error

	// Rotate atomically replaces the refresh token of the session identified
	// by oldTokenHash, extending its expiry and refreshing device metadata.
	//
	// # Single-Use Guarantee
	//
	// The swap is one conditional UPDATE keyed by the old token hash. When two
	// refresh calls race on the same token, exactly one matches the row; the
	// loser gets [apperr.NotFound] and must be treated as a potential replay.
	// An expired row hit during rotation is deleted eagerly.
	Rotate(ctx context.Context, oldTokenHash, newTokenHash string, expiresAt time.Time, userAgent, ipAddress string) (*Session, error)

	// Revoke deletes the session with the given token hash.
	// Deleting a non-existent session is not an error.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeByID deletes a single session, but only if it belongs to ownerID.
	//
	// Returns [apperr.NotFound] when no row matches. A session owned by a
	// different user is indistinguishable from a missing one, by contract:
	// "exists but not yours" must not leak.
	RevokeByID(ctx context.Context, sessionID, ownerID string) error

	// RevokeAll deletes every session belonging to the userID.
	// Used for security containment (password reset) and "log out everywhere".
	RevokeAll(ctx context.Context, userID string) error

	// RevokeOthers deletes all of the user's sessions except the one holding
	// keepTokenHash. Keyed by token hash because the caller knows its own
	// refresh token, not its session row ID.
	RevokeOthers(ctx context.Context, userID, keepTokenHash string) error

	// ListActive returns the user's sessions whose expiry is in the future,
	// newest first. Expired rows are never reported.
	ListActive(ctx context.Context, userID string) ([]*Session, error)

	// DeleteExpired physically removes sessions whose expiry is in the past.
	// Intended for a periodic background cleanup worker.
	DeleteExpired(ctx context.Context) error
}

// # Volatile Data Access

// OneTimeTokenRepository stores short-lived single-use tokens (password reset,
// email verification) keyed by the token value, mapping to a user ID.
//
// # Implementations
//
// Redis with native TTL ([RedisTokenRepository]); expiry needs no cleanup job.
type OneTimeTokenRepository interface {
	// Set stores a token associated with a userID for a limited duration.
	Set(ctx context.Context, token string, userID string, ttl time.Duration) error

	// Get retrieves the userID associated with a given token.
	//
	// Returns [apperr.NotFound] if the token is absent or expired.
	Get(ctx context.Context, token string) (string, error)

	// Delete removes a token after successful use.
	Delete(ctx context.Context, token string) error
}
