// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/dberr"
)

// # User Repository

// PostgresUserRepository implements the [UserRepository] interface using pgx.
//
// # Error Mapping
//
// Storage-specific errors (pgx.ErrNoRows, SQLSTATE 23505) are mapped to
// domain-friendly [apperr.AppError] values so callers never see SQL details.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the [UserRepository].
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const userColumns = `id, email, passwordhash, role, isemailverified, ispremium, premiumexpiresat, createdat, updatedat`

// scanUser hydrates a User from a pgx row.
func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsEmailVerified,
		&user.IsPremium,
		&user.PremiumExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create persists a new account row.
//
// A unique-index violation on the email column surfaces as [apperr.Conflict].
func (repository *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, email, passwordhash, role, isemailverified, ispremium, premiumexpiresat, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.IsEmailVerified,
		user.IsPremium,
		user.PremiumExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "Email is already registered")
	}

	return nil
}

// FindByEmail retrieves an account by email, case-insensitively.
func (repository *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE lower(email) = lower($1)`

	user, err := scanUser(repository.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}

	return user, nil
}

// FindByID retrieves an account by its primary key.
func (repository *PostgresUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE id = $1`

	user, err := scanUser(repository.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}

	return user, nil
}

// UpdatePassword replaces only the password hash.
func (repository *PostgresUserRepository) UpdatePassword(ctx context.Context, userID, newHash string) error {
	const query = `UPDATE users.account SET passwordhash = $2, updatedat = $3 WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, userID, newHash, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_update_password_failed: %w", err)
	}

	return nil
}

// ResetCredentials updates the password hash and deletes every session of the
// user in a single transaction. See [UserRepository.ResetCredentials].
func (repository *PostgresUserRepository) ResetCredentials(ctx context.Context, userID, newHash string) error {
	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_user_repo_reset_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	const updateQuery = `UPDATE users.account SET passwordhash = $2, updatedat = $3 WHERE id = $1`
	if _, err := transaction.Exec(ctx, updateQuery, userID, newHash, time.Now()); err != nil {
		return fmt.Errorf("postgres_user_repo_reset_update_failed: %w", err)
	}

	const revokeQuery = `DELETE FROM users.session WHERE userid = $1`
	if _, err := transaction.Exec(ctx, revokeQuery, userID); err != nil {
		return fmt.Errorf("postgres_user_repo_reset_revoke_failed: %w", err)
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_user_repo_reset_commit_failed: %w", err)
	}

	return nil
}

// MarkVerified flips the verification flag exactly once.
//
// The WHERE clause only matches unverified rows, so a second verification
// attempt affects zero rows and fails.
func (repository *PostgresUserRepository) MarkVerified(ctx context.Context, userID string) error {
	const query = `
		UPDATE users.account
		SET isemailverified = TRUE, updatedat = $2
		WHERE id = $1 AND isemailverified = FALSE`

	tag, err := repository.pool.Exec(ctx, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_mark_verified_failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperr.ValidationError("Email is already verified")
	}

	return nil
}

// # Session Repository

// PostgresSessionRepository implements the [SessionRepository] interface using pgx.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new PostgreSQL implementation of the [SessionRepository].
func NewSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

const sessionColumns = `id, userid, tokenhash, useragent, ipaddress, expiresat, createdat`

// scanSession hydrates a Session from a pgx row.
func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.UserAgent,
		&session.IPAddress,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Create persists a new session row.
func (repository *PostgresSessionRepository) Create(ctx context.Context, session *Session) error {
	const query = `
		INSERT INTO users.session (
			id, userid, tokenhash, useragent, ipaddress, expiresat, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "Session already exists")
	}

	return nil
}

// Rotate performs the atomic refresh-token swap. See [SessionRepository.Rotate].
//
// The UPDATE matches only a live row holding the old hash; concurrency is
// resolved by the database, not by application-level read-then-write.
func (repository *PostgresSessionRepository) Rotate(ctx context.Context, oldTokenHash, newTokenHash string, expiresAt time.Time, userAgent, ipAddress string) (*Session, error) {
	const query = `
		UPDATE users.session
		SET tokenhash = $2, expiresat = $3, useragent = $4, ipaddress = $5
		WHERE tokenhash = $1 AND expiresat > now()
		RETURNING ` + sessionColumns

	session, err := scanSession(repository.pool.QueryRow(ctx, query,
		oldTokenHash, newTokenHash, expiresAt, userAgent, ipAddress,
	))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the token never existed, was already rotated (replay), or
			// the session expired. Purge an expired leftover row eagerly.
			const cleanupQuery = `DELETE FROM users.session WHERE tokenhash = $1 AND expiresat <= now()`
			_, _ = repository.pool.Exec(ctx, cleanupQuery, oldTokenHash)
			return nil, apperr.NotFound("Session")
		}
		return nil, fmt.Errorf("postgres_session_repo_rotate_failed: %w", err)
	}

	return session, nil
}

// Revoke deletes the session holding the given token hash, if any.
func (repository *PostgresSessionRepository) Revoke(ctx context.Context, tokenHash string) error {
	const query = `DELETE FROM users.session WHERE tokenhash = $1`

	if _, err := repository.pool.Exec(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_failed: %w", err)
	}

	return nil
}

// RevokeByID deletes one session with ownership enforcement in the WHERE clause.
func (repository *PostgresSessionRepository) RevokeByID(ctx context.Context, sessionID, ownerID string) error {
	const query = `DELETE FROM users.session WHERE id = $1 AND userid = $2`

	tag, err := repository.pool.Exec(ctx, query, sessionID, ownerID)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_by_id_failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Session")
	}

	return nil
}

// RevokeAll deletes every session of the user.
func (repository *PostgresSessionRepository) RevokeAll(ctx context.Context, userID string) error {
	const query = `DELETE FROM users.session WHERE userid = $1`

	if _, err := repository.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_all_failed: %w", err)
	}

	return nil
}

// RevokeOthers deletes all of the user's sessions except the current one.
func (repository *PostgresSessionRepository) RevokeOthers(ctx context.Context, userID, keepTokenHash string) error {
	const query = `DELETE FROM users.session WHERE userid = $1 AND tokenhash != $2`

	if _, err := repository.pool.Exec(ctx, query, userID, keepTokenHash); err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_others_failed: %w", err)
	}

	return nil
}

// ListActive returns the user's live sessions, newest first.
func (repository *PostgresSessionRepository) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM users.session
		WHERE userid = $1 AND expiresat > now()
		ORDER BY createdat DESC`

	rows, err := repository.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_repo_list_active_failed: %w", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_session_repo_list_scan_failed: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_session_repo_list_rows_failed: %w", err)
	}

	return sessions, nil
}

// DeleteExpired removes sessions whose expiry is in the past.
func (repository *PostgresSessionRepository) DeleteExpired(ctx context.Context) error {
	const query = `DELETE FROM users.session WHERE expiresat <= now()`

	if _, err := repository.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres_session_repo_delete_expired_failed: %w", err)
	}

	return nil
}
