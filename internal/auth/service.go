// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prepwise/prepwise/internal/email"
	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/ctxutil"
	"github.com/prepwise/prepwise/internal/platform/sec"
	"github.com/prepwise/prepwise/pkg/uuidv7"
)

// TokenProvider abstracts JWT generation and verification for the service.
// Implemented by [sec.TokenService].
type TokenProvider interface {
	GenerateAccessToken(userID, email, role string, timeToLive time.Duration) (string, error)
	VerifyToken(tokenString string) (*sec.AuthClaims, error)
}

// dummyPasswordHash is a valid bcrypt hash of a random throwaway string.
// Compared against during login when the email is unknown, so the request
// costs one bcrypt round either way and response timing does not reveal
// whether an account exists.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthSession is the full credential bundle issued after a successful
// registration, login, or refresh.
type AuthSession struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  *User
}

// # Application Service

// Service orchestrates the authentication workflows: registration, login,
// token rotation, account recovery, and session management.
//
// It owns the business rules; storage access goes through the repository
// interfaces and cryptography through [sec] and the [TokenProvider].
type Service struct {
	userRepository     UserRepository
	sessionRepository  SessionRepository
	resetTokens        OneTimeTokenRepository
	verificationTokens OneTimeTokenRepository
	tokenProvider      TokenProvider
	mailer             email.Dispatcher
	logger             *slog.Logger
}

// NewService wires the authentication service.
func NewService(
	userRepository UserRepository,
	sessionRepository SessionRepository,
	resetTokens OneTimeTokenRepository,
	verificationTokens OneTimeTokenRepository,
	tokenProvider TokenProvider,
	mailer email.Dispatcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepository:     userRepository,
		sessionRepository:  sessionRepository,
		resetTokens:        resetTokens,
		verificationTokens: verificationTokens,
		tokenProvider:      tokenProvider,
		mailer:             mailer,
		logger:             logger,
	}
}

// # Registration & Login

// normalizeEmail trims surrounding whitespace and lowercases the address.
// Every path that touches an email by value (register, login, recovery) goes
// through this so the same mailbox always maps to the same account.
func normalizeEmail(emailAddress string) string {
	return strings.ToLower(strings.TrimSpace(emailAddress))
}

// Register creates a new account, issues the first session, and kicks off
// email verification.
//
// The email is normalized (trimmed, lowercased) before storage so that
// lookups stay case-insensitive. Returns [apperr.Conflict] when the email is
// already registered.
func (service *Service) Register(ctx context.Context, emailAddress, password, userAgent, ipAddress string) (*AuthSession, error) {
	normalizedEmail := normalizeEmail(emailAddress)

	passwordHash, err := sec.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &User{
		ID:           uuidv7.New(),
		Email:        normalizedEmail,
		PasswordHash: passwordHash,
		Role:         sec.RoleUser,
	}

	if err := service.userRepository.Create(ctx, user); err != nil {
		return nil, err
	}

	service.startEmailVerification(ctx, user)

	return service.issueSession(ctx, user, userAgent, ipAddress)
}

// Login authenticates the credentials and opens a new session.
//
// # Anti-Enumeration
//
// An unknown email and a wrong password return the exact same error, and the
// unknown-email path still runs one bcrypt comparison against a dummy hash so
// the two cases are also indistinguishable by timing.
func (service *Service) Login(ctx context.Context, emailAddress, password, userAgent, ipAddress string) (*AuthSession, error) {
	user, err := service.userRepository.FindByEmail(ctx, normalizeEmail(emailAddress))
	if err != nil {
		sec.CheckPasswordHash(password, dummyPasswordHash)
		return nil, apperr.Unauthorized("Invalid email or password")
	}

	if !sec.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Invalid email or password")
	}

	return service.issueSession(ctx, user, userAgent, ipAddress)
}

// issueSession mints an access token plus a fresh opaque refresh token and
// persists the tracking session. Only the SHA-256 hash of the refresh token
// touches the database.
func (service *Service) issueSession(ctx context.Context, user *User, userAgent, ipAddress string) (*AuthSession, error) {
	accessToken, err := service.tokenProvider.GenerateAccessToken(user.ID, user.Email, string(user.Role), AccessTokenTTL)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	refreshToken, err := sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	session := &Session{
		ID:        uuidv7.New(),
		UserID:    user.ID,
		TokenHash: sec.HashToken(refreshToken),
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: time.Now().Add(RefreshTokenTTL),
	}

	if err := service.sessionRepository.Create(ctx, session); err != nil {
		return nil, err
	}

	return &AuthSession{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: session.ExpiresAt,
		User:                  user,
	}, nil
}

// # Token Rotation

// RefreshSession exchanges a valid refresh token for a brand-new token pair.
//
// The rotation is a single conditional UPDATE in storage; a replayed, expired
// or unknown token surfaces here as a uniform [apperr.Unauthorized]. Claims
// for the new access token are re-read from the user row, so a role change
// propagates at the next refresh.
func (service *Service) RefreshSession(ctx context.Context, refreshToken, userAgent, ipAddress string) (*AuthSession, error) {
	newRefreshToken, err := sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	session, err := service.sessionRepository.Rotate(ctx,
		sec.HashToken(refreshToken),
		sec.HashToken(newRefreshToken),
		time.Now().Add(RefreshTokenTTL),
		userAgent,
		ipAddress,
	)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	user, err := service.userRepository.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	accessToken, err := service.tokenProvider.GenerateAccessToken(user.ID, user.Email, string(user.Role), AccessTokenTTL)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &AuthSession{
		AccessToken:           accessToken,
		RefreshToken:          newRefreshToken,
		RefreshTokenExpiresAt: session.ExpiresAt,
		User:                  user,
	}, nil
}

// # Logout

// Logout revokes the session bound to the given refresh token.
//
// Idempotent: logging out with a missing or already-revoked token succeeds,
// because the end state the caller asked for (no such session) already holds.
func (service *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return service.sessionRepository.Revoke(ctx, sec.HashToken(refreshToken))
}

// LogoutAll revokes every session belonging to the user ("log out everywhere").
func (service *Service) LogoutAll(ctx context.Context, userID string) error {
	return service.sessionRepository.RevokeAll(ctx, userID)
}

// # Account Recovery

// RequestPasswordReset starts the forgot-password flow.
//
// It ALWAYS reports success to the caller. Whether the email exists, the
// token store hiccupped, or the mail broker is down, the response is the same;
// failures are logged server-side only. Anything else is an account oracle.
func (service *Service) RequestPasswordReset(ctx context.Context, emailAddress string) {
	logger := ctxutil.GetLogger(ctx)

	user, err := service.userRepository.FindByEmail(ctx, normalizeEmail(emailAddress))
	if err != nil {
		logger.InfoContext(ctx, "password_reset_requested_for_unknown_email")
		return
	}

	resetToken, err := sec.GenerateSecureToken(ResetTokenLength)
	if err != nil {
		logger.ErrorContext(ctx, "password_reset_token_generation_failed", slog.Any("error", err))
		return
	}

	if err := service.resetTokens.Set(ctx, resetToken, user.ID, ResetTokenTTL); err != nil {
		logger.ErrorContext(ctx, "password_reset_token_store_failed", slog.Any("error", err))
		return
	}

	service.dispatchMail(ctx, func(mailCtx context.Context) error {
		return service.mailer.SendPasswordReset(mailCtx, user.Email, resetToken)
	})
}

// ResetPassword completes the forgot-password flow with a one-time token.
//
// On success the new password hash is written and ALL sessions of the user
// are revoked in the same transaction; the token is deleted so it cannot be
// replayed.
func (service *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	userID, err := service.resetTokens.Get(ctx, resetToken)
	if err != nil {
		return apperr.ValidationError("Invalid or expired reset token")
	}

	newHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := service.userRepository.ResetCredentials(ctx, userID, newHash); err != nil {
		return err
	}

	if err := service.resetTokens.Delete(ctx, resetToken); err != nil {
		ctxutil.GetLogger(ctx).ErrorContext(ctx, "password_reset_token_cleanup_failed", slog.Any("error", err))
	}

	return nil
}

// ChangePassword updates the password for an authenticated user after
// re-verifying the current one.
//
// Other sessions are revoked; the session holding currentRefreshToken (the
// device making the change) stays alive. An empty currentRefreshToken revokes
// everything.
func (service *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, currentRefreshToken string) error {
	user, err := service.userRepository.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return apperr.Unauthorized("Current password is incorrect")
	}

	newHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := service.userRepository.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	if currentRefreshToken == "" {
		return service.sessionRepository.RevokeAll(ctx, userID)
	}
	return service.sessionRepository.RevokeOthers(ctx, userID, sec.HashToken(currentRefreshToken))
}

// # Email Verification

// VerifyEmail consumes a one-time verification token and flips the account's
// verified flag.
func (service *Service) VerifyEmail(ctx context.Context, verificationToken string) error {
	userID, err := service.verificationTokens.Get(ctx, verificationToken)
	if err != nil {
		return apperr.ValidationError("Invalid or expired verification token")
	}

	if err := service.userRepository.MarkVerified(ctx, userID); err != nil {
		return err
	}

	if err := service.verificationTokens.Delete(ctx, verificationToken); err != nil {
		ctxutil.GetLogger(ctx).ErrorContext(ctx, "verification_token_cleanup_failed", slog.Any("error", err))
	}

	return nil
}

// ResendVerification issues a fresh verification token for an authenticated,
// still-unverified user.
func (service *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := service.userRepository.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsEmailVerified {
		return apperr.ValidationError("Email is already verified")
	}

	service.startEmailVerification(ctx, user)
	return nil
}

// startEmailVerification stores a fresh verification token and dispatches the
// mail. Best-effort: failures are logged, never surfaced, so a broker outage
// cannot block registration.
func (service *Service) startEmailVerification(ctx context.Context, user *User) {
	logger := ctxutil.GetLogger(ctx)

	verificationToken, err := sec.GenerateSecureToken(VerificationTokenLength)
	if err != nil {
		logger.ErrorContext(ctx, "verification_token_generation_failed", slog.Any("error", err))
		return
	}

	if err := service.verificationTokens.Set(ctx, verificationToken, user.ID, VerificationTokenTTL); err != nil {
		logger.ErrorContext(ctx, "verification_token_store_failed", slog.Any("error", err))
		return
	}

	service.dispatchMail(ctx, func(mailCtx context.Context) error {
		return service.mailer.SendVerification(mailCtx, user.Email, verificationToken)
	})
}

// dispatchMail runs a mail send in the background, detached from the request
// lifecycle so a slow broker never delays the HTTP response. Delivery is
// fire-and-forget; errors are logged only.
func (service *Service) dispatchMail(ctx context.Context, send func(context.Context) error) {
	detachedCtx := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(detachedCtx, 10*time.Second)
		defer cancel()

		if err := send(sendCtx); err != nil {
			service.logger.ErrorContext(sendCtx, "email_dispatch_failed", slog.Any("error", err))
		}
	}()
}

// # Session Introspection

// Sessions lists the user's active sessions, newest first.
func (service *Service) Sessions(ctx context.Context, userID string) ([]*Session, error) {
	return service.sessionRepository.ListActive(ctx, userID)
}

// RevokeSession revokes a single session by ID, enforcing ownership.
//
// A session belonging to someone else reports [apperr.NotFound], identical to
// a session that never existed.
func (service *Service) RevokeSession(ctx context.Context, sessionID, ownerID string) error {
	return service.sessionRepository.RevokeByID(ctx, sessionID, ownerID)
}

// CurrentUser returns the full profile of the authenticated user.
func (service *Service) CurrentUser(ctx context.Context, userID string) (*User, error) {
	return service.userRepository.FindByID(ctx, userID)
}

// # Maintenance

// PurgeExpiredSessions deletes sessions past their expiry. Run periodically.
func (service *Service) PurgeExpiredSessions(ctx context.Context) error {
	err := service.sessionRepository.DeleteExpired(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		service.logger.ErrorContext(ctx, "session_purge_failed", slog.Any("error", err))
	}
	return err
}
