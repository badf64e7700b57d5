// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/prepwise/internal/auth"
	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/sec"
)

// # In-Memory Fakes

type memorySessionRepo struct {
	mu       sync.Mutex
	byHash   map[string]*auth.Session
	sequence int
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{byHash: map[string]*auth.Session{}}
}

func (r *memorySessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[session.TokenHash]; exists {
		return apperr.Conflict("Session already exists")
	}
	copied := *session
	if copied.CreatedAt.IsZero() {
		// Monotonic timestamps so ListActive ordering is deterministic.
		r.sequence++
		copied.CreatedAt = time.Now().Add(time.Duration(r.sequence) * time.Millisecond)
	}
	r.byHash[copied.TokenHash] = &copied
	return nil
}

func (r *memorySessionRepo) Rotate(_ context.Context, oldTokenHash, newTokenHash string, expiresAt time.Time, userAgent, ipAddress string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, exists := r.byHash[oldTokenHash]
	if !exists || !session.ExpiresAt.After(time.Now()) {
		delete(r.byHash, oldTokenHash)
		return nil, apperr.NotFound("Session")
	}
	delete(r.byHash, oldTokenHash)
	session.TokenHash = newTokenHash
	session.ExpiresAt = expiresAt
	session.UserAgent = userAgent
	session.IPAddress = ipAddress
	r.byHash[newTokenHash] = session
	rotated := *session
	return &rotated, nil
}

func (r *memorySessionRepo) Revoke(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHash, tokenHash)
	return nil
}

func (r *memorySessionRepo) RevokeByID(_ context.Context, sessionID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, session := range r.byHash {
		if session.ID == sessionID && session.UserID == ownerID {
			delete(r.byHash, hash)
			return nil
		}
	}
	return apperr.NotFound("Session")
}

func (r *memorySessionRepo) RevokeAll(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, session := range r.byHash {
		if session.UserID == userID {
			delete(r.byHash, hash)
		}
	}
	return nil
}

func (r *memorySessionRepo) RevokeOthers(_ context.Context, userID, keepTokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, session := range r.byHash {
		if session.UserID == userID && hash != keepTokenHash {
			delete(r.byHash, hash)
		}
	}
	return nil
}

func (r *memorySessionRepo) ListActive(_ context.Context, userID string) ([]*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*auth.Session, 0)
	for _, session := range r.byHash {
		if session.UserID == userID && session.ExpiresAt.After(time.Now()) {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *memorySessionRepo) DeleteExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, session := range r.byHash {
		if !session.ExpiresAt.After(time.Now()) {
			delete(r.byHash, hash)
		}
	}
	return nil
}

func (r *memorySessionRepo) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, session := range r.byHash {
		if session.UserID == userID {
			total++
		}
	}
	return total
}

type memoryUserRepo struct {
	mu       sync.Mutex
	byID     map[string]*auth.User
	sessions *memorySessionRepo
}

func newMemoryUserRepo(sessions *memorySessionRepo) *memoryUserRepo {
	return &memoryUserRepo{byID: map[string]*auth.User{}, sessions: sessions}
}

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, exists := r.byID[id]
	if !exists {
		return nil, apperr.NotFound("User")
	}
	copied := *user
	return &copied, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (r *memoryUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, user.Email) {
			return apperr.Conflict("Email is already registered")
		}
	}
	copied := *user
	r.byID[user.ID] = &copied
	return nil
}

func (r *memoryUserRepo) UpdatePassword(_ context.Context, userID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, exists := r.byID[userID]
	if !exists {
		return apperr.NotFound("User")
	}
	user.PasswordHash = newHash
	return nil
}

func (r *memoryUserRepo) ResetCredentials(ctx context.Context, userID, newHash string) error {
	if err := r.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}
	return r.sessions.RevokeAll(ctx, userID)
}

func (r *memoryUserRepo) MarkVerified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, exists := r.byID[userID]
	if !exists || user.IsEmailVerified {
		return apperr.ValidationError("Email is already verified")
	}
	user.IsEmailVerified = true
	return nil
}

type memoryTokenRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{values: map[string]string{}}
}

func (r *memoryTokenRepo) Set(_ context.Context, token, userID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[token] = userID
	return nil
}

func (r *memoryTokenRepo) Get(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, exists := r.values[token]
	if !exists {
		return "", apperr.NotFound("Token")
	}
	return userID, nil
}

func (r *memoryTokenRepo) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, token)
	return nil
}

func (r *memoryTokenRepo) only(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.values, 1)
	for token := range r.values {
		return token
	}
	return ""
}

// recordingMailer captures dispatched messages for assertions.
type recordingMailer struct {
	mu         sync.Mutex
	recipients []string
}

func (m *recordingMailer) SendVerification(_ context.Context, recipient, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients = append(m.recipients, recipient)
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, recipient, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients = append(m.recipients, recipient)
	return nil
}

func (m *recordingMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recipients)
}

// # Test Harness

type serviceFixture struct {
	service            *auth.Service
	users              *memoryUserRepo
	sessions           *memorySessionRepo
	resetTokens        *memoryTokenRepo
	verificationTokens *memoryTokenRepo
	mailer             *recordingMailer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	tokenService, err := sec.NewTokenService("service-test-secret", "prepwise.app")
	require.NoError(t, err)

	sessions := newMemorySessionRepo()
	users := newMemoryUserRepo(sessions)
	resetTokens := newMemoryTokenRepo()
	verificationTokens := newMemoryTokenRepo()
	mailer := &recordingMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &serviceFixture{
		service:            auth.NewService(users, sessions, resetTokens, verificationTokens, tokenService, mailer, logger),
		users:              users,
		sessions:           sessions,
		resetTokens:        resetTokens,
		verificationTokens: verificationTokens,
		mailer:             mailer,
	}
}

func (f *serviceFixture) register(t *testing.T, email, password string) *auth.AuthSession {
	t.Helper()
	session, err := f.service.Register(context.Background(), email, password, "test-agent", "127.0.0.1")
	require.NoError(t, err)
	return session
}

// # Registration

/*
TestService_Register verifies account creation, credential issuance, and that
the raw password never reaches storage.
*/
func TestService_Register(t *testing.T) {
	fixture := newServiceFixture(t)

	session := fixture.register(t, "Learner@Example.com", "Sup3rSecret")

	// 1. Credentials issued
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.True(t, session.RefreshTokenExpiresAt.After(time.Now()))

	// 2. Email normalized, password stored as bcrypt hash only
	user := session.User
	assert.Equal(t, "learner@example.com", user.Email)
	assert.NotEqual(t, "Sup3rSecret", user.PasswordHash)
	assert.True(t, sec.CheckPasswordHash("Sup3rSecret", user.PasswordHash))
	assert.Equal(t, sec.RoleUser, user.Role)
	assert.False(t, user.IsEmailVerified)

	// 3. A verification token was staged and the mail handed off
	fixture.verificationTokens.only(t)
	assert.Eventually(t, func() bool { return fixture.mailer.sent() == 1 },
		time.Second, 10*time.Millisecond)
}

/*
TestService_Register_DuplicateEmail verifies the conflict path, including
case-insensitive matching.
*/
func TestService_Register_DuplicateEmail(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.register(t, "learner@example.com", "Sup3rSecret")

	_, err := fixture.service.Register(context.Background(), "LEARNER@example.com", "An0therPass", "test-agent", "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)
}

// # Login

/*
TestService_Login verifies credential checking and that the two failure modes
(unknown email, wrong password) are indistinguishable.
*/
func TestService_Login(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.register(t, "learner@example.com", "Sup3rSecret")

	// 1. Success, case-insensitive email
	session, err := fixture.service.Login(context.Background(), "LEARNER@example.com", "Sup3rSecret", "test-agent", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)

	// 2. Surrounding whitespace is trimmed, same as at registration
	_, paddedErr := fixture.service.Login(context.Background(), "  learner@example.com  ", "Sup3rSecret", "test-agent", "127.0.0.1")
	require.NoError(t, paddedErr)

	// 3. Wrong password
	_, wrongPassErr := fixture.service.Login(context.Background(), "learner@example.com", "WrongPass1", "test-agent", "127.0.0.1")
	require.Error(t, wrongPassErr)

	// 4. Unknown email
	_, unknownErr := fixture.service.Login(context.Background(), "ghost@example.com", "WrongPass1", "test-agent", "127.0.0.1")
	require.Error(t, unknownErr)

	// 5. Both failures are the same uniform 401
	assert.Equal(t, wrongPassErr.Error(), unknownErr.Error())
	assert.Equal(t, "UNAUTHORIZED", apperr.As(wrongPassErr).Code)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(unknownErr).Code)
}

// # Refresh Rotation

/*
TestService_RefreshSession verifies single-use rotation: the new token works,
the old one is dead.
*/
func TestService_RefreshSession(t *testing.T) {
	fixture := newServiceFixture(t)
	initial := fixture.register(t, "learner@example.com", "Sup3rSecret")

	// 1. First refresh succeeds and rotates
	refreshed, err := fixture.service.RefreshSession(context.Background(), initial.RefreshToken, "test-agent", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, initial.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, initial.User.ID, refreshed.User.ID)

	// 2. Replaying the consumed token fails
	_, err = fixture.service.RefreshSession(context.Background(), initial.RefreshToken, "test-agent", "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	// 3. The rotated token still works
	_, err = fixture.service.RefreshSession(context.Background(), refreshed.RefreshToken, "test-agent", "127.0.0.1")
	assert.NoError(t, err)

	// 4. Rotation replaced the session in place: still exactly one
	assert.Equal(t, 1, fixture.sessions.count(initial.User.ID))
}

/*
TestService_RefreshSession_Garbage verifies that an unknown token is a 401.
*/
func TestService_RefreshSession_Garbage(t *testing.T) {
	fixture := newServiceFixture(t)

	_, err := fixture.service.RefreshSession(context.Background(), "never-issued", "test-agent", "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)
}

// # Logout

/*
TestService_Logout verifies revocation and idempotency.
*/
func TestService_Logout(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "learner@example.com", "Sup3rSecret")

	// 1. Logout kills the session
	require.NoError(t, fixture.service.Logout(context.Background(), session.RefreshToken))
	_, err := fixture.service.RefreshSession(context.Background(), session.RefreshToken, "test-agent", "127.0.0.1")
	assert.Error(t, err)

	// 2. Logging out again is not an error
	assert.NoError(t, fixture.service.Logout(context.Background(), session.RefreshToken))

	// 3. Empty token is a no-op
	assert.NoError(t, fixture.service.Logout(context.Background(), ""))
}

/*
TestService_LogoutAll verifies that every device session is revoked.
*/
func TestService_LogoutAll(t *testing.T) {
	fixture := newServiceFixture(t)
	first := fixture.register(t, "learner@example.com", "Sup3rSecret")

	second, err := fixture.service.Login(context.Background(), "learner@example.com", "Sup3rSecret", "other-agent", "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, 2, fixture.sessions.count(first.User.ID))

	require.NoError(t, fixture.service.LogoutAll(context.Background(), first.User.ID))

	assert.Equal(t, 0, fixture.sessions.count(first.User.ID))
	_, err = fixture.service.RefreshSession(context.Background(), second.RefreshToken, "other-agent", "10.0.0.2")
	assert.Error(t, err)
}

// # Password Recovery

/*
TestService_PasswordResetFlow verifies the full forgot/reset cycle, including
session containment and token single-use.
*/
func TestService_PasswordResetFlow(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "learner@example.com", "Sup3rSecret")

	// 1. Request stages a token (the outward response is always neutral)
	fixture.service.RequestPasswordReset(context.Background(), "learner@example.com")
	resetToken := fixture.resetTokens.only(t)

	// 2. Reset replaces the password and revokes every session
	require.NoError(t, fixture.service.ResetPassword(context.Background(), resetToken, "N3wPassword"))

	_, err := fixture.service.Login(context.Background(), "learner@example.com", "Sup3rSecret", "test-agent", "127.0.0.1")
	assert.Error(t, err, "old password must no longer work")

	_, err = fixture.service.Login(context.Background(), "learner@example.com", "N3wPassword", "test-agent", "127.0.0.1")
	assert.NoError(t, err)

	_, err = fixture.service.RefreshSession(context.Background(), session.RefreshToken, "test-agent", "127.0.0.1")
	assert.Error(t, err, "pre-reset sessions must be revoked")

	// 3. The token is single-use
	err = fixture.service.ResetPassword(context.Background(), resetToken, "Anoth3rPass")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
}

/*
TestService_RequestPasswordReset_UnknownEmail verifies that an unknown email
stages nothing but also raises nothing.
*/
func TestService_RequestPasswordReset_UnknownEmail(t *testing.T) {
	fixture := newServiceFixture(t)

	fixture.service.RequestPasswordReset(context.Background(), "ghost@example.com")

	fixture.resetTokens.mu.Lock()
	defer fixture.resetTokens.mu.Unlock()
	assert.Empty(t, fixture.resetTokens.values)
}

/*
TestService_ChangePassword verifies re-authentication, hash replacement, and
that only the current device session survives.
*/
func TestService_ChangePassword(t *testing.T) {
	fixture := newServiceFixture(t)
	current := fixture.register(t, "learner@example.com", "Sup3rSecret")

	other, err := fixture.service.Login(context.Background(), "learner@example.com", "Sup3rSecret", "other-agent", "10.0.0.2")
	require.NoError(t, err)

	// 1. Wrong current password is rejected
	err = fixture.service.ChangePassword(context.Background(), current.User.ID, "WrongPass1", "N3wPassword", current.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	// 2. Success changes the hash and revokes the other device
	require.NoError(t, fixture.service.ChangePassword(context.Background(), current.User.ID, "Sup3rSecret", "N3wPassword", current.RefreshToken))

	_, err = fixture.service.RefreshSession(context.Background(), other.RefreshToken, "other-agent", "10.0.0.2")
	assert.Error(t, err, "other sessions must be revoked")

	_, err = fixture.service.RefreshSession(context.Background(), current.RefreshToken, "test-agent", "127.0.0.1")
	assert.NoError(t, err, "the changing device keeps its session")

	_, err = fixture.service.Login(context.Background(), "learner@example.com", "N3wPassword", "test-agent", "127.0.0.1")
	assert.NoError(t, err)
}

// # Email Verification

/*
TestService_VerifyEmail verifies the one-time verification flow.
*/
func TestService_VerifyEmail(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "learner@example.com", "Sup3rSecret")
	verificationToken := fixture.verificationTokens.only(t)

	// 1. Verification flips the flag
	require.NoError(t, fixture.service.VerifyEmail(context.Background(), verificationToken))

	user, err := fixture.service.CurrentUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.True(t, user.IsEmailVerified)

	// 2. The token is single-use
	err = fixture.service.VerifyEmail(context.Background(), verificationToken)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)

	// 3. Resending for an already-verified account is rejected
	err = fixture.service.ResendVerification(context.Background(), session.User.ID)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
}

// # Session Introspection

/*
TestService_Sessions verifies active-session listing and scoped revocation.
*/
func TestService_Sessions(t *testing.T) {
	fixture := newServiceFixture(t)
	owner := fixture.register(t, "learner@example.com", "Sup3rSecret")
	intruder := fixture.register(t, "other@example.com", "Oth3rSecret")

	_, err := fixture.service.Login(context.Background(), "learner@example.com", "Sup3rSecret", "other-agent", "10.0.0.2")
	require.NoError(t, err)

	// 1. Two active sessions, newest first
	sessions, err := fixture.service.Sessions(context.Background(), owner.User.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, !sessions[0].CreatedAt.Before(sessions[1].CreatedAt))

	// 2. Another user cannot revoke them
	err = fixture.service.RevokeSession(context.Background(), sessions[0].ID, intruder.User.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperr.As(err).Code)

	// 3. The owner can
	require.NoError(t, fixture.service.RevokeSession(context.Background(), sessions[0].ID, owner.User.ID))

	remaining, err := fixture.service.Sessions(context.Background(), owner.User.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
