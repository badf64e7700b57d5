// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/prepwise/internal/auth"
	"github.com/prepwise/prepwise/internal/platform/constants"
	"github.com/prepwise/prepwise/internal/platform/middleware"
	"github.com/prepwise/prepwise/internal/platform/sec"
)

// newTestRouter builds the real middleware chain plus auth routes on top of
// the in-memory fixture, mirroring the production mount point.
func newTestRouter(t *testing.T) (*chi.Mux, *serviceFixture) {
	t.Helper()

	tokenService, err := sec.NewTokenService("http-test-secret", "prepwise.app")
	require.NoError(t, err)

	sessions := newMemorySessionRepo()
	users := newMemoryUserRepo(sessions)
	fixture := &serviceFixture{
		users:              users,
		sessions:           sessions,
		resetTokens:        newMemoryTokenRepo(),
		verificationTokens: newMemoryTokenRepo(),
		mailer:             &recordingMailer{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fixture.service = auth.NewService(users, sessions, fixture.resetTokens, fixture.verificationTokens, tokenService, fixture.mailer, logger)

	handler := auth.NewHandler(fixture.service, false)

	router := chi.NewRouter()
	router.Use(middleware.Authenticate(tokenService))
	router.Route("/api/v1", func(api chi.Router) {
		api.Mount("/auth", handler.Routes())
	})
	return router, fixture
}

func postJSON(t *testing.T, router http.Handler, path string, payload any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func cookieByName(t *testing.T, recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

/*
TestHTTP_RegisterLoginFlow exercises the full browser flow over the wire:
register, hit a protected route with the issued cookie, refresh, and confirm
the rotated-out token is dead.
*/
func TestHTTP_RegisterLoginFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	// 1. Register
	recorder := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	accessCookie := cookieByName(t, recorder, constants.AccessTokenCookieName)
	refreshCookie := cookieByName(t, recorder, constants.RefreshTokenCookieName)
	require.NotNil(t, accessCookie)
	require.NotNil(t, refreshCookie)
	assert.True(t, accessCookie.HttpOnly)
	assert.True(t, refreshCookie.HttpOnly)
	assert.Equal(t, constants.RefreshTokenCookiePath, refreshCookie.Path)

	var created struct {
		Data struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			User        struct {
				Email string `json:"email"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.Equal(t, "Bearer", created.Data.TokenType)
	assert.Equal(t, "learner@example.com", created.Data.User.Email)

	// The password hash must never appear in any response body.
	assert.NotContains(t, recorder.Body.String(), "$2")

	// 2. Protected route without credentials: 401
	bare := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	bareRecorder := httptest.NewRecorder()
	router.ServeHTTP(bareRecorder, bare)
	assert.Equal(t, http.StatusUnauthorized, bareRecorder.Code)

	// 3. Protected route with the access cookie: 200
	me := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	me.AddCookie(accessCookie)
	meRecorder := httptest.NewRecorder()
	router.ServeHTTP(meRecorder, me)
	assert.Equal(t, http.StatusOK, meRecorder.Code)

	// 4. Bearer header works as the fallback transport
	bearer := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	bearer.Header.Set(constants.HeaderAuthorization, "Bearer "+created.Data.AccessToken)
	bearerRecorder := httptest.NewRecorder()
	router.ServeHTTP(bearerRecorder, bearer)
	assert.Equal(t, http.StatusOK, bearerRecorder.Code)

	// 5. Refresh rotates the cookie pair
	refreshRecorder := postJSON(t, router, "/api/v1/auth/refresh", nil, refreshCookie)
	require.Equal(t, http.StatusOK, refreshRecorder.Code)

	rotated := cookieByName(t, refreshRecorder, constants.RefreshTokenCookieName)
	require.NotNil(t, rotated)
	assert.NotEqual(t, refreshCookie.Value, rotated.Value)

	// 6. The consumed refresh token is rejected on replay
	replayRecorder := postJSON(t, router, "/api/v1/auth/refresh", nil, refreshCookie)
	assert.Equal(t, http.StatusUnauthorized, replayRecorder.Code)
}

/*
TestHTTP_Register_Validation verifies the 400 envelope with field details.
*/
func TestHTTP_Register_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	recorder := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "short1",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var envelope struct {
		Code    string `json:"code"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "VALIDATION_ERROR", envelope.Code)

	fields := make([]string, 0, len(envelope.Details))
	for _, detail := range envelope.Details {
		fields = append(fields, detail.Field)
	}
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

/*
TestHTTP_Login_UniformFailure verifies that unknown email and wrong password
produce byte-identical error responses.
*/
func TestHTTP_Login_UniformFailure(t *testing.T) {
	router, _ := newTestRouter(t)

	registered := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusCreated, registered.Code)

	wrongPass := postJSON(t, router, "/api/v1/auth/login", map[string]string{
		"email":    "learner@example.com",
		"password": "WrongPass1",
	})
	unknownEmail := postJSON(t, router, "/api/v1/auth/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "WrongPass1",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPass.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPass.Body.String(), unknownEmail.Body.String())
}

/*
TestHTTP_Logout verifies cookie clearing and idempotency.
*/
func TestHTTP_Logout(t *testing.T) {
	router, _ := newTestRouter(t)

	registered := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	accessCookie := cookieByName(t, registered, constants.AccessTokenCookieName)
	refreshCookie := cookieByName(t, registered, constants.RefreshTokenCookieName)
	require.NotNil(t, accessCookie)
	require.NotNil(t, refreshCookie)

	// 1. Logout clears both cookies
	loggedOut := postJSON(t, router, "/api/v1/auth/logout", nil, accessCookie, refreshCookie)
	require.Equal(t, http.StatusNoContent, loggedOut.Code)

	clearedAccess := cookieByName(t, loggedOut, constants.AccessTokenCookieName)
	require.NotNil(t, clearedAccess)
	assert.Empty(t, clearedAccess.Value)
	assert.Negative(t, clearedAccess.MaxAge)

	// 2. Logging out again with the session already gone still succeeds.
	// The stateless access token stays valid until its 15m expiry.
	again := postJSON(t, router, "/api/v1/auth/logout", nil, accessCookie)
	assert.Equal(t, http.StatusNoContent, again.Code)

	// 3. Without any credential the guard answers 401
	anonymous := postJSON(t, router, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)
}

/*
TestHTTP_ChangePassword_BearerClient verifies that a cookie-less client can
pass its refresh token in the request body so its own session survives while
every other session is revoked.
*/
func TestHTTP_ChangePassword_BearerClient(t *testing.T) {
	router, _ := newTestRouter(t)

	// First session from a browser-style registration.
	registered := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusCreated, registered.Code)

	// Second session belongs to the API client making the change.
	loggedIn := postJSON(t, router, "/api/v1/auth/login", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, loggedIn.Code)
	refreshCookie := cookieByName(t, loggedIn, constants.RefreshTokenCookieName)
	require.NotNil(t, refreshCookie)

	var loginBody struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(loggedIn.Body.Bytes(), &loginBody))

	// 1. Change the password over Bearer auth, no cookies attached
	payload, err := json.Marshal(map[string]string{
		"current_password": "Sup3rSecret",
		"new_password":     "N3wSecret1",
		"token":            refreshCookie.Value,
	})
	require.NoError(t, err)

	change := httptest.NewRequest(http.MethodPost, "/api/v1/auth/change-password", bytes.NewReader(payload))
	change.Header.Set("Content-Type", "application/json")
	change.Header.Set(constants.HeaderAuthorization, "Bearer "+loginBody.Data.AccessToken)
	changeRecorder := httptest.NewRecorder()
	router.ServeHTTP(changeRecorder, change)
	require.Equal(t, http.StatusOK, changeRecorder.Code)

	// 2. The caller's session is the only one left
	list := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
	list.Header.Set(constants.HeaderAuthorization, "Bearer "+loginBody.Data.AccessToken)
	listRecorder := httptest.NewRecorder()
	router.ServeHTTP(listRecorder, list)
	require.Equal(t, http.StatusOK, listRecorder.Code)

	var sessionList struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(listRecorder.Body.Bytes(), &sessionList))
	require.Len(t, sessionList.Data, 1)

	// 3. The surviving session still refreshes
	refreshed := postJSON(t, router, "/api/v1/auth/refresh", nil, refreshCookie)
	assert.Equal(t, http.StatusOK, refreshed.Code)
}

/*
TestHTTP_SessionManagement verifies listing and revoking device sessions over
the API.
*/
func TestHTTP_SessionManagement(t *testing.T) {
	router, _ := newTestRouter(t)

	registered := postJSON(t, router, "/api/v1/auth/register", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	accessCookie := cookieByName(t, registered, constants.AccessTokenCookieName)
	require.NotNil(t, accessCookie)

	// Open a second session.
	loggedIn := postJSON(t, router, "/api/v1/auth/login", map[string]string{
		"email":    "learner@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, loggedIn.Code)

	// 1. List: two sessions, no token hashes leaked
	list := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
	list.AddCookie(accessCookie)
	listRecorder := httptest.NewRecorder()
	router.ServeHTTP(listRecorder, list)
	require.Equal(t, http.StatusOK, listRecorder.Code)

	var sessionList struct {
		Data []struct {
			ID        string `json:"id"`
			UserAgent string `json:"user_agent"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(listRecorder.Body.Bytes(), &sessionList))
	require.Len(t, sessionList.Data, 2)
	assert.NotContains(t, listRecorder.Body.String(), "token_hash")

	// 2. Revoke one by ID
	revoke := httptest.NewRequest(http.MethodDelete, "/api/v1/auth/sessions/"+sessionList.Data[1].ID, nil)
	revoke.AddCookie(accessCookie)
	revokeRecorder := httptest.NewRecorder()
	router.ServeHTTP(revokeRecorder, revoke)
	assert.Equal(t, http.StatusNoContent, revokeRecorder.Code)

	// 3. Revoking it again reports 404
	revokeAgain := httptest.NewRequest(http.MethodDelete, "/api/v1/auth/sessions/"+sessionList.Data[1].ID, nil)
	revokeAgain.AddCookie(accessCookie)
	revokeAgainRecorder := httptest.NewRecorder()
	router.ServeHTTP(revokeAgainRecorder, revokeAgain)
	assert.Equal(t, http.StatusNotFound, revokeAgainRecorder.Code)
}
