// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prepwise/prepwise/internal/platform/constants"
	"github.com/prepwise/prepwise/internal/platform/middleware"
	"github.com/prepwise/prepwise/internal/platform/request"
	"github.com/prepwise/prepwise/internal/platform/respond"
	"github.com/prepwise/prepwise/internal/platform/validate"
)

// # HTTP Transport

// Handler exposes the authentication service over HTTP.
//
// # Cookie Strategy
//
// Both tokens travel as httpOnly cookies. The access token is scoped to "/"
// so every API call carries it; the refresh token is scoped to the auth
// routes only, keeping the long-lived credential out of ordinary traffic.
// The response body additionally carries the access token for non-browser
// clients that prefer the Authorization header.
type Handler struct {
	service       *Service
	secureCookies bool
}

// NewHandler creates the HTTP handler for the auth domain.
//
// secureCookies must be true in production so cookies are only sent over TLS.
func NewHandler(service *Service, secureCookies bool) *Handler {
	return &Handler{service: service, secureCookies: secureCookies}
}

// Routes mounts the auth endpoints on a chi router.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints.
	router.Post("/register", handler.Register)
	router.Post("/login", handler.Login)
	router.Post("/refresh", handler.Refresh)
	router.Post("/verify-email", handler.VerifyEmail)
	router.Post("/forgot-password", handler.ForgotPassword)
	router.Post("/reset-password", handler.ResetPassword)

	// Endpoints requiring a verified access token.
	router.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth)

		protected.Post("/logout", handler.Logout)
		protected.Post("/logout-all", handler.LogoutAll)
		protected.Post("/change-password", handler.ChangePassword)
		protected.Post("/resend-verification", handler.ResendVerification)
		protected.Get("/me", handler.Me)
		protected.Get("/sessions", handler.Sessions)
		protected.Delete("/sessions/{sessionID}", handler.RevokeSession)
	})

	return router
}

// # Request / Response Shapes

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`

	// Token optionally carries the caller's refresh token for cookie-less
	// clients, so their own session survives the revocation of all others.
	Token string `json:"token"`
}

// authResponse is the success payload for register, login, and refresh.
type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        *User  `json:"user"`
}

func newAuthResponse(session *AuthSession) authResponse {
	return authResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		User:        session.User,
	}
}

// # Endpoints

// Register handles POST /register.
func (handler *Handler) Register(writer http.ResponseWriter, req *http.Request) {
	var body credentialsRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldEmail, body.Email).
		Email(FieldEmail, body.Email).
		Required(FieldPassword, body.Password).
		Password(FieldPassword, body.Password).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	session, err := handler.service.Register(req.Context(), body.Email, body.Password, req.UserAgent(), clientIP(req))
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	handler.setAuthCookies(writer, session)
	respond.Created(writer, newAuthResponse(session))
}

// Login handles POST /login.
func (handler *Handler) Login(writer http.ResponseWriter, req *http.Request) {
	var body credentialsRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldEmail, body.Email).
		Required(FieldPassword, body.Password).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	session, err := handler.service.Login(req.Context(), body.Email, body.Password, req.UserAgent(), clientIP(req))
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	handler.setAuthCookies(writer, session)
	respond.OK(writer, newAuthResponse(session))
}

// Refresh handles POST /refresh. The refresh token is read from its cookie;
// a JSON body with a "token" field is accepted as a fallback for API clients.
func (handler *Handler) Refresh(writer http.ResponseWriter, req *http.Request) {
	refreshToken := handler.refreshTokenFrom(req)
	if refreshToken == "" {
		respond.Error(writer, req, validate.RequiredError(FieldToken, "Refresh token is required"))
		return
	}

	session, err := handler.service.RefreshSession(req.Context(), refreshToken, req.UserAgent(), clientIP(req))
	if err != nil {
		handler.clearAuthCookies(writer)
		respond.Error(writer, req, err)
		return
	}

	handler.setAuthCookies(writer, session)
	respond.OK(writer, newAuthResponse(session))
}

// Logout handles POST /logout. Always succeeds, even without a live session.
func (handler *Handler) Logout(writer http.ResponseWriter, req *http.Request) {
	if err := handler.service.Logout(req.Context(), handler.refreshTokenFrom(req)); err != nil {
		respond.Error(writer, req, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.NoContent(writer)
}

// LogoutAll handles POST /logout-all for the authenticated user.
func (handler *Handler) LogoutAll(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	if err := handler.service.LogoutAll(req.Context(), userID); err != nil {
		respond.Error(writer, req, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.NoContent(writer)
}

// VerifyEmail handles POST /verify-email.
func (handler *Handler) VerifyEmail(writer http.ResponseWriter, req *http.Request) {
	var body tokenRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.Required(FieldToken, body.Token).Err(); err != nil {
		respond.Error(writer, req, err)
		return
	}

	if err := handler.service.VerifyEmail(req.Context(), body.Token); err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, map[string]string{FieldMessage: "Email verified successfully"})
}

// ResendVerification handles POST /resend-verification for the authenticated user.
func (handler *Handler) ResendVerification(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	if err := handler.service.ResendVerification(req.Context(), userID); err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, map[string]string{FieldMessage: "Verification email sent"})
}

// ForgotPassword handles POST /forgot-password.
//
// The response is 200 with a neutral message no matter what happened inside;
// only a malformed request gets a 400.
func (handler *Handler) ForgotPassword(writer http.ResponseWriter, req *http.Request) {
	var body forgotPasswordRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldEmail, body.Email).
		Email(FieldEmail, body.Email).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	handler.service.RequestPasswordReset(req.Context(), body.Email)

	respond.OK(writer, map[string]string{FieldMessage: "If that email is registered, a reset link has been sent"})
}

// ResetPassword handles POST /reset-password.
func (handler *Handler) ResetPassword(writer http.ResponseWriter, req *http.Request) {
	var body resetPasswordRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldToken, body.Token).
		Required(FieldNewPassword, body.NewPassword).
		Password(FieldNewPassword, body.NewPassword).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	if err := handler.service.ResetPassword(req.Context(), body.Token, body.NewPassword); err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, map[string]string{FieldMessage: "Password has been reset. Please log in again."})
}

// ChangePassword handles POST /change-password for the authenticated user.
func (handler *Handler) ChangePassword(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	var body changePasswordRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err = validator.
		Required(FieldCurrentPassword, body.CurrentPassword).
		Required(FieldNewPassword, body.NewPassword).
		Password(FieldNewPassword, body.NewPassword).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	// The body is already consumed here, so the refresh token comes from the
	// cookie or from the request's own token field.
	refreshToken := handler.refreshCookie(req)
	if refreshToken == "" {
		refreshToken = body.Token
	}

	err = handler.service.ChangePassword(req.Context(), userID, body.CurrentPassword, body.NewPassword, refreshToken)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, map[string]string{FieldMessage: "Password changed successfully"})
}

// Me handles GET /me for the authenticated user.
func (handler *Handler) Me(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	user, err := handler.service.CurrentUser(req.Context(), userID)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, user)
}

// Sessions handles GET /sessions for the authenticated user.
func (handler *Handler) Sessions(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	sessions, err := handler.service.Sessions(req.Context(), userID)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.OK(writer, sessions)
}

// RevokeSession handles DELETE /sessions/{sessionID} for the authenticated user.
func (handler *Handler) RevokeSession(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	sessionID := requestutil.Param(req, FieldSessionID)
	validator := &validate.Validator{}
	if err := validator.UUID(FieldSessionID, sessionID).Err(); err != nil {
		respond.Error(writer, req, err)
		return
	}

	if err := handler.service.RevokeSession(req.Context(), sessionID, userID); err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.NoContent(writer)
}

// # Cookie Plumbing

// refreshCookie returns the refresh token cookie value, or "" when absent.
func (handler *Handler) refreshCookie(req *http.Request) string {
	if cookie, err := req.Cookie(constants.RefreshTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// refreshTokenFrom reads the refresh token, cookie first, then an optional
// JSON body fallback. Only usable by handlers that have not decoded the body
// themselves.
func (handler *Handler) refreshTokenFrom(req *http.Request) string {
	if token := handler.refreshCookie(req); token != "" {
		return token
	}

	var body tokenRequest
	if err := requestutil.DecodeJSON(req, &body); err == nil {
		return body.Token
	}
	return ""
}

// setAuthCookies attaches both httpOnly token cookies to the response.
func (handler *Handler) setAuthCookies(writer http.ResponseWriter, session *AuthSession) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.AccessTokenCookieName,
		Value:    session.AccessToken,
		Path:     constants.AccessTokenCookiePath,
		MaxAge:   int(AccessTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    session.RefreshToken,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  session.RefreshTokenExpiresAt,
		MaxAge:   int(time.Until(session.RefreshTokenExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies expires both token cookies immediately.
func (handler *Handler) clearAuthCookies(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.AccessTokenCookieName,
		Value:    "",
		Path:     constants.AccessTokenCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientIP returns the best-effort client address, honoring proxy headers.
func clientIP(req *http.Request) string {
	return middleware.RealIP(req)
}
