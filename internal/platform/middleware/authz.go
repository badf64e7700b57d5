// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package middleware

import (
	"net/http"
	"strings"

	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/constants"
	"github.com/prepwise/prepwise/internal/platform/ctxutil"
	"github.com/prepwise/prepwise/internal/platform/respond"
	"github.com/prepwise/prepwise/internal/platform/sec"
)

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// # Why an interface?
//
// Defining TokenVerifier here decouples the middleware from the `sec` token
// service implementation, allowing us to easily inject mocks during unit testing.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// Authenticate extracts and verifies the access token on every request.
//
// # Extraction Order
//
// First match wins, no merging:
//  1. httpOnly "access_token" cookie (preferred; page scripts cannot read it,
//     which blunts XSS token theft).
//  2. 'Authorization: Bearer <token>' header (fallback for non-browser clients).
//
// # Flow
//   - No token anywhere: the request proceeds as anonymous. Protected routes
//     are closed off by [RequireAuth] / [RequireRole].
//   - A token is present but fails verification (expired, tampered, wrong or
//     "none" algorithm, malformed header): abort with a single uniform 401.
//     The response never says WHICH check failed.
//   - Valid token: inject [*sec.AuthClaims] into the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			tokenStr, err := extractToken(request)
			if err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// 1. Anonymous access: defer the decision to the route guards.
			if tokenStr == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// 2. Token verification (stateless, no storage round trip).
			claims, err := verifier.VerifyToken(tokenStr)
			if err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// 3. Context injection for downstream handlers.
			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// extractToken pulls the raw access token out of a request.
//
// Returns ("", nil) when no credential is present at all, and a non-nil error
// when a credential is present but malformed (e.g. a non-Bearer scheme).
func extractToken(request *http.Request) (string, error) {

	// Cookie wins over the header; the two are never merged.
	if cookie, err := request.Cookie(constants.AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	authHeader := request.Header.Get(constants.HeaderAuthorization)
	if authHeader == "" {
		return "", nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", apperr.Unauthorized("Invalid authorization format")
	}

	return parts[1], nil
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. The wrapped handler
// never runs without a verified identity in the context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		claims := ctxutil.GetAuthUser(request.Context())
		if claims == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequireRole blocks requests if the authenticated user doesn't have the required role.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. It automatically implies
// [RequireAuth] so you don't need to mount both.
func RequireRole(role sec.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())

			// 1. Authentication check
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			// 2. Authorization check
			userRole := sec.UserRole(claims.Role)
			if !userRole.AtLeast(role) {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
