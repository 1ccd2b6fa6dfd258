package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ContextKeyRole is the context key for storing the caller's role
const ContextKeyRole contextKey = "role"

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, message string)

// Authenticator checks bearer keys against the configured admin and client keys.
type Authenticator struct {
	adminKey  string
	clientKey string
	onError   ErrorWriter
}

// NewAuthenticator creates a new Authenticator. A nil onError falls back to
// http.Error.
func NewAuthenticator(adminKey, clientKey string, onError ErrorWriter) *Authenticator {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Authenticator{adminKey: adminKey, clientKey: clientKey, onError: onError}
}

// AuthResult contains the result of an authentication attempt
type AuthResult struct {
	Authenticated bool
	Role          Role
	Error         string
}

// Authenticate resolves the role for an Authorization header value.
func (a *Authenticator) Authenticate(authHeader string) AuthResult {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return AuthResult{Error: "missing bearer token"}
	}

	// both comparisons always run so timing does not reveal which key matched
	isAdmin := VerifyKey(token, a.adminKey)
	isClient := VerifyKey(token, a.clientKey)

	switch {
	case isAdmin:
		return AuthResult{Authenticated: true, Role: RoleAdmin}
	case isClient:
		return AuthResult{Authenticated: true, Role: RoleClient}
	default:
		return AuthResult{Error: "invalid token"}
	}
}

// RequireAuth is a middleware that requires a key granting requiredRole.
func (a *Authenticator) RequireAuth(requiredRole Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r.Header.Get("Authorization"))

			if !result.Authenticated {
				a.onError(w, r, http.StatusUnauthorized, result.Error)
				return
			}

			if !HasPermission(result.Role, requiredRole) {
				a.onError(w, r, http.StatusForbidden, "insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyRole, result.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRoleFromContext extracts the role from the request context
func GetRoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(ContextKeyRole).(Role)
	return role, ok
}
