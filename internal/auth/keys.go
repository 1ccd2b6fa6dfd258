package auth

import (
	"crypto/subtle"
	"strings"
)

// Role represents the access level granted by a bearer key
type Role string

const (
	RoleClient Role = "client" // read rules, evaluate
	RoleAdmin  Role = "admin"  // everything, including rule writes
)

// VerifyKey compares a presented key with a configured one in constant time.
// An empty configured key never matches.
func VerifyKey(got, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

const bearerScheme = "bearer"

// ExtractBearerToken returns the token of an Authorization header. The
// "Bearer" scheme is optional and matched case-insensitively; a bare scheme
// yields an empty token.
func ExtractBearerToken(authHeader string) string {
	token := strings.TrimSpace(authHeader)
	if len(token) >= len(bearerScheme) && strings.EqualFold(token[:len(bearerScheme)], bearerScheme) {
		rest := token[len(bearerScheme):]
		if rest == "" {
			return ""
		}
		if rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return token
}

// HasPermission checks if a given role has permission to access a resource
// client: can read and evaluate
// admin: can do everything
func HasPermission(userRole Role, requiredRole Role) bool {
	switch userRole {
	case RoleAdmin:
		return true
	case RoleClient:
		return requiredRole == RoleClient
	default:
		return false
	}
}
