package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	ClaimsKey contextKey = "claims"
	UserIDKey contextKey = "userID"
	OrgIDKey  contextKey = "orgID"
	RolesKey  contextKey = "roles"
)

const maxTokenBytes = 8192

// ErrorResponse is the JSON body of every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return claims
	}
	return nil
}

func UserIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(UserIDKey).(int64); ok {
		return id
	}
	return 0
}

func OrgIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(OrgIDKey).(int64); ok {
		return id
	}
	return 0
}

func RolesFromContext(ctx context.Context) []string {
	if roles, ok := ctx.Value(RolesKey).([]string); ok {
		return roles
	}
	return nil
}

// WithClaims stores the claims and their derived values on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, OrgIDKey, claims.OrgID)
	return context.WithValue(ctx, RolesKey, claims.Roles)
}

// SendError writes the standard {error, code} JSON body.
func SendError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// sendTokenExpirationWarning adds warning headers when the token expires within the hour
func sendTokenExpirationWarning(w http.ResponseWriter, expiresAt time.Time) {
	timeUntilExpiry := time.Until(expiresAt)
	if timeUntilExpiry <= time.Hour && timeUntilExpiry > 0 {
		w.Header().Set("X-Token-Expires-At", expiresAt.Format(time.RFC3339))
		w.Header().Set("X-Token-Expires-In", timeUntilExpiry.Round(time.Second).String())
	}
}

func validateTokenFormat(tokenString string) error {
	if len(tokenString) == 0 {
		return errors.New("token cannot be empty")
	}
	if len(tokenString) > maxTokenBytes {
		return errors.New("token size exceeds maximum allowed")
	}
	if strings.Count(tokenString, ".") != 2 {
		return errors.New("invalid JWT token format")
	}
	return nil
}

func classifyTokenError(err error) (message, code string) {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token has expired", "TOKEN_EXPIRED"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Invalid token signing method", "INVALID_SIGNING_METHOD"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Token is malformed", "MALFORMED_TOKEN"
	default:
		return "Invalid or expired token", "INVALID_TOKEN"
	}
}

// AuthMiddleware validates the bearer token and stores the caller identity on the context.
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				SendError(w, "Authorization header required", "MISSING_AUTH_HEADER", http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				SendError(w, "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if err := validateTokenFormat(tokenString); err != nil {
				SendError(w, "Invalid token format: "+err.Error(), "INVALID_TOKEN_FORMAT", http.StatusUnauthorized)
				return
			}

			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				message, code := classifyTokenError(err)
				SendError(w, message, code, http.StatusUnauthorized)
				return
			}

			if claims.UserID <= 0 {
				SendError(w, "Invalid user ID in token", "INVALID_USER_ID", http.StatusUnauthorized)
				return
			}
			if claims.OrgID <= 0 {
				SendError(w, "Invalid organization ID in token", "INVALID_ORG_ID", http.StatusUnauthorized)
				return
			}
			if len(claims.Roles) == 0 {
				SendError(w, "No roles assigned to user", "NO_ROLES", http.StatusUnauthorized)
				return
			}

			if claims.ExpiresAt != nil {
				sendTokenExpirationWarning(w, claims.ExpiresAt.Time)
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// MustRole lets the request through only when the caller holds one of the roles.
// Platform admins pass every role check.
func MustRole(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				SendError(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
				return
			}
			if len(requiredRoles) == 0 {
				SendError(w, "No roles specified for this endpoint", "NO_ROLES_SPECIFIED", http.StatusInternalServerError)
				return
			}
			if !claims.HasRole(RoleSuperAdmin) && !claims.HasRole(requiredRoles...) {
				SendError(w, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
