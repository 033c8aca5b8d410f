package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

type ctxKeyPrincipal struct{}

// WithPrincipal injects p into ctx.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

// PrincipalFromContext returns the caller injected by RequireUser. The zero
// Principal is returned for anonymous requests.
func PrincipalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(domain.Principal)
	return p
}

// UserLoader resolves the token subject to a current user.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
}

// Middleware authenticates requests against the users table.
type Middleware struct {
	issuer Issuer
	users  UserLoader
	logger *zap.Logger
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(issuer Issuer, users UserLoader, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{issuer: issuer, users: users, logger: logger}
}

// RequireUser validates the bearer token, loads the user and injects a
// principal carrying the stored role. Tokens of deleted users are rejected.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		claims, err := m.issuer.Parse(token)
		if err != nil || strings.TrimSpace(claims.Subject) == "" {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		user, err := m.users.GetByID(r.Context(), claims.Subject)
		if errors.Is(err, domain.ErrNotFound) {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user no longer exists")
			return
		}
		if err != nil {
			m.logger.Error("auth: load user", zap.String("user_id", claims.Subject), zap.Error(err))
			m.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			return
		}
		ctx := WithPrincipal(r.Context(), domain.Principal{UserID: user.ID, Role: user.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows the request only if RequireUser injected an admin.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if !p.Authenticated() {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if !p.IsAdmin() {
			m.writeError(w, http.StatusForbidden, "FORBIDDEN", "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// errorBody matches the API error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Code: code, Message: message}); err != nil {
		m.logger.Warn("auth: failed to encode error response", zap.Int("status", status), zap.Error(err))
	}
}
