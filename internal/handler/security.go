package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/xixi-cart/internal/domain/auth"
)

// TokenVerifier resolves a bearer token to the caller it identifies.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// SecurityHandler authenticates requests with bearer JWTs.
type SecurityHandler struct {
	tokens TokenVerifier
}

// NewSecurityHandler creates a SecurityHandler verifying tokens with v.
func NewSecurityHandler(v TokenVerifier) *SecurityHandler {
	return &SecurityHandler{tokens: v}
}

// Authenticate rejects requests without a valid bearer token with 401 and
// stores the principal in the request context otherwise.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		p, err := s.tokens.Verify(token)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin answers 403 unless the authenticated caller is an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.FromContext(r.Context()); !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// principal returns the caller stored by Authenticate. Handlers are only
// reachable through it, so the zero value never escapes.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
