package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/audit"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/httputil"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/util"
)

type contextKey string

const OwnerContextKey contextKey = "owner"

func GetOwner(ctx context.Context) *model.Owner {
	if owner, ok := ctx.Value(OwnerContextKey).(*model.Owner); ok {
		return owner
	}
	return nil
}

// WithOwner returns ctx carrying owner, as the auth middleware would.
func WithOwner(ctx context.Context, owner *model.Owner) context.Context {
	return context.WithValue(ctx, OwnerContextKey, owner)
}

type OwnerTokenLookup interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error)
}

type AuthMiddleware struct {
	owners OwnerTokenLookup
}

func NewAuthMiddleware(owners OwnerTokenLookup) *AuthMiddleware {
	return &AuthMiddleware{owners: owners}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		owner, err := m.owners.FindByTokenHash(r.Context(), util.HashToken(token))
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if owner == nil {
			log.Warn().Str("token", util.MaskToken(token)).Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// extractToken reads the bearer token. EventSource cannot set headers, so the
// SSE endpoint may pass it as ?token= instead.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}
	return ""
}
