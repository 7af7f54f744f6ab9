package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/httputil"
)

// DefaultMaxBodySize applies to every JSON route except media uploads.
const DefaultMaxBodySize = 1 << 20

type BodyLimitMiddleware struct {
	maxSize int64
}

// NewBodyLimitMiddleware caps request bodies at maxSize bytes, or
// DefaultMaxBodySize when maxSize is not positive.
func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

// Handler rejects a declared oversize body up front. Chunked bodies are
// bounded by MaxBytesReader and surface as *http.MaxBytesError on read.
func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxSize {
			log.Debug().
				Str("path", r.URL.Path).
				Int64("contentLength", r.ContentLength).
				Int64("limit", m.maxSize).
				Msg("request body over limit")
			httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
				apperrors.ValidationError("Request body too large"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
