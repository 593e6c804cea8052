package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/auditeng/compliance/internal/auth"
	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/internal/ratelimit"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// requestLogger logs one line per request at Info with
// endpoint/method/status, latency, and the chi request id for
// correlation.
func requestLogger(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

// rateLimitExempt matches the exemptions: the health endpoints, the
// OpenAPI specification endpoint and /metrics never consume a caller's
// budget.
func rateLimitExempt(path string) bool {
	return strings.HasPrefix(path, "/api/health") || path == "/api/openapi.json" || path == "/metrics"
}

// rateLimited enforces the per-identifier minute-bucket cap,
// keyed by the authenticated user id once requireAuth has run, falling
// back to the client's remote address for unauthenticated routes
// (register/login) so brute-force attempts are still bounded.
func rateLimited(limiter *ratelimit.Limiter, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || rateLimitExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			identifier := r.RemoteAddr
			if uid, ok := userIDFromContext(r.Context()); ok {
				identifier = uid.String()
			}
			decision := limiter.Allow(r.Context(), identifier)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				writeError(w, r, apperrors.New(apperrors.ErrorTypeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth translates a Bearer token into the caller's user id,
// carried in the request context for every handler downstream of
// register/login.
func requireAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(raw, prefix) {
				writeError(w, r, apperrors.NewAuthentication("missing bearer token"))
				return
			}
			userID, err := svc.VerifyToken(strings.TrimPrefix(raw, prefix))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromContext(ctx context.Context) (idgen.ID, bool) {
	id, ok := ctx.Value(userIDContextKey).(idgen.ID)
	return id, ok
}
