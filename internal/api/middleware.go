package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/authn"
	"github.com/brwyatt/dffmpeg-coordinator/internal/metrics"
)

// contextKey is an unexported type for context keys defined in this
// package, preventing collisions with keys defined elsewhere.
type contextKey int

const (
	contextKeyIdentity contextKey = iota
	contextKeyBody
)

// RequireAuth verifies every request against the authn.Authenticator
// (spec.md §4.1) and stores the resulting AuthenticatedIdentity plus the
// already-consumed request body in context. Handlers that need the body
// must call bodyFromCtx instead of reading r.Body, which Authenticate
// has already drained in order to verify the signature.
func RequireAuth(authr *authn.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, body, err := authr.Authenticate(r.Context(), r)
			if err != nil {
				logAuthFailure(logger, r, err)
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyIdentity, id)
			ctx = context.WithValue(ctx, contextKeyBody, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func logAuthFailure(logger *zap.Logger, r *http.Request, err error) {
	logger.Warn("authn: request rejected",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authn.ErrIPNotAllowed):
		errJSON(w, http.StatusUnauthorized, "Client IP not allowed", "unauthorized")
	case errors.Is(err, authn.ErrInvalidIP):
		errJSON(w, http.StatusUnauthorized, "Invalid client IP", "unauthorized")
	case errors.Is(err, authn.ErrUnknownIdentity):
		errJSON(w, http.StatusUnauthorized, "Unknown identity", "unauthorized")
	case errors.Is(err, authn.ErrBadSignature):
		errJSON(w, http.StatusUnauthorized, "Invalid signature", "unauthorized")
	case errors.Is(err, authn.ErrMissingHeaders):
		ErrUnauthorized(w)
	case errors.Is(err, authn.ErrPartialHeaders):
		errJSON(w, http.StatusUnauthorized, "Incomplete authentication headers", "unauthorized")
	default:
		ErrUnauthorized(w)
	}
}

// RequireRole returns a middleware that allows the request to proceed
// only if the authenticated identity has the given role. Must run after
// RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFromCtx(r.Context())
			if id == nil {
				ErrUnauthorized(w)
				return
			}
			if id.Role != role {
				ErrForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each
// request using the provided zap logger: method, path, status, bytes.
// Chi's middleware.RequestID is expected to run before this middleware
// so the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// MetricsMiddleware records every request's duration against the
// chi route pattern (not the raw path, to keep label cardinality
// bounded per spec.md §2's operational-surface intent), for the
// dffmpeg_coordinator_http_request_duration_seconds histogram.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// identityFromCtx retrieves the identity stored by RequireAuth. Returns
// nil on unauthenticated requests (e.g. /health).
func identityFromCtx(ctx context.Context) *authn.AuthenticatedIdentity {
	id, _ := ctx.Value(contextKeyIdentity).(*authn.AuthenticatedIdentity)
	return id
}

// bodyFromCtx retrieves the raw request body RequireAuth already
// consumed while verifying the signature.
func bodyFromCtx(ctx context.Context) []byte {
	b, _ := ctx.Value(contextKeyBody).([]byte)
	return b
}
