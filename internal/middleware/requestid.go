package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"querydesk/internal/domain"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// validRequestID bounds caller-supplied ids so they are safe to log.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type requestIDKey struct{}

// RequestID assigns each request an id, reusing a well-formed X-Request-ID
// header and otherwise generating a UUIDv7.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id, or "" outside RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AccessLog logs one line per request with its id, caller, status and
// duration. It must run inside RequestID.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			// The principal is attached by inner middleware, so capture it on the
			// way back out.
			var principal string
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), principalSinkKey{}, &principal)))

			logger.LogAttrs(r.Context(), levelForStatus(ww.Status()), "http request",
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("principal", principal),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type principalSinkKey struct{}

// recordPrincipal reports the authenticated caller to an enclosing AccessLog.
func recordPrincipal(ctx context.Context, name string) {
	if sink, ok := ctx.Value(principalSinkKey{}).(*string); ok {
		*sink = name
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// principalName is the AccessLog label for a resolved caller.
func principalName(p domain.ContextPrincipal) string {
	if p.Type == domain.PrincipalTypeService {
		return "key:" + p.Name
	}
	return p.Name
}
