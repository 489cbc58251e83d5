// Package logger configures structured logging for the service.
//
// Two handlers are used depending on the environment:
//   - dev/test: human-readable colorized output (lmittmann/tint)
//   - prod/staging: JSON output for log aggregation
//
// The package also provides per-request loggers: the RequestLogging middleware
// stores a logger carrying the request ID in the request context, and handlers
// retrieve it with ContextRequestLogger. Handlers can attach extra attributes
// to the final request log with ContextWithLogAttrs.
package logger

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
)

// LevelNone disables all log output (used by tests).
const LevelNone = slog.Level(128)

type contextKey string

const (
	requestLoggerKey contextKey = "requestLogger"
	logAttrsKey      contextKey = "logAttrs"
)

// logAttrs collects attributes added by handlers during a request so the
// middleware can include them in the final request log line.
type logAttrs struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func (l *logAttrs) add(attrs ...slog.Attr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attrs = append(l.attrs, attrs...)
}

func (l *logAttrs) snapshot() []slog.Attr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]slog.Attr(nil), l.attrs...)
}

// ParseLogLevel converts a LOG_LEVEL string to a slog.Level.
// Unrecognized values default to info.
func ParseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return LevelNone
	default:
		return slog.LevelInfo
	}
}

// InitLogger creates the application logger and installs it as the slog default.
func InitLogger(level slog.Level, environment string) *slog.Logger {
	var handler slog.Handler

	switch environment {
	case "prod", "staging":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	appLogger := slog.New(handler)
	slog.SetDefault(appLogger)
	return appLogger
}

// RequestLogging returns a middleware that stores a per-request logger in the
// request context and emits a summary log line when the request completes.
//
// Must be registered after chi's RequestID middleware so the request ID is
// available.
func RequestLogging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())
			reqLogger := base.With(slog.String("request_id", requestID))

			attrs := &logAttrs{}
			ctx := context.WithValue(r.Context(), requestLoggerKey, reqLogger)
			ctx = context.WithValue(ctx, logAttrsKey, attrs)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			}
			for _, attr := range attrs.snapshot() {
				args = append(args, attr)
			}

			reqLogger.Info("request completed", args...)
		})
	}
}

// ContextRequestLogger returns the per-request logger stored in the context,
// or the default logger if none is present (e.g. outside a request).
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if reqLogger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok {
		return reqLogger
	}
	return slog.Default()
}

// ContextWithLogAttrs attaches attributes to the final request log line.
// Safe to call from handlers and middleware; a no-op outside a request.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	if collected, ok := ctx.Value(logAttrsKey).(*logAttrs); ok {
		collected.add(attrs...)
	}
}
