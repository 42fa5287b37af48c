package logging

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"
	// ClientIDKey is the key used to store the session's client ID in context
	ClientIDKey contextKey = "client_id"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Pretty determines if logs should be formatted for human readability
	Pretty bool
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stdout,
	}
}

// Setup configures global logging based on the provided config
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithClientID returns a context carrying the session's client ID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// FromContext extracts a logger with request context
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.With()
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		logCtx = logCtx.Str("request_id", requestID)
	}
	if clientID, ok := ctx.Value(ClientIDKey).(string); ok {
		logCtx = logCtx.Str("client_id", clientID)
	}
	return logCtx.Logger()
}

// HTTPMiddleware tags each request with a request ID and logs method,
// path, and duration. Websocket upgrades are logged at connection
// establishment only; per-message logging lives in the session.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := WithRequestID(r.Context(), requestID)

		logger := FromContext(ctx).With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		logger.Debug().Msg("Request received")

		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Info().Dur("duration", time.Since(start)).Msg("Request completed")
	})
}
