package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
)

// Context key for operation ID
type contextKey string

const opIDKey contextKey = "op_id"

// InitLogger initializes the structured logger with JSON output.
// Log level is controlled by LOG_LEVEL env var (debug/info/warn/error).
func InitLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", level.String())
}

// generateOpID creates a short random ID for tracing one logical wallet
// operation (connect, request, backup) across its log lines.
func generateOpID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithOpID attaches a fresh operation ID to the context.
func WithOpID(ctx context.Context) context.Context {
	return context.WithValue(ctx, opIDKey, generateOpID())
}

// OpIDFromContext extracts the operation ID from context.
func OpIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns a logger with the operation ID attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if opID := OpIDFromContext(ctx); opID != "" {
		return slog.Default().With("op_id", opID)
	}
	return slog.Default()
}
