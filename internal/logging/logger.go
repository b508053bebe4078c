package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type runIDKeyType struct{}

var runIDKey = runIDKeyType{}

// level is shared by every logger created through NewLogger.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Component loggers.
var (
	PlanLog   = NewLogger("plan")
	EngineLog = NewLogger("engine")
	DeployLog = NewLogger("deploy")
)

// NewLogger creates a named zap production logger whose level follows
// SetLevel. Production loggers write JSON to stderr, which keeps stdout free
// for command output.
func NewLogger(name string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named(name)
}

// SetLevel changes the level of every logger created by NewLogger.
func SetLevel(l string) {
	level.SetLevel(ParseLevel(l))
}

// NewWriterLogger creates a named JSON logger writing to w at the shared
// level.
func NewWriterLogger(name string, w io.Writer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core).Named(name)
}

// ParseLevel maps debug/info/warn/error to a zap level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewRunID returns a short random identifier for one plan evaluation.
func NewRunID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// WithRunID returns a logger with run_id from context.
func WithRunID(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if runID := GetRunID(ctx); runID != "" {
		return logger.With(zap.String("run_id", runID))
	}
	return logger
}

// SetRunID stores run_id in context (call once per command).
func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves run_id from context.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}
