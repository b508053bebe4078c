package logging

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactionConfig lists the field-key patterns that must never be logged
// verbatim.
type RedactionConfig struct {
	RedactPatterns string `env:"LOG_REDACT_PATTERNS" envDefault:"password,secret_value,secret_string,connection_string,token,private,credential_value,authorization"`
}

// DefaultRedactionConfig returns the built-in patterns.
func DefaultRedactionConfig() *RedactionConfig {
	return &RedactionConfig{
		RedactPatterns: "password,secret_value,secret_string,connection_string,token,private,credential_value,authorization",
	}
}

// ParseRedactPatterns compiles a comma separated pattern list into a single
// case-insensitive regular expression. It returns nil for an empty list.
func ParseRedactPatterns(patterns string) *regexp.Regexp {
	var regexParts []string
	for _, p := range strings.Split(patterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			regexParts = append(regexParts, regexp.QuoteMeta(p))
		}
	}
	if len(regexParts) == 0 {
		return nil
	}
	return regexp.MustCompile("(?i)(" + strings.Join(regexParts, "|") + ")")
}

var globalRedactRegex *regexp.Regexp

func init() {
	globalRedactRegex = ParseRedactPatterns(DefaultRedactionConfig().RedactPatterns)
}

// SetRedactionConfig replaces the global redaction patterns.
func SetRedactionConfig(cfg *RedactionConfig) {
	if cfg == nil {
		return
	}
	globalRedactRegex = ParseRedactPatterns(cfg.RedactPatterns)
}

const redactedValue = "***"

// RedactFields redacts sensitive fields based on configured patterns.
func RedactFields(fields ...zap.Field) []zap.Field {
	if globalRedactRegex == nil {
		return fields
	}
	redacted := make([]zap.Field, len(fields))
	for i, f := range fields {
		if globalRedactRegex.MatchString(f.Key) {
			redacted[i] = zap.String(f.Key, redactedValue)
		} else {
			redacted[i] = f
		}
	}
	return redacted
}

// Log logs through the run-scoped logger after redaction.
// Usage:
//
//	logging.Log(ctx, logger, zapcore.InfoLevel, "node provisioned", zap.String("node", id))
//	logging.Log(ctx, logger, zapcore.ErrorLevel, "apply failed", zap.Error(err))
func Log(ctx context.Context, base *zap.Logger, level zapcore.Level, message string, fields ...zap.Field) {
	logger := WithRunID(ctx, base)
	logger.Log(level, message, RedactFields(fields...)...)
}
