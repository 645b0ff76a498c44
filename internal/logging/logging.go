package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and the encoder of the process logger.
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// New builds a zap logger writing to stderr. Level is one of debug, info,
// warn or error; Format is json or console.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(orDefault(cfg.Level, "info"))))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	format := strings.ToLower(strings.TrimSpace(orDefault(cfg.Format, "json")))
	if format != "json" && format != "console" {
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = format
	zc.EncoderConfig = encoderCfg
	zc.DisableStacktrace = level > zapcore.DebugLevel
	if format == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}
	return logger, nil
}

// Redact keeps the first four characters of a secret so operators can tell
// keys apart in logs.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "[REDACTED]"
	}
	return secret[:4] + "...[REDACTED]"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
