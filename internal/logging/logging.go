// Package logging builds the zap loggers used across vessel-parse.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a textual log level: debug, info, warn or error.
type Level string

// Style selects the encoder.
type Style string

const (
	StyleConsole Style = "console"
	StyleJSON    Style = "json"
)

// Config describes how to build a logger.
type Config struct {
	Level Level
	Style Style
}

// NewLogger builds a logger writing to stderr. Stdout is left alone because
// the MCP stdio transport owns it.
func NewLogger(cfg *Config) *zap.Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg != nil && cfg.Level != "" {
		if l, err := zapcore.ParseLevel(string(cfg.Level)); err == nil {
			level.SetLevel(l)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg != nil && cfg.Style == StyleJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
