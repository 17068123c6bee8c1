package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON production logger. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// NewService is New with a constant "service" field attached.
func NewService(service, level string) (*zap.Logger, error) {
	log, err := New(level)
	if err != nil {
		return nil, err
	}
	if service = strings.TrimSpace(service); service != "" {
		log = log.With(zap.String("service", service))
	}
	return log, nil
}

func ParseLevel(level string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
