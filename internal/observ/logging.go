package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. env "local" gets the human console
// encoder; anything else logs JSON to stdout.
func NewLogger(env string) *zap.Logger {
	var cfg zap.Config
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		// zap only fails on a bad output path; the defaults above have none.
		return zap.NewNop()
	}
	return logger
}
