package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"payout/internal/config"
)

// New builds the process logger. Development mode logs colored console
// lines, everything else logs JSON to stdout.
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.OutputPaths = []string{"stdout"}
		zc.ErrorOutputPaths = []string{"stderr"}
	}

	if cfg.LoggerLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LoggerLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid logger level %q: %w", cfg.LoggerLevel, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	return zc.Build(zap.AddStacktrace(zap.DPanicLevel))
}
