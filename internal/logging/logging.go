// Package logging builds the process-wide zap.Logger from
// Config.Logging and bridges it to go-logr/logr via go-logr/zapr for
// the handful of packages (the HTTP layer's request logging) written
// against logr so they don't carry a zap import of their own.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/auditeng/compliance/internal/config"
)

// New builds a *zap.Logger from cfg: JSON encoding in production,
// console encoding in development, driven by the logging.level and
// logging.format config keys.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse logging.level: %w", err)
		}
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, nil
}

// Bridge wraps a *zap.Logger as a logr.Logger, for components that
// stay library-agnostic against the logr interface.
func Bridge(zapLogger *zap.Logger) logr.Logger {
	return zapr.NewLogger(zapLogger)
}
