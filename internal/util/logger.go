package util

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and span
const ServiceName = "payment-service"

var logger *zap.Logger

// LoggerConfig selects the encoder and level of the global logger
type LoggerConfig struct {
	Env   string
	Level string
}

// InitLogger initializes the global logger. Production logs are JSON with
// ISO8601 timestamps; everything else gets the colored console encoder.
func InitLogger(cfg LoggerConfig) error {
	var config zap.Config

	if cfg.Env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.InitialFields = map[string]interface{}{
		"service": ServiceName,
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	built, err := config.Build()
	if err != nil {
		return err
	}
	logger = built

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
