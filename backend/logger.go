package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the service logger. JSON output is meant for log
// shippers; the console encoder is for local runs. Every entry carries the
// service name so logs from the API and the CLI can be told apart.
func newLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.NameKey = "logger"
	zc.InitialFields = map[string]any{"service": app}

	if !cfg.JSON {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if cfg.Debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zc.Development = true
	}
	return zc.Build()
}
