package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a sugared logger named after the component. LOG_LEVEL and
// LOG_FORMAT are read from the environment.
func New(name string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Development = false
	}

	level := zap.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := level.UnmarshalText([]byte(lvl)); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return l.Named(name).Sugar(), nil
}
