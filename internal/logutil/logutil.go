// Package logutil configures the process-wide pingcap/log + zap logger.
package logutil

import (
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Init configures the global logger at the given level ("debug", "info",
// "warn", "error"), console-formatted for local development.
func Init(level string) error {
	cfg := &log.Config{
		Level:  level,
		Format: "text",
	}
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// ParseLevel validates level against the set pingcap/log accepts,
// defaulting to info on an empty string.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "parsing log level %q", level)
	}
	return l, nil
}
