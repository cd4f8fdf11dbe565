// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Level string // debug, info, warn, error, fatal
	JSON  bool
}

// New returns a logger writing to w. It also becomes the package default so
// components that fall back to log.Default share the same settings.
func New(w io.Writer, cfg Config) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	formatter := log.TextFormatter
	if cfg.JSON {
		formatter = log.JSONFormatter
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	log.SetDefault(logger)
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
