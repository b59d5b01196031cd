// Package logger builds the logrus logger shared by medvol components.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// Format types for logging.
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds logger configuration.
type Config struct {
	Writer io.Writer
	Format string
	Level  string
}

// New creates a new logger with the given configuration.
func New(cfg Config) (*log.Logger, error) {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := log.New()
	l.SetOutput(cfg.Writer)
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		l.SetFormatter(&log.JSONFormatter{})
	case FormatText, "":
		l.SetFormatter(&log.TextFormatter{
			DisableTimestamp: true,
			DisableQuote:     true,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return l, nil
}

// ParseLevel converts a level name to a logrus level. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return log.InfoLevel, nil
	case "warning":
		return log.WarnLevel, nil
	}
	level, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

// Discard returns a logger that drops every entry.
func Discard() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
