package config

import (
	"io"

	"github.com/charmbracelet/log"
)

// NewLogger builds the process logger. Any verbosity raises the level to
// debug; two or more also report timestamps and callers.
func (c LoggingConfig) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if c.Verbosity > 0 {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          "zipenv",
		Level:           level,
		ReportTimestamp: c.Verbosity > 1,
		ReportCaller:    c.Verbosity > 1,
	})
}
