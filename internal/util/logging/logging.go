package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New creates a new zerolog.Logger writing JSON to the given writer.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// NewConsole creates a human-readable logger for CLI use. Verbose lowers
// the level to debug; otherwise only warnings and above are shown.
func NewConsole(w io.Writer, verbose bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, PartsExclude: []string{zerolog.TimestampFieldName}}
	return zerolog.New(out).Level(level)
}
