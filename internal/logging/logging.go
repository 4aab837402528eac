// Package logging builds the zerolog logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps LOG_LEVEL spellings onto zerolog levels. Unknown values
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	}
	return zerolog.InfoLevel
}

// New returns a console logger with timestamps and callers and installs it
// as the global logger used by the HTTP adapters.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(ParseLevel(level)).
		With().Timestamp().Caller().Logger()
	log.Logger = l
	return l
}
