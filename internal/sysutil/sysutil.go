// Package sysutil holds process-level helpers shared by the vault binary:
// log level parsing, logger construction and small env-string helpers.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog level.
// Supported values (case-insensitive): debug, info, warn/warning, error,
// fatal, panic. Empty and unknown values map to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel configures the global zerolog level based on a string value.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// Writer returns the console sink for log lines. pretty selects the human
// format (colors off when LOG_NO_COLOR is truthy); otherwise lines stay JSON.
// A nil w means stderr.
func Writer(w io.Writer, pretty bool) io.Writer {
	if w == nil {
		w = os.Stderr
	}
	if !pretty {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    IsTruthy(os.Getenv("LOG_NO_COLOR")),
	}
}

// NewLogger builds a timestamped logger over Writer(w, pretty).
func NewLogger(w io.Writer, pretty bool) zerolog.Logger {
	return zerolog.New(Writer(w, pretty)).With().Timestamp().Logger()
}

// IsTruthy reports whether an environment variable string should be considered true.
// Accepted values (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first non-blank string from a variadic list.
// If all values are blank, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
