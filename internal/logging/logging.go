// Package logging configures the application-wide zerolog logger and maps
// the CLI's four verbosity levels (error, warning, info, debug) onto it.
package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var log atomic.Pointer[zerolog.Logger]

// Level mirrors the reference source's LogLevel enum (log.h), ordered from
// least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

// ToZerolog maps a Level onto the equivalent zerolog.Level, exported so
// callers outside this package (e.g. internal/config) can report the
// configured level without duplicating the mapping.
func (l Level) ToZerolog() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.WarnLevel
	}
}

// ParseLevel maps the CLI's -v suffix (e, w, i, d) onto a Level. An empty
// suffix means the default, warning.
func ParseLevel(suffix string) (Level, bool) {
	switch suffix {
	case "", "w":
		return LevelWarning, true
	case "e":
		return LevelError, true
	case "i":
		return LevelInfo, true
	case "d":
		return LevelDebug, true
	default:
		return LevelWarning, false
	}
}

// Init sets up the global zerolog logger. When w is nil, output goes to
// stderr through a human-readable console writer (matching the reference's
// default of logging to stderr); any other writer is used as-is, one JSON
// object per line, matching a log file opened for append.
func Init(level Level, w io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(level.ToZerolog())
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	log.Store(&logger)
	return logger
}

// For mirrors the reference's per-file LOG_COMPONENT_NAME convention: every
// package asks for its own named sub-logger instead of writing through a
// single anonymous logger.
func For(component string) zerolog.Logger {
	return Default().With().Str("component", component).Logger()
}

// Default returns the process-wide logger configured by Init, or a
// warning-level stderr logger if Init was never called (useful in tests).
func Default() zerolog.Logger {
	if l := log.Load(); l != nil {
		return *l
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}
