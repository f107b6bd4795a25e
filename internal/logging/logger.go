// Package logging builds the structured diagnostic logger used by nicd.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LevelEnv overrides the configured log level when set.
const LevelEnv = "NICD_LOG_LEVEL"

// New creates a zerolog.Logger writing JSON lines to w. Unknown levels fall
// back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if env := os.Getenv(LevelEnv); env != "" {
		level = env
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", "nicd").
		Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return logger.Level(lvl)
}

// Console returns a human-readable logger for interactive commands.
func Console(w io.Writer, level string) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}, level)
}
