// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log level, format and an optional rotated file.
type Options struct {
	Level string // debug, info, warn, error
	Dev   bool   // human-readable console output
	File  string // also write JSON lines here, rotated by size
}

// New builds a logger writing to stdout and, when opts.File is set, to a
// lumberjack-rotated file.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stdout
	if opts.Dev {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if opts.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
