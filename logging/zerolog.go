// Package logging adapts zerolog to registrar.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Zerolog implements registrar.Logger on top of a zerolog.Logger.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog wraps logger.
func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Pretty switches to the human readable console writer.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a zerolog logger from opts, tagged with the component name.
func New(component string, opts Options) *Zerolog {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	return NewZerolog(logger)
}

// ParseLevel maps a level name to zerolog, unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Zerolog returns the wrapped logger for structured calls.
func (z *Zerolog) Zerolog() zerolog.Logger {
	return z.logger
}

func (z *Zerolog) Debug(format string, args ...any) {
	z.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z *Zerolog) Info(format string, args ...any) {
	z.logger.Info().Msg(fmt.Sprintf(format, args...))
}

func (z *Zerolog) Warn(format string, args ...any) {
	z.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (z *Zerolog) Error(format string, args ...any) {
	z.logger.Error().Msg(fmt.Sprintf(format, args...))
}
