// Package logger wraps zerolog for the CLI and pipeline.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format is "json" (default) or "console".
	Format string
	Output io.Writer
}

// Logger is a leveled, structured logger. The printf-style methods match the
// pipeline's Logger interface.
type Logger struct {
	base zerolog.Logger
}

type ctxKey struct{}

// New builds a logger writing to opts.Output (stderr by default).
func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	var output io.Writer = opts.Output
	if output == nil {
		output = os.Stderr
	}
	if strings.EqualFold(opts.Format, "console") {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.
		New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)

	return &Logger{base: base}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// WithField returns a child logger carrying key=value on every entry.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{base: l.base.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger carrying all fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	builder := l.base.With()
	for k, v := range fields {
		builder = builder.Interface(k, v)
	}
	return &Logger{base: builder.Logger()}
}

// IntoContext attaches the logger to ctx.
func (l *Logger) IntoContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
			return l
		}
	}
	return Nop()
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.base.Debug().Msgf(msg, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.base.Info().Msgf(msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.base.Warn().Msgf(msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.base.Error().Msgf(msg, args...)
}

// Err logs err at error level with msg.
func (l *Logger) Err(err error, msg string) {
	l.base.Error().Err(err).Msg(msg)
}

// Zerolog exposes the underlying logger for callers that need events.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.base
}
