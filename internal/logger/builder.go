package logger

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/rs/zerolog"
)

// LoggerBuilder provides fluent interface for building loggers
type LoggerBuilder struct {
	opts  Options
	extra []io.Writer
	err   error
}

// NewLoggerBuilder creates a new logger builder
func NewLoggerBuilder() *LoggerBuilder {
	return &LoggerBuilder{opts: defaultOptions()}
}

// WithConfig sets the logger configuration
func (lb *LoggerBuilder) WithConfig(cfg config.LogConfig) *LoggerBuilder {
	opts, err := ConvertConfig(cfg)
	lb.opts = opts
	lb.err = err
	return lb
}

// WithConsole toggles the stderr writer.
func (lb *LoggerBuilder) WithConsole(enabled bool) *LoggerBuilder {
	lb.opts.Console = enabled
	return lb
}

// WithWriter adds an extra output, used by tests to capture log lines.
func (lb *LoggerBuilder) WithWriter(w io.Writer) *LoggerBuilder {
	lb.extra = append(lb.extra, w)
	return lb
}

// Build creates the logger instance
func (lb *LoggerBuilder) Build() (zerolog.Logger, error) {
	if lb.err != nil {
		return zerolog.Logger{}, lb.err
	}
	var writers []io.Writer
	if lb.opts.Console {
		writers = append(writers, newConsoleWriter(lb.opts))
	}
	if lb.opts.File != "" {
		fileWriter, err := newFileWriter(lb.opts)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %q: %w", lb.opts.File, err)
		}
		writers = append(writers, fileWriter)
	}
	writers = append(writers, lb.extra...)
	if len(writers) == 0 {
		return zerolog.Logger{}, errors.New("no output writers configured")
	}

	instance := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lb.opts.Level).
		With().
		Timestamp().
		Logger()

	stdlog.SetOutput(instance)
	stdlog.SetFlags(0)

	return instance, nil
}
