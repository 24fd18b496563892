package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// WriterStrategy wraps a raw output in the encoding of one log format
type WriterStrategy interface {
	CreateWriter(out io.Writer) io.Writer
}

// JSONWriterStrategy writes zerolog's native JSON lines
type JSONWriterStrategy struct{}

func (JSONWriterStrategy) CreateWriter(out io.Writer) io.Writer {
	return out
}

// ConsoleWriterStrategy writes human readable, optionally colored lines
type ConsoleWriterStrategy struct {
	NoColor bool
}

func (s ConsoleWriterStrategy) CreateWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, NoColor: s.NoColor, TimeFormat: time.RFC3339}
}

// TextWriterStrategy is the console layout without colors
type TextWriterStrategy struct{}

func (TextWriterStrategy) CreateWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}
}

func strategyFor(format LogFormat, noColor bool) WriterStrategy {
	switch format {
	case FormatJSON:
		return JSONWriterStrategy{}
	case FormatText:
		return TextWriterStrategy{}
	default:
		return ConsoleWriterStrategy{NoColor: noColor}
	}
}

// newConsoleWriter writes to stderr so stdout stays free for command output.
func newConsoleWriter(opts Options) io.Writer {
	return strategyFor(opts.Format, opts.NoColor).CreateWriter(os.Stderr)
}

// newFileWriter creates a rotating file writer. Files never get colors.
func newFileWriter(opts Options) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.Rotation.MaxSizeMB,
		MaxBackups: opts.Rotation.MaxBackups,
		Compress:   opts.Rotation.Compress,
		LocalTime:  true,
	}
	return strategyFor(opts.Format, true).CreateWriter(rotating), nil
}
