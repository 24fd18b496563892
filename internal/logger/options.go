package logger

import (
	"strings"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/rs/zerolog"
)

// LogFormat selects the line encoding.
type LogFormat int

const (
	FormatConsole LogFormat = iota
	FormatJSON
	FormatText
)

func (lf LogFormat) String() string {
	switch lf {
	case FormatJSON:
		return "json"
	case FormatText:
		return "text"
	default:
		return "console"
	}
}

// Options is config.LogConfig resolved into writer settings.
type Options struct {
	Level    zerolog.Level
	Format   LogFormat
	NoColor  bool
	Console  bool
	File     string
	Rotation Rotation
}

// Rotation configures the lumberjack file writer.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

func defaultOptions() Options {
	return Options{
		Level:   zerolog.InfoLevel,
		Format:  FormatConsole,
		Console: true,
		Rotation: Rotation{
			MaxSizeMB:  config.DefaultMaxLogSizeMB,
			MaxBackups: config.DefaultMaxLogBackups,
		},
	}
}

// ConvertConfig resolves cfg. The returned options are usable even when the
// level is invalid; the error reports it.
func ConvertConfig(cfg config.LogConfig) (Options, error) {
	level, err := ParseLevel(cfg.LogLevel)

	out := defaultOptions()
	out.Level = level
	out.Format = ParseFormat(cfg.LogFormat)
	out.NoColor = cfg.NoColor
	if cfg.FileEnabled() {
		out.File = strings.TrimSpace(cfg.LogFile)
	}
	if cfg.MaxLogSizeMB > 0 {
		out.Rotation.MaxSizeMB = cfg.MaxLogSizeMB
	}
	if cfg.MaxLogBackups > 0 {
		out.Rotation.MaxBackups = cfg.MaxLogBackups
	}
	out.Rotation.Compress = cfg.CompressLogs
	return out, err
}
