package config

import "strings"

// LogConfig controls the root logger. Console output goes to stderr; a
// non-empty LogFile adds a rotating file next to it.
type LogConfig struct {
	LogLevel      string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,loglevel"`
	LogFormat     string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,logformat"`
	NoColor       bool   `json:"no_color,omitempty" yaml:"no_color,omitempty"`
	LogFile       string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	MaxLogSizeMB  int    `json:"max_log_size_mb,omitempty" yaml:"max_log_size_mb,omitempty" validate:"gte=0"`
	MaxLogBackups int    `json:"max_log_backups,omitempty" yaml:"max_log_backups,omitempty" validate:"gte=0"`
	CompressLogs  bool   `json:"compress_logs,omitempty" yaml:"compress_logs,omitempty"`
}

func NewDefaultLogConfig() LogConfig {
	return LogConfig{
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		LogFile:       DefaultLogFile,
		MaxLogSizeMB:  DefaultMaxLogSizeMB,
		MaxLogBackups: DefaultMaxLogBackups,
	}
}

// FileEnabled reports whether rotated file output is configured.
func (c LogConfig) FileEnabled() bool {
	return strings.TrimSpace(c.LogFile) != ""
}
