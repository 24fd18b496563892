// Package logger builds the process-wide zerolog logger.
package logger

import (
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/rs/zerolog"
)

// New creates the root logger from the log section of the configuration.
func New(cfg config.LogConfig) (zerolog.Logger, error) {
	return NewLoggerBuilder().WithConfig(cfg).Build()
}
