package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const maxConfigFileSize = 10 * 1024 * 1024

// GlobalConfig contains all configuration sections for the application
type GlobalConfig struct {
	RemoteConfig        RemoteConfig        `json:"remote,omitempty" yaml:"remote,omitempty"`
	StorageConfig       StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`
	SchedulerConfig     SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	DownloadConfig      DownloadConfig      `json:"download,omitempty" yaml:"download,omitempty"`
	ConsolidationConfig ConsolidationConfig `json:"consolidation,omitempty" yaml:"consolidation,omitempty"`
	LogConfig           LogConfig           `json:"log,omitempty" yaml:"log,omitempty"`
	MetricsConfig       MetricsConfig       `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// NewDefaultGlobalConfig creates a new GlobalConfig with default values
func NewDefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		RemoteConfig:        NewDefaultRemoteConfig(),
		StorageConfig:       NewDefaultStorageConfig(),
		SchedulerConfig:     NewDefaultSchedulerConfig(),
		DownloadConfig:      NewDefaultDownloadConfig(),
		ConsolidationConfig: NewDefaultConsolidationConfig(),
		LogConfig:           NewDefaultLogConfig(),
	}
}

// LoadGlobalConfig builds the effective configuration: defaults, then the
// config file (YAML when the extension is .yaml or .yml, JSON otherwise), then
// .env and process environment overrides, then storage root resolution.
func LoadGlobalConfig(providedPath string, logger zerolog.Logger) (*GlobalConfig, error) {
	cfg := NewDefaultGlobalConfig()

	if err := loadDotEnv(); err != nil {
		logger.Warn().Err(err).Msg("Could not load .env file")
	}

	if providedPath != "" && !fileExists(providedPath) {
		return nil, NewValidationError("config_file", providedPath, "config file does not exist")
	}

	filePath := GetConfigPath(providedPath)
	if filePath != "" {
		data, err := loadConfigFileContent(filePath)
		if err != nil {
			return nil, WrapError(err, "failed to load config file content")
		}
		if err := parseConfigContent(data, filePath, cfg); err != nil {
			return nil, WrapError(err, "failed to parse config content")
		}
		logger.Debug().Str("path", filePath).Msg("Configuration file loaded")
	}

	applyEnvOverrides(cfg)

	basePath, err := resolveStorageBase(cfg.StorageConfig.BasePath, logger)
	if err != nil {
		return nil, WrapError(err, "failed to resolve storage base path")
	}
	cfg.StorageConfig.BasePath = basePath

	return cfg, nil
}

func loadConfigFileContent(filePath string) ([]byte, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, NewValidationError("config_file", filePath, "config file exceeds 10MB")
	}
	return os.ReadFile(filePath)
}

// parseConfigContent parses the config content based on file extension
func parseConfigContent(data []byte, filePath string, cfg *GlobalConfig) error {
	if isYAMLFile(filepath.Ext(filePath)) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return WrapError(err, "failed to unmarshal YAML from '"+filePath+"'")
		}
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return WrapError(err, "failed to unmarshal JSON from '"+filePath+"'")
	}
	return nil
}

func isYAMLFile(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".yaml" || ext == ".yml"
}

// ScanInterval returns the duration of a configured interval key and whether
// the key is known.
func ScanInterval(key string) (interval time.Duration, ok bool) {
	interval, ok = ScanIntervals[key]
	return interval, ok
}
