package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// GetConfigPath determines the configuration file path.
// Priority:
// 1. the path given by the caller (command-line flag)
// 2. KAIS_MONITOR_CONFIG_PATH environment variable
// 3. config.yaml / config.yml / config.json in the current working directory
// 4. config.yaml / config.yml / config.json in the executable's directory
func GetConfigPath(configFilePathFlag string) string {
	if configFilePathFlag != "" {
		if fileExists(configFilePathFlag) {
			return configFilePathFlag
		}
	}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" && fileExists(envPath) {
		return envPath
	}

	cwd, errCwd := os.Getwd()
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
	}

	var locations []string
	if errCwd == nil {
		locations = append(locations, cwd)
	}
	if exeDir != "" && exeDir != cwd {
		locations = append(locations, exeDir)
	}

	for _, loc := range locations {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			path := filepath.Join(loc, name)
			if fileExists(path) {
				return path
			}
		}
	}
	return ""
}

// loadDotEnv loads a .env file from the working directory when present.
// Variables already set in the process environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnvOverrides(cfg *GlobalConfig) {
	if base := strings.TrimSpace(os.Getenv(EnvStorageBase)); base != "" {
		cfg.StorageConfig.BasePath = base
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.LogConfig.LogLevel = level
	}
}

// resolveStorageBase picks the storage root: an explicit value (env or config
// file) first, then the persisted storage record, then the default.
func resolveStorageBase(configured string, logger zerolog.Logger) (string, error) {
	base := configured
	if base == "" {
		record, err := LoadStorageRecord(StorageRecordPath())
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring unreadable storage record")
		} else if record != nil && record.BasePath != "" {
			base = record.BasePath
		}
	}
	if base == "" {
		base = DefaultStorageBasePath
	}
	return absPath(base)
}

// absPath expands a leading ~ and makes the path absolute.
func absPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
