package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StorageRecord is the persisted choice of storage root, kept outside the
// storage root itself so it survives relocation.
type StorageRecord struct {
	BasePath string `json:"base_path"`
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if override := os.Getenv(EnvConfigDir); override != "" {
		if expanded, err := absPath(override); err == nil {
			return expanded
		}
		return override
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, StorageConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", StorageConfigDirName)
}

// StorageRecordPath returns the location of storage.json.
func StorageRecordPath() string {
	if override := os.Getenv(EnvStorageRecord); override != "" {
		if expanded, err := absPath(override); err == nil {
			return expanded
		}
		return override
	}
	return filepath.Join(ConfigDir(), StorageRecordFileName)
}

// LoadStorageRecord reads the storage record. A missing file yields nil
// without error.
func LoadStorageRecord(path string) (*StorageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, WrapError(err, "failed to read storage record")
	}
	var record StorageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, WrapError(err, "failed to parse storage record")
	}
	return &record, nil
}

// SaveStorageRecord persists basePath as the storage root for future runs.
func SaveStorageRecord(path, basePath string) error {
	abs, err := absPath(basePath)
	if err != nil {
		return WrapError(err, "failed to resolve storage path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError(err, "failed to create config directory")
	}
	data, err := json.MarshalIndent(StorageRecord{BasePath: abs}, "", "  ")
	if err != nil {
		return WrapError(err, "failed to encode storage record")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return WrapError(err, "failed to write storage record")
	}
	return os.Rename(tmp, path)
}

// RelocateStorage moves the storage directory from source to destination and
// returns the absolute destination. The destination must be absolute, must
// not lie inside the source, and must be empty if it already exists.
func RelocateStorage(source, destination string) (string, error) {
	if !filepath.IsAbs(destination) {
		return "", NewValidationError("destination", destination, "storage path must be an absolute path")
	}
	src, err := absPath(source)
	if err != nil {
		return "", WrapError(err, "failed to resolve source path")
	}
	dest := filepath.Clean(destination)

	if src == dest {
		return dest, os.MkdirAll(dest, 0o755)
	}

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return dest, os.MkdirAll(dest, 0o755)
	}

	if strings.HasPrefix(dest, src+string(filepath.Separator)) {
		return "", NewValidationError("destination", destination, "destination cannot be within the current storage directory")
	}

	if entries, err := os.ReadDir(dest); err == nil {
		if len(entries) > 0 {
			return "", NewValidationError("destination", destination, "destination directory must be empty to adopt storage")
		}
		if err := os.Remove(dest); err != nil {
			return "", WrapError(err, "failed to prepare destination")
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", WrapError(err, "failed to create destination parent")
	}
	if err := os.Rename(src, dest); err != nil {
		return "", WrapError(err, "failed to move storage directory")
	}
	return dest, nil
}
