package config

import "path/filepath"

// StorageConfig defines where the database and downloaded artifacts live
type StorageConfig struct {
	BasePath   string `json:"base_path,omitempty" yaml:"base_path,omitempty"`
	DBFileName string `json:"db_file_name,omitempty" yaml:"db_file_name,omitempty" validate:"required"`
}

// NewDefaultStorageConfig creates default storage configuration. BasePath is
// left empty so the loader can fall back to the persisted storage record.
func NewDefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DBFileName: DefaultStorageDBFileName,
	}
}

// DBPath returns the SQLite file location.
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.BasePath, s.DBFileName)
}

// DownloadsDir is the root under which every item gets its own directory.
func (s StorageConfig) DownloadsDir() string {
	return filepath.Join(s.BasePath, "downloads")
}

// CanonicalDir holds the flat per-category blob folders.
func (s StorageConfig) CanonicalDir() string {
	return filepath.Join(s.BasePath, "canonical")
}

// MergedDir holds one merged shapefile set per category.
func (s StorageConfig) MergedDir() string {
	return filepath.Join(s.BasePath, "merged")
}
