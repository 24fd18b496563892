package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points every lookup the loader performs at a temp dir.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvStorageBase, "")
	t.Setenv(EnvConfigDir, filepath.Join(dir, "cfg"))
	t.Setenv(EnvStorageRecord, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvConfigPath, "")
	t.Chdir(dir)
	return dir
}

func TestNewDefaultGlobalConfig(t *testing.T) {
	cfg := NewDefaultGlobalConfig()

	assert.Equal(t, DefaultRemoteBaseURL, cfg.RemoteConfig.BaseURL)
	assert.Equal(t, "1d", cfg.SchedulerConfig.DefaultInterval)
	assert.Equal(t, DefaultConsolidationCategories, cfg.ConsolidationConfig.Categories)
	assert.Empty(t, cfg.StorageConfig.BasePath)
	require.NoError(t, ValidateConfig(cfg))
}

func TestLoadGlobalConfig_NoConfigFile(t *testing.T) {
	dir := isolateEnv(t)

	cfg, err := LoadGlobalConfig("", zerolog.Nop())

	require.NoError(t, err)
	want, _ := filepath.Abs(filepath.Join(dir, DefaultStorageBasePath))
	assert.Equal(t, want, cfg.StorageConfig.BasePath)
}

func TestLoadGlobalConfig_NonExistentFile(t *testing.T) {
	isolateEnv(t)

	cfg, err := LoadGlobalConfig("/nonexistent/config.json", zerolog.Nop())

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestLoadGlobalConfig_YAMLFile(t *testing.T) {
	dir := isolateEnv(t)
	configFile := filepath.Join(dir, "kais.yaml")
	storage := filepath.Join(dir, "store")
	content := "remote:\n  requests_per_second: 5\nstorage:\n  base_path: " + storage +
		"\nscheduler:\n  default_interval: 6h\nlog:\n  log_level: debug\n"
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := LoadGlobalConfig(configFile, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.RemoteConfig.RequestsPerSecond)
	assert.Equal(t, DefaultRemoteReadPath, cfg.RemoteConfig.ReadPath)
	assert.Equal(t, storage, cfg.StorageConfig.BasePath)
	assert.Equal(t, "6h", cfg.SchedulerConfig.DefaultInterval)
	assert.Equal(t, "debug", cfg.LogConfig.LogLevel)
}

func TestLoadGlobalConfig_JSONFile(t *testing.T) {
	dir := isolateEnv(t)
	configFile := filepath.Join(dir, "kais.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{"download": {"chunk_size_kb": 128, "min_free_disk_mb": 0}}`), 0o644))

	cfg, err := LoadGlobalConfig(configFile, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 128, cfg.DownloadConfig.ChunkSizeKB)
	assert.Equal(t, 0, cfg.DownloadConfig.MinFreeDiskMB)
}

func TestLoadGlobalConfig_EnvOverridesFile(t *testing.T) {
	dir := isolateEnv(t)
	configFile := filepath.Join(dir, "kais.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("storage:\n  base_path: /from/file\n"), 0o644))
	envBase := filepath.Join(dir, "from-env")
	t.Setenv(EnvStorageBase, envBase)

	cfg, err := LoadGlobalConfig(configFile, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, envBase, cfg.StorageConfig.BasePath)
}

func TestLoadGlobalConfig_DotEnv(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.Unsetenv(EnvLogLevel))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvLogLevel+"=warn\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv(EnvLogLevel) })

	cfg, err := LoadGlobalConfig("", zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogConfig.LogLevel)
}

func TestLoadGlobalConfig_StorageRecordFallback(t *testing.T) {
	dir := isolateEnv(t)
	recorded := filepath.Join(dir, "recorded")
	require.NoError(t, SaveStorageRecord(StorageRecordPath(), recorded))

	cfg, err := LoadGlobalConfig("", zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, recorded, cfg.StorageConfig.BasePath)
}

func TestStorageRecord_MissingFile(t *testing.T) {
	record, err := LoadStorageRecord(filepath.Join(t.TempDir(), "absent.json"))

	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRelocateStorage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "downloads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, DefaultStorageDBFileName), []byte("db"), 0o644))

	t.Run("rejects relative destination", func(t *testing.T) {
		_, err := RelocateStorage(src, "relative/path")
		require.Error(t, err)
	})

	t.Run("rejects nested destination", func(t *testing.T) {
		_, err := RelocateStorage(src, filepath.Join(src, "inner"))
		require.Error(t, err)
	})

	t.Run("moves the tree", func(t *testing.T) {
		dest := filepath.Join(dir, "new")
		got, err := RelocateStorage(src, dest)
		require.NoError(t, err)
		assert.Equal(t, dest, got)
		assert.FileExists(t, filepath.Join(dest, DefaultStorageDBFileName))
		assert.DirExists(t, filepath.Join(dest, "downloads"))
		assert.NoDirExists(t, src)
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *GlobalConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(cfg *GlobalConfig) {}},
		{name: "unknown interval", mutate: func(cfg *GlobalConfig) { cfg.SchedulerConfig.DefaultInterval = "2d" }, wantErr: true},
		{name: "bad log level", mutate: func(cfg *GlobalConfig) { cfg.LogConfig.LogLevel = "loud" }, wantErr: true},
		{name: "bad base url", mutate: func(cfg *GlobalConfig) { cfg.RemoteConfig.BaseURL = "not a url" }, wantErr: true},
		{name: "read path without slash", mutate: func(cfg *GlobalConfig) { cfg.RemoteConfig.ReadPath = "Read" }, wantErr: true},
		{name: "metrics address", mutate: func(cfg *GlobalConfig) { cfg.MetricsConfig.ListenAddr = "127.0.0.1:9100" }},
		{name: "negative log size", mutate: func(cfg *GlobalConfig) { cfg.LogConfig.MaxLogSizeMB = -1 }, wantErr: true},
		{name: "negative log backups", mutate: func(cfg *GlobalConfig) { cfg.LogConfig.MaxLogBackups = -2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultGlobalConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogConfig_FileEnabled(t *testing.T) {
	cfg := NewDefaultLogConfig()
	assert.False(t, cfg.FileEnabled())

	cfg.LogFile = "   "
	assert.False(t, cfg.FileEnabled())

	cfg.LogFile = "/var/log/kais.log"
	assert.True(t, cfg.FileEnabled())
}

func TestScanInterval(t *testing.T) {
	d, ok := ScanInterval("6d")
	assert.True(t, ok)
	assert.Equal(t, "144h0m0s", d.String())

	_, ok = ScanInterval("weekly")
	assert.False(t, ok)
}
