package config

// DownloadConfig tunes archive streaming and progress reporting
type DownloadConfig struct {
	ChunkSizeKB         int `json:"chunk_size_kb,omitempty" yaml:"chunk_size_kb,omitempty" validate:"min=1"`
	ProgressPercentStep int `json:"progress_percent_step,omitempty" yaml:"progress_percent_step,omitempty" validate:"min=1,max=100"`
	ProgressThresholdMB int `json:"progress_threshold_mb,omitempty" yaml:"progress_threshold_mb,omitempty" validate:"min=1"`
	MinFreeDiskMB       int `json:"min_free_disk_mb" yaml:"min_free_disk_mb" validate:"min=0"`
	TimeoutSecs         int `json:"timeout_secs" yaml:"timeout_secs" validate:"min=0"`
}

// NewDefaultDownloadConfig creates default download configuration
func NewDefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		ChunkSizeKB:         DefaultDownloadChunkSizeKB,
		ProgressPercentStep: DefaultDownloadProgressPercentStep,
		ProgressThresholdMB: DefaultDownloadProgressThresholdMB,
		MinFreeDiskMB:       DefaultDownloadMinFreeDiskMB,
		TimeoutSecs:         DefaultDownloadTimeoutSecs,
	}
}

// ConsolidationConfig lists the directory names recognized as layer categories
type ConsolidationConfig struct {
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty" validate:"dive,required"`
}

// NewDefaultConsolidationConfig creates default consolidation configuration
func NewDefaultConsolidationConfig() ConsolidationConfig {
	categories := make([]string, len(DefaultConsolidationCategories))
	copy(categories, DefaultConsolidationCategories)
	return ConsolidationConfig{Categories: categories}
}

// MetricsConfig controls the Prometheus endpoint exposed by serve
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
}
