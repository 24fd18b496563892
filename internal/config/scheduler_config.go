package config

// SchedulerConfig defines configuration for the periodic scan driver
type SchedulerConfig struct {
	DefaultInterval string `json:"default_interval,omitempty" yaml:"default_interval,omitempty" validate:"required,intervalkey"`
	ScanOnStart     bool   `json:"scan_on_start" yaml:"scan_on_start"`
}

// NewDefaultSchedulerConfig creates default scheduler configuration
func NewDefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultInterval: DefaultSchedulerInterval,
	}
}
