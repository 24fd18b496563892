package config

import "time"

const (
	// Remote Defaults
	DefaultRemoteBaseURL            = "https://kais.cadastre.bg"
	DefaultRemoteOpenDataPath       = "/bg/OpenData"
	DefaultRemoteReadPath           = "/bg/OpenData/Read"
	DefaultRemoteDownloadPath       = "/bg/OpenData/Download"
	DefaultRemoteTokenField         = "__RequestVerificationToken"
	DefaultRemoteAcceptLanguage     = "bg-BG"
	DefaultRemoteUserAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultRemoteRequestTimeoutSecs = 30
	DefaultRemoteRequestsPerSecond  = 2.0
	DefaultRemoteMaxRetries         = 2

	// Storage Defaults
	DefaultStorageBasePath   = "data"
	DefaultStorageDBFileName = "kais.sqlite3"
	StorageRecordFileName    = "storage.json"
	StorageConfigDirName     = "kais-monitor"

	// Scheduler Defaults
	DefaultSchedulerInterval = "1d"
	ScanIntervalSettingKey   = "scan_interval"

	// Download Defaults
	DefaultDownloadChunkSizeKB         = 64
	DefaultDownloadProgressPercentStep = 5
	DefaultDownloadProgressThresholdMB = 5
	DefaultDownloadMinFreeDiskMB       = 512
	DefaultDownloadTimeoutSecs         = 0

	// Log Defaults
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultLogFile       = ""
	DefaultMaxLogSizeMB  = 100
	DefaultMaxLogBackups = 3
)

// Environment variables consulted by the loader.
const (
	EnvStorageBase   = "KAIS_MONITOR_BASE"
	EnvConfigDir     = "KAIS_MONITOR_CONFIG_DIR"
	EnvStorageRecord = "KAIS_MONITOR_STORAGE_CONFIG"
	EnvLogLevel      = "KAIS_MONITOR_LOG_LEVEL"
	EnvConfigPath    = "KAIS_MONITOR_CONFIG_PATH"
)

// ScanIntervals maps the accepted interval keys to their durations.
var ScanIntervals = map[string]time.Duration{
	"6h": 6 * time.Hour,
	"1d": 24 * time.Hour,
	"6d": 6 * 24 * time.Hour,
}

// DefaultConsolidationCategories are the extracted directory names treated as
// layer categories, already in transliterated form.
var DefaultConsolidationCategories = []string{
	"Pozemleni imoti",
	"Sgradi",
	"Samostoyatelni obekti",
	"Kadastralni rayoni",
	"Adresi",
}
