package downloader

import (
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/httpclient"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/rs/zerolog"
)

// DownloaderBuilder provides a fluent interface for creating a Downloader
type DownloaderBuilder struct {
	client       *httpclient.HTTPClient
	store        Store
	storage      config.StorageConfig
	cfg          config.DownloadConfig
	consolidator Consolidator
	merger       Merger
	metrics      *metrics.Metrics
	now          func() time.Time
	logger       zerolog.Logger
}

// NewDownloaderBuilder creates a new builder
func NewDownloaderBuilder(logger zerolog.Logger) *DownloaderBuilder {
	return &DownloaderBuilder{
		cfg:    config.NewDefaultDownloadConfig(),
		logger: logger.With().Str("component", "Downloader").Logger(),
	}
}

// WithClient sets the HTTP client used for streaming
func (b *DownloaderBuilder) WithClient(client *httpclient.HTTPClient) *DownloaderBuilder {
	b.client = client
	return b
}

// WithStore sets the item and download store
func (b *DownloaderBuilder) WithStore(store Store) *DownloaderBuilder {
	b.store = store
	return b
}

// WithStorage sets the storage layout
func (b *DownloaderBuilder) WithStorage(storage config.StorageConfig) *DownloaderBuilder {
	b.storage = storage
	return b
}

// WithConfig sets streaming and progress options
func (b *DownloaderBuilder) WithConfig(cfg config.DownloadConfig) *DownloaderBuilder {
	b.cfg = cfg
	return b
}

// WithConsolidator sets the blob consolidation hook
func (b *DownloaderBuilder) WithConsolidator(c Consolidator) *DownloaderBuilder {
	b.consolidator = c
	return b
}

// WithMerger sets the shapefile merge hook
func (b *DownloaderBuilder) WithMerger(m Merger) *DownloaderBuilder {
	b.merger = m
	return b
}

// WithMetrics sets the metrics sink
func (b *DownloaderBuilder) WithMetrics(m *metrics.Metrics) *DownloaderBuilder {
	b.metrics = m
	return b
}

// WithClock overrides the wall clock, mostly for tests
func (b *DownloaderBuilder) WithClock(now func() time.Time) *DownloaderBuilder {
	b.now = now
	return b
}

// Build creates a new Downloader instance
func (b *DownloaderBuilder) Build() (*Downloader, error) {
	if b.client == nil {
		return nil, errorwrapper.NewValidationError("client", nil, "http client cannot be nil")
	}
	if b.store == nil {
		return nil, errorwrapper.NewValidationError("store", nil, "store cannot be nil")
	}
	if b.storage.BasePath == "" {
		return nil, errorwrapper.NewValidationError("storage.base_path", "", "storage base path is required")
	}

	cfg := b.cfg
	defaults := config.NewDefaultDownloadConfig()
	if cfg.ChunkSizeKB <= 0 {
		cfg.ChunkSizeKB = defaults.ChunkSizeKB
	}
	if cfg.ProgressPercentStep <= 0 {
		cfg.ProgressPercentStep = defaults.ProgressPercentStep
	}
	if cfg.ProgressThresholdMB <= 0 {
		cfg.ProgressThresholdMB = defaults.ProgressThresholdMB
	}

	now := b.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Downloader{
		client:       b.client,
		store:        b.store,
		storage:      b.storage,
		cfg:          cfg,
		consolidator: b.consolidator,
		merger:       b.merger,
		locks:        NewItemMutexManager(b.logger),
		diskGuard:    NewDiskGuard(cfg.MinFreeDiskMB, b.logger),
		metrics:      b.metrics,
		now:          now,
		logger:       b.logger,
	}, nil
}

// NewDownloadClient builds the streaming client. Archives can be large, so
// the timeout is separate from the listing client's and 0 disables it.
func NewDownloadClient(remote config.RemoteConfig, cfg config.DownloadConfig, logger zerolog.Logger) (*httpclient.HTTPClient, error) {
	b := httpclient.NewHTTPClientBuilder(logger).
		WithTimeout(time.Duration(cfg.TimeoutSecs) * time.Second).
		WithUserAgent(remote.UserAgent).
		WithInsecureSkipVerify(remote.InsecureSkipVerify).
		WithHTTP2(remote.HTTP2).
		WithCookies(true).
		WithRetry(httpclient.DefaultRetryHandlerConfig(remote.MaxRetries))
	if remote.AcceptLanguage != "" {
		b = b.WithHeader("Accept-Language", remote.AcceptLanguage)
	}
	return b.Build()
}
