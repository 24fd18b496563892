package main

import (
	"context"
	"errors"
	"time"

	"github.com/aleister1102/kaismonitor/internal/blob"
	"github.com/aleister1102/kaismonitor/internal/common/filelock"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/crawler"
	"github.com/aleister1102/kaismonitor/internal/datastore"
	"github.com/aleister1102/kaismonitor/internal/detector"
	"github.com/aleister1102/kaismonitor/internal/downloader"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/aleister1102/kaismonitor/internal/scheduler"
	"github.com/aleister1102/kaismonitor/internal/shapemerge"
	"github.com/rs/zerolog"
)

const progressLogInterval = 5 * time.Second

// app holds the services of one command invocation.
type app struct {
	cfg     *config.GlobalConfig
	logger  zerolog.Logger
	store   *datastore.Store
	metrics *metrics.Metrics
	lock    *filelock.FileLock

	scans *scheduler.ScanManager
	syncs *scheduler.SyncManager
}

// openApp loads configuration and opens the store. Commands that write
// under the storage root pass lockStorage so two processes never share it.
func openApp(ctx context.Context, opts *rootOptions, lockStorage bool) (*app, error) {
	cfg, log, err := opts.load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, metrics: metrics.New()}

	if lockStorage {
		a.lock = filelock.New(cfg.StorageConfig.BasePath)
		if err := a.lock.Acquire(); err != nil {
			return nil, err
		}
	}

	store, err := datastore.Open(ctx, cfg.StorageConfig.DBPath(), log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	return a, nil
}

// buildPipeline wires crawler, detector, downloader and both managers.
func (a *app) buildPipeline(ctx context.Context) error {
	cfg := a.cfg

	remoteClient, err := crawler.NewRemoteClient(cfg.RemoteConfig, a.logger)
	if err != nil {
		return err
	}
	downloadClient, err := downloader.NewDownloadClient(cfg.RemoteConfig, cfg.DownloadConfig, a.logger)
	if err != nil {
		return err
	}

	dl, err := downloader.NewDownloaderBuilder(a.logger).
		WithClient(downloadClient).
		WithStore(a.store).
		WithStorage(cfg.StorageConfig).
		WithConfig(cfg.DownloadConfig).
		WithConsolidator(blob.NewConsolidator(cfg.StorageConfig.CanonicalDir(), cfg.ConsolidationConfig.Categories, a.logger)).
		WithMerger(shapemerge.NewMerger(cfg.StorageConfig.CanonicalDir(), cfg.StorageConfig.MergedDir(), a.logger)).
		WithMetrics(a.metrics).
		Build()
	if err != nil {
		return err
	}

	executor := scheduler.NewScanExecutor(
		crawler.NewCrawler(remoteClient, cfg.RemoteConfig, a.logger),
		detector.NewDetector(a.store, a.logger),
		dl,
		a.store,
		a.metrics,
		a.logger,
	)

	gate := scheduler.NewRunGate()
	scans, err := scheduler.NewScanManagerBuilder(a.logger).
		WithExecutor(executor).
		WithSettings(a.store).
		WithConfig(cfg.SchedulerConfig).
		WithMetrics(a.metrics).
		WithObserver(progress.NewLogReporter(a.logger, progressLogInterval)).
		WithGate(gate).
		Build()
	if err != nil {
		return err
	}
	if err := scans.Restore(ctx); err != nil {
		return err
	}

	a.scans = scans
	a.syncs = scheduler.NewSyncManager(a.store, dl, gate, a.metrics, a.logger)
	return nil
}

// Close releases the store and the storage lock.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}
