package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aleister1102/kaismonitor/internal/downloader"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
)

// Fetcher lists every file of the remote tree.
type Fetcher interface {
	FetchItems(ctx context.Context, reporter progress.Reporter) ([]models.ScrapedItem, error)
}

// ChangeDetector reconciles a listing against the store.
type ChangeDetector interface {
	Process(ctx context.Context, items []models.ScrapedItem, now time.Time) *models.ScanResult
}

// ItemDownloader materializes one item.
type ItemDownloader interface {
	Download(ctx context.Context, req downloader.Request, reporter progress.Reporter) (*downloader.Result, error)
}

// ItemReader loads a single item.
type ItemReader interface {
	GetItem(ctx context.Context, id int64) (*models.Item, error)
}

// ScanExecutor runs one crawl, detect and download cycle.
type ScanExecutor struct {
	fetcher    Fetcher
	detector   ChangeDetector
	downloader ItemDownloader
	items      ItemReader
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     zerolog.Logger
}

// NewScanExecutor wires the stages of a scan cycle.
func NewScanExecutor(fetcher Fetcher, detector ChangeDetector, dl ItemDownloader, items ItemReader, m *metrics.Metrics, logger zerolog.Logger) *ScanExecutor {
	return &ScanExecutor{
		fetcher:    fetcher,
		detector:   detector,
		downloader: dl,
		items:      items,
		metrics:    m,
		now:        time.Now,
		logger:     logger.With().Str("component", "ScanExecutor").Logger(),
	}
}

// Execute performs one cycle. It never returns an error: fetch and download
// failures land in the result's Errors and the cycle still completes.
func (e *ScanExecutor) Execute(ctx context.Context, runID string, reporter progress.Reporter) *models.ScanResult {
	reporter = progress.Safe(reporter, e.logger)
	started := e.now()

	scraped, err := e.fetcher.FetchItems(ctx, reporter)
	if err != nil {
		msg := fmt.Sprintf("fetch failed: %v", err)
		e.logger.Error().Err(err).Str("run_id", runID).Msg("Listing fetch failed")
		reporter.Report(progress.StageError, progress.Payload{"message": msg})
		return &models.ScanResult{
			RunID:      runID,
			StartedAt:  started,
			FinishedAt: e.now(),
			Errors:     []string{msg},
		}
	}

	reporter.Report(progress.StageDetect, progress.Payload{"count": len(scraped)})
	result := e.detector.Process(ctx, scraped, started)
	result.RunID = runID
	result.StartedAt = started

	e.metrics.ItemsDetected("new", len(result.NewItems))
	e.metrics.ItemsDetected("updated", len(result.UpdatedItems))
	e.metrics.ItemsDetected("unchanged", len(result.UnchangedItems))

	e.downloadChanged(ctx, result, reporter)
	result.FinishedAt = e.now()

	e.logger.Info().
		Str("run_id", runID).
		Int("seen", result.ItemsSeen).
		Int("new", len(result.NewItems)).
		Int("updated", len(result.UpdatedItems)).
		Int("downloaded", len(result.Downloaded)).
		Int("errors", len(result.Errors)).
		Dur("elapsed", result.FinishedAt.Sub(started)).
		Msg("Scan cycle finished")
	return result
}

// downloadChanged fetches every new or updated item that is monitored, not
// ignored and has a download URL. Items are handled one at a time.
func (e *ScanExecutor) downloadChanged(ctx context.Context, result *models.ScanResult, reporter progress.Reporter) {
	changed := make([]int64, 0, len(result.NewItems)+len(result.UpdatedItems))
	changed = append(changed, result.NewItems...)
	changed = append(changed, result.UpdatedItems...)

	for _, id := range changed {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("downloads interrupted: %v", err))
			return
		}
		item, err := e.items.GetItem(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", id, err))
			continue
		}
		if !item.Monitored || item.Ignored || item.FileURL == "" {
			continue
		}

		res, err := e.downloader.Download(ctx, downloader.Request{
			ItemID:       item.ID,
			FileURL:      item.FileURL,
			ObservedDate: item.LastSeenDate,
		}, reporter)
		if err != nil {
			msg := fmt.Sprintf("download of item %d failed: %v", id, err)
			result.Errors = append(result.Errors, msg)
			reporter.Report(progress.StageError, progress.Payload{"item_id": id, "message": msg})
			continue
		}
		if res != nil {
			result.Downloaded = append(result.Downloaded, id)
		}
	}
}
