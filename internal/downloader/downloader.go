// Package downloader materializes an item's remote file: stream, hash,
// safe extraction, transliterating rename and the consolidation hooks.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/common/timeutils"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/httpclient"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/aleister1102/kaismonitor/internal/storagepath"
	"github.com/rs/zerolog"
)

const (
	archivesDirName  = "archives"
	extractedDirName = "extracted"
	stagingDirName   = ".extracted.staging"
	archiveExt       = ".zip"
)

// Store is the part of the datastore the downloader needs.
type Store interface {
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	RecordDownload(ctx context.Context, d models.Download) (int64, error)
}

// Consolidator copies category files of a fresh extraction into the
// canonical area and returns the category keys it touched.
type Consolidator interface {
	Consolidate(ctx context.Context, itemID int64, extractedDir string, reporter progress.Reporter) ([]string, error)
}

// Merger rebuilds the merged dataset of each given category.
type Merger interface {
	MergeCategories(ctx context.Context, keys []string, reporter progress.Reporter) error
}

// Request identifies what to download.
type Request struct {
	ItemID       int64
	FileURL      string
	ObservedDate string
}

// Result describes a recorded download.
type Result struct {
	DownloadID int64
	FilePath   string
	SizeBytes  int64
	SHA256     string
	Extracted  bool
	Members    int
	Categories []string
}

// Downloader streams item files into the storage layout.
type Downloader struct {
	client       *httpclient.HTTPClient
	store        Store
	storage      config.StorageConfig
	cfg          config.DownloadConfig
	consolidator Consolidator
	merger       Merger
	locks        *ItemMutexManager
	diskGuard    *DiskGuard
	metrics      *metrics.Metrics
	now          func() time.Time
	logger       zerolog.Logger
}

// Download fetches req.FileURL for the item and records it. A nil Result
// with a nil error means the item no longer exists. Every other failure is a
// *errorwrapper.DownloadError and nothing partial is left on disk.
func (d *Downloader) Download(ctx context.Context, req Request, reporter progress.Reporter) (*Result, error) {
	reporter = progress.Safe(reporter, d.logger)

	unlock := d.locks.Lock(req.ItemID)
	defer unlock()

	item, err := d.store.GetItem(ctx, req.ItemID)
	if errors.Is(err, models.ErrRecordNotFound) {
		d.logger.Warn().Int64("item_id", req.ItemID).Msg("Item vanished before download")
		return nil, nil
	}
	if err != nil {
		return nil, d.fail(req, "failed to load item", err)
	}

	fileURL := req.FileURL
	if fileURL == "" {
		fileURL = item.FileURL
	}
	req.FileURL = fileURL
	if fileURL == "" {
		return nil, d.fail(req, "item has no download URL", nil)
	}

	loc := storagepath.Resolve(d.storage.DownloadsDir(), storagepath.ItemRef{
		ID:      item.ID,
		Path:    item.Path,
		Title:   item.Title,
		FileURL: fileURL,
	})
	archivesDir := filepath.Join(loc.Root, archivesDirName)
	if err := os.MkdirAll(archivesDir, 0o755); err != nil {
		return nil, d.fail(req, "failed to create item directory", err)
	}
	if err := d.diskGuard.Check(archivesDir); err != nil {
		return nil, d.fail(req, "not enough free disk space", err)
	}

	stamp := d.archiveStamp(req.ObservedDate)
	archivePath, res, err := d.fetch(ctx, req, archivesDir, stamp, reporter)
	if err != nil {
		return nil, err
	}

	result := &Result{FilePath: archivePath, SizeBytes: res.size, SHA256: res.sum}

	if isZipHeader(res.head) {
		members, err := d.extract(loc.Root, archivePath, reporter)
		if err != nil {
			_ = os.Remove(archivePath)
			return nil, d.fail(req, "failed to extract archive", err)
		}
		result.Extracted = true
		result.Members = members
	} else if ext := filepath.Ext(loc.Filename); ext != "" && ext != archiveExt {
		// Not an archive; keep the remote file's own extension.
		renamed, err := d.keepExtension(archivePath, ext)
		if err != nil {
			d.logger.Warn().Err(err).Str("file", archivePath).Msg("Could not rename non-archive download")
		} else {
			archivePath = renamed
			result.FilePath = renamed
		}
	}

	downloadID, err := d.store.RecordDownload(ctx, models.Download{
		ItemID:       item.ID,
		DownloadedAt: d.now(),
		FilePath:     archivePath,
		SizeBytes:    res.size,
		SHA256:       res.sum,
		ObservedDate: req.ObservedDate,
	})
	if err != nil {
		return nil, d.fail(req, "failed to record download", err)
	}
	result.DownloadID = downloadID
	d.metrics.DownloadFinished(metrics.StatusSuccess, res.size)

	if result.Extracted {
		result.Categories = d.postProcess(ctx, item.ID, filepath.Join(loc.Root, extractedDirName), reporter)
	}

	d.logger.Info().
		Int64("item_id", item.ID).
		Int64("download_id", downloadID).
		Int64("bytes", res.size).
		Str("file", archivePath).
		Msg("Download recorded")
	return result, nil
}

// fetch streams the URL into a fresh, uniquely named file. Any failure
// removes the partial file.
func (d *Downloader) fetch(ctx context.Context, req Request, dir, stamp string, reporter progress.Reporter) (string, streamResult, error) {
	file, archivePath, err := createUnique(dir, stamp, archiveExt)
	if err != nil {
		return "", streamResult{}, d.fail(req, "failed to create archive file", err)
	}

	res, err := d.streamInto(ctx, req, file, archivePath, reporter)
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = d.fail(req, "failed to finalize archive file", closeErr)
	}
	if err != nil {
		if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
			d.logger.Warn().Err(rmErr).Str("file", archivePath).Msg("Failed to remove partial download")
		}
		return "", streamResult{}, err
	}
	return archivePath, res, nil
}

func (d *Downloader) streamInto(ctx context.Context, req Request, file *os.File, archivePath string, reporter progress.Reporter) (streamResult, error) {
	resp, err := d.client.Stream(&httpclient.HTTPRequest{
		Method:  http.MethodGet,
		URL:     req.FileURL,
		Context: ctx,
	})
	if err != nil {
		return streamResult{}, d.fail(req, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return streamResult{}, d.fail(req, "unexpected status "+strconv.Itoa(resp.StatusCode), nil)
	}

	payload := progress.Payload{"item_id": req.ItemID, "url": req.FileURL, "file": archivePath}
	total := resp.ContentLength
	if total > 0 {
		payload["total"] = total
	}
	reporter.Report(progress.StageDownloadStart, payload)

	gate := newChunkGate(total, d.cfg.ProgressPercentStep, int64(d.cfg.ProgressThresholdMB)*bytesPerMB)
	res, err := copyChunks(file, resp.Body, d.cfg.ChunkSizeKB*1024, gate, reporter, payload)
	if err != nil {
		return streamResult{}, d.fail(req, "stream interrupted", err)
	}

	reporter.Report(progress.StageDownloadComplete, withFields(payload, progress.Payload{
		"bytes":  res.size,
		"sha256": res.sum,
	}))
	return res, nil
}

// extract unpacks the archive into a staging directory, transliterates the
// tree, then swaps it in as the item's single extracted view.
func (d *Downloader) extract(itemRoot, archivePath string, reporter progress.Reporter) (int, error) {
	staging := filepath.Join(itemRoot, stagingDirName)
	extracted := filepath.Join(itemRoot, extractedDirName)

	if err := os.RemoveAll(staging); err != nil {
		return 0, fmt.Errorf("failed to clear staging directory: %w", err)
	}

	reporter.Report(progress.StageExtractStart, progress.Payload{"file": archivePath})
	members, err := extractArchive(archivePath, staging, reporter, d.logger)
	if err == nil {
		_, err = transliterateTree(staging)
	}
	if err != nil {
		_ = os.RemoveAll(staging)
		return 0, err
	}

	if err := os.RemoveAll(extracted); err != nil {
		_ = os.RemoveAll(staging)
		return 0, fmt.Errorf("failed to remove previous extraction: %w", err)
	}
	if err := os.Rename(staging, extracted); err != nil {
		_ = os.RemoveAll(staging)
		return 0, fmt.Errorf("failed to publish extraction: %w", err)
	}

	reporter.Report(progress.StageExtractComplete, progress.Payload{"file": archivePath, "count": members, "path": extracted})
	return members, nil
}

// postProcess runs consolidation and merging. Failures are logged only.
func (d *Downloader) postProcess(ctx context.Context, itemID int64, extractedDir string, reporter progress.Reporter) []string {
	if d.consolidator == nil {
		return nil
	}

	reporter.Report(progress.StageBlobStart, progress.Payload{"item_id": itemID})
	categories, err := d.consolidator.Consolidate(ctx, itemID, extractedDir, reporter)
	if err != nil {
		d.logger.Error().Err(err).Int64("item_id", itemID).Msg("Blob consolidation failed")
	}

	if d.merger == nil || len(categories) == 0 {
		return categories
	}
	if err := d.merger.MergeCategories(ctx, categories, reporter); err != nil {
		d.logger.Error().Err(err).Int64("item_id", itemID).Msg("Shapefile merge failed")
	}
	return categories
}

func (d *Downloader) keepExtension(archivePath, ext string) (string, error) {
	dir := filepath.Dir(archivePath)
	stem := archivePath[len(dir)+1 : len(archivePath)-len(archiveExt)]
	f, target, err := createUnique(dir, stem, ext)
	if err != nil {
		return "", err
	}
	_ = f.Close()
	if err := os.Rename(archivePath, target); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return target, nil
}

// archiveStamp names the archive after the observed date, falling back to
// the current time when the date is unusable.
func (d *Downloader) archiveStamp(observed string) string {
	if t, err := timeutils.ParseObserved(observed); err == nil {
		return timeutils.Stamp(t)
	}
	return timeutils.Stamp(d.now())
}

func (d *Downloader) fail(req Request, message string, err error) error {
	d.metrics.DownloadFinished(metrics.StatusError, 0)
	d.logger.Error().Err(err).Int64("item_id", req.ItemID).Str("url", req.FileURL).Msg(message)
	return errorwrapper.NewDownloadError(req.ItemID, req.FileURL, message, err)
}

// createUnique exclusively creates dir/stem+ext, or dir/stem_N+ext for the
// first free N. Existing downloads are never overwritten.
func createUnique(dir, stem, ext string) (*os.File, string, error) {
	for i := 0; ; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, p, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
}
