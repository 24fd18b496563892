package scheduler

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/datastore"
	"github.com/aleister1102/kaismonitor/internal/detector"
	"github.com/aleister1102/kaismonitor/internal/downloader"
	"github.com/aleister1102/kaismonitor/internal/httpclient"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct {
	items []models.ScrapedItem
	err   error
}

func (f *staticFetcher) FetchItems(_ context.Context, reporter progress.Reporter) ([]models.ScrapedItem, error) {
	reporter.Report(progress.StageStart, progress.Payload{"message": "Fetching OpenData root"})
	if f.err != nil {
		return nil, f.err
	}
	reporter.Report(progress.StageFile, progress.Payload{"count": len(f.items)})
	return f.items, nil
}

type pipeline struct {
	store    *datastore.Store
	server   *httptest.Server
	hits     atomic.Int32
	status   atomic.Int32
	executor *ScanExecutor
	fetcher  *staticFetcher
	base     string
}

func zipBody(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Sgradi/part.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	p := &pipeline{base: t.TempDir(), fetcher: &staticFetcher{}}

	store, err := datastore.Open(ctx, filepath.Join(p.base, "kais.sqlite3"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	p.store = store

	body := zipBody(t)
	p.status.Store(http.StatusOK)
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		w.WriteHeader(int(p.status.Load()))
		_, _ = w.Write(body)
	}))
	t.Cleanup(p.server.Close)

	client, err := httpclient.NewHTTPClientBuilder(zerolog.Nop()).Build()
	require.NoError(t, err)
	cfg := config.NewDefaultDownloadConfig()
	cfg.MinFreeDiskMB = 0
	dl, err := downloader.NewDownloaderBuilder(zerolog.Nop()).
		WithClient(client).
		WithStore(store).
		WithStorage(config.StorageConfig{BasePath: p.base, DBFileName: "kais.sqlite3"}).
		WithConfig(cfg).
		Build()
	require.NoError(t, err)

	p.executor = NewScanExecutor(p.fetcher, detector.NewDetector(store, zerolog.Nop()), dl, store, nil, zerolog.Nop())
	return p
}

func (p *pipeline) record(observed time.Time) models.ScrapedItem {
	return models.ScrapedItem{
		Title:     " / a / b.zip",
		Path:      "/a/b.zip",
		FileURL:   p.server.URL + "/bg/OpenData/Download?path=/a/b.zip",
		SourceURL: p.server.URL + "/bg/OpenData",
		Observed:  observed,
	}
}

func TestScanExecutor_NewUnmonitoredItemIsNotDownloaded(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.fetcher.items = []models.ScrapedItem{p.record(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))}

	result := p.executor.Execute(ctx, "run-a", nil)
	require.Len(t, result.NewItems, 1)
	assert.Empty(t, result.Downloaded)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "run-a", result.RunID)

	item, err := p.store.GetItem(ctx, result.NewItems[0])
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusNew, item.Status)
	assert.False(t, item.Monitored)
	assert.Zero(t, p.hits.Load())
}

func TestScanExecutor_UpdatedMonitoredItemIsDownloaded(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	rec := p.record(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))

	id, err := p.store.CreateItem(ctx, models.NewItem{
		Title:        rec.Title,
		Path:         rec.Path,
		SourceURL:    rec.SourceURL,
		FileURL:      rec.FileURL,
		ObservedDate: "2024-01-01T00:00:00",
		SeenAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	monitored := true
	require.NoError(t, p.store.MarkItemFlags(ctx, id, datastore.FlagUpdate{Monitored: &monitored}))

	p.fetcher.items = []models.ScrapedItem{rec}
	result := p.executor.Execute(ctx, "run-b", nil)
	assert.Equal(t, []int64{id}, result.UpdatedItems)
	assert.Equal(t, []int64{id}, result.Downloaded)
	assert.Empty(t, result.Errors)

	item, err := p.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusUpdated, item.Status)

	latest, err := p.store.LatestDownload(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2024-01-10T09:00:00", latest.ObservedDate)
	assert.FileExists(t, latest.FilePath)
	assert.FileExists(t, filepath.Join(p.base, "downloads", "a", "b.zip", "extracted", "Sgradi", "part.txt"))

	// Same listing again: nothing changed, nothing downloaded.
	result = p.executor.Execute(ctx, "run-c", nil)
	assert.Equal(t, []int64{id}, result.UnchangedItems)
	assert.Empty(t, result.Downloaded)
	assert.Equal(t, int32(1), p.hits.Load())
}

func TestScanExecutor_FetchFailureIsRecorded(t *testing.T) {
	p := newPipeline(t)
	p.fetcher.err = errors.New("token missing")

	var stages []progress.Stage
	reporter := progress.ReporterFunc(func(s progress.Stage, _ progress.Payload) { stages = append(stages, s) })

	result := p.executor.Execute(context.Background(), "run-x", reporter)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "token missing")
	assert.Equal(t, []progress.Stage{progress.StageStart, progress.StageError}, stages)
	assert.False(t, result.FinishedAt.IsZero())
}

func TestScanExecutor_DownloadFailureIsSoft(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.status.Store(http.StatusBadGateway)

	rec := p.record(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	id, err := p.store.CreateItem(ctx, models.NewItem{
		Title: rec.Title, Path: rec.Path, SourceURL: rec.SourceURL, FileURL: rec.FileURL,
		ObservedDate: "2024-01-01T00:00:00", SeenAt: time.Now(),
	})
	require.NoError(t, err)
	monitored := true
	require.NoError(t, p.store.MarkItemFlags(ctx, id, datastore.FlagUpdate{Monitored: &monitored}))

	p.fetcher.items = []models.ScrapedItem{rec}
	result := p.executor.Execute(ctx, "run-d", nil)
	assert.Equal(t, []int64{id}, result.UpdatedItems)
	assert.Empty(t, result.Downloaded)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "download of item")

	_, err = p.store.LatestDownload(ctx, id)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
}

func TestScanManager_ObserverSeesPipelineEvents(t *testing.T) {
	p := newPipeline(t)
	p.fetcher.items = []models.ScrapedItem{p.record(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))}

	var mu sync.Mutex
	var stages []progress.Stage
	observer := progress.ReporterFunc(func(s progress.Stage, _ progress.Payload) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, s)
	})
	m := newManager(t, p.executor, p.store, func(b *ScanManagerBuilder) { b.WithObserver(observer) })

	result, err := m.RunScan(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.NewItems, 1)
	assert.NotEmpty(t, result.RunID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []progress.Stage{progress.StageStart, progress.StageFile, progress.StageDetect}, stages)
}
