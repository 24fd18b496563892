package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aleister1102/kaismonitor/internal/downloader"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	items []models.ItemWithDownload
	err   error
}

func (l *staticLister) ListItems(_ context.Context, filter models.ItemFilter) ([]models.ItemWithDownload, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []models.ItemWithDownload
	for _, item := range l.items {
		if filter.MonitoredOnly && !item.Monitored {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

type recordingDownloader struct {
	mu      sync.Mutex
	calls   []downloader.Request
	fail    map[int64]bool
	release chan struct{}
}

func (d *recordingDownloader) Download(_ context.Context, req downloader.Request, _ progress.Reporter) (*downloader.Result, error) {
	if d.release != nil {
		<-d.release
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	if d.fail[req.ItemID] {
		return nil, errors.New("unexpected status 500")
	}
	return &downloader.Result{DownloadID: req.ItemID * 10}, nil
}

func (d *recordingDownloader) itemIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []int64
	for _, c := range d.calls {
		ids = append(ids, c.ItemID)
	}
	return ids
}

func syncFixture(t *testing.T) (*staticLister, string) {
	t.Helper()
	dir := t.TempDir()
	present := filepath.Join(dir, "present.zip")
	require.NoError(t, os.WriteFile(present, []byte("zip"), 0o644))

	item := func(id int64, monitored bool, lastSeen string, latest *models.Download) models.ItemWithDownload {
		return models.ItemWithDownload{
			Item: models.Item{
				ID:           id,
				Title:        "item",
				FileURL:      "https://kais.example/bg/OpenData/Download?path=/x.zip",
				LastSeenDate: lastSeen,
				Monitored:    monitored,
			},
			LatestDownload: latest,
		}
	}
	return &staticLister{items: []models.ItemWithDownload{
		// never downloaded
		item(1, true, "2024-01-10T09:00:00", nil),
		// synced
		item(2, true, "2024-01-10T09:00:00", &models.Download{FilePath: present, ObservedDate: "2024-01-10T09:00:00"}),
		// outdated
		item(3, true, "2024-01-10T09:00:00", &models.Download{FilePath: present, ObservedDate: "2024-01-01T00:00:00"}),
		// file deleted from disk
		item(4, true, "2024-01-10T09:00:00", &models.Download{FilePath: filepath.Join(dir, "gone.zip"), ObservedDate: "2024-01-10T09:00:00"}),
		// not monitored
		item(5, false, "2024-01-10T09:00:00", nil),
	}}, dir
}

func TestSyncManager_Candidates(t *testing.T) {
	lister, _ := syncFixture(t)
	s := NewSyncManager(lister, &recordingDownloader{}, nil, nil, zerolog.Nop())

	candidates, err := s.Candidates(context.Background())
	require.NoError(t, err)
	var ids []int64
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{1, 3, 4}, ids)
}

func TestSyncManager_RunContinuesPastFailures(t *testing.T) {
	lister, _ := syncFixture(t)
	dl := &recordingDownloader{fail: map[int64]bool{3: true}}
	s := NewSyncManager(lister, dl, NewRunGate(), nil, zerolog.Nop())

	st, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, dl.itemIDs())
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Done)
	assert.Equal(t, []int64{1, 4}, st.Downloaded)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "item 3")
	assert.False(t, st.Running)
	assert.False(t, st.FinishedAt.IsZero())

	dl.mu.Lock()
	assert.Equal(t, "2024-01-10T09:00:00", dl.calls[0].ObservedDate)
	dl.mu.Unlock()
}

func TestSyncManager_RefusesWhileScanRuns(t *testing.T) {
	lister, _ := syncFixture(t)
	dl := &recordingDownloader{}
	g := NewRunGate()
	_, ok := g.TryAcquire(HolderScan)
	require.True(t, ok)
	s := NewSyncManager(lister, dl, g, nil, zerolog.Nop())

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrScanActive)
	assert.ErrorIs(t, s.Start(context.Background()), ErrScanActive)
	assert.Empty(t, dl.itemIDs())
	assert.False(t, s.IsRunning())
	assert.Equal(t, HolderScan, g.Holder())
}

func TestSyncManager_HoldsGateAgainstScans(t *testing.T) {
	lister, _ := syncFixture(t)
	dl := &recordingDownloader{release: make(chan struct{})}
	g := NewRunGate()
	s := NewSyncManager(lister, dl, g, nil, zerolog.Nop())
	scans := newManager(t, &blockingExecutor{}, newMemSettings(), func(b *ScanManagerBuilder) { b.WithGate(g) })

	require.NoError(t, s.Start(context.Background()))
	_, ok := scans.BeginScan()
	assert.False(t, ok)
	_, err := scans.RunScan(context.Background())
	assert.ErrorIs(t, err, ErrSyncActive)
	_, err = scans.TriggerScan(context.Background())
	assert.ErrorIs(t, err, ErrSyncActive)
	assert.False(t, scans.IsRunning())

	close(dl.release)
	s.Wait()
	assert.Empty(t, g.Holder())

	result, err := scans.RunScan(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, g.Holder())
}

func TestSyncManager_SingleFlight(t *testing.T) {
	lister, _ := syncFixture(t)
	dl := &recordingDownloader{release: make(chan struct{})}
	s := NewSyncManager(lister, dl, nil, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSyncInProgress)
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(dl.release)
	s.Wait()
	assert.False(t, s.IsRunning())
	assert.Equal(t, 3, s.Status().Done)
}

func TestSyncManager_ListFailureIsRecorded(t *testing.T) {
	s := NewSyncManager(&staticLister{err: errors.New("database is locked")}, &recordingDownloader{}, nil, nil, zerolog.Nop())

	st, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "database is locked")
}

func TestSyncManager_StatusIsACopy(t *testing.T) {
	lister, _ := syncFixture(t)
	s := NewSyncManager(lister, &recordingDownloader{fail: map[int64]bool{1: true}}, nil, nil, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC) }

	st, err := s.Run(context.Background())
	require.NoError(t, err)
	st.Errors[0] = "mutated"
	st.Downloaded[0] = 99
	fresh := s.Status()
	assert.Contains(t, fresh.Errors[0], "item 1")
	assert.Equal(t, int64(3), fresh.Downloaded[0])
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), fresh.StartedAt)
}
