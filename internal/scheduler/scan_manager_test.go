package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (s *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memSettings) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// blockingExecutor holds each cycle until release is closed.
type blockingExecutor struct {
	entered chan string
	release chan struct{}
	panics  bool
	errs    []string
}

func (e *blockingExecutor) Execute(_ context.Context, runID string, _ progress.Reporter) *models.ScanResult {
	if e.entered != nil {
		e.entered <- runID
	}
	if e.release != nil {
		<-e.release
	}
	if e.panics {
		panic("listing exploded")
	}
	return &models.ScanResult{RunID: runID, Errors: e.errs}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, exec Executor, settings SettingsStore, build func(*ScanManagerBuilder)) *ScanManager {
	t.Helper()
	b := NewScanManagerBuilder(zerolog.Nop()).WithExecutor(exec).WithSettings(settings)
	if build != nil {
		build(b)
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestScanManagerBuilder_Validation(t *testing.T) {
	_, err := NewScanManagerBuilder(zerolog.Nop()).WithSettings(newMemSettings()).Build()
	assert.Error(t, err)

	_, err = NewScanManagerBuilder(zerolog.Nop()).WithExecutor(&blockingExecutor{}).Build()
	assert.Error(t, err)

	_, err = NewScanManagerBuilder(zerolog.Nop()).
		WithExecutor(&blockingExecutor{}).
		WithSettings(newMemSettings()).
		WithConfig(config.SchedulerConfig{DefaultInterval: "2d"}).
		Build()
	assert.Error(t, err)
}

func TestScanManager_SingleFlight(t *testing.T) {
	exec := &blockingExecutor{entered: make(chan string, 1), release: make(chan struct{})}
	m := newManager(t, exec, newMemSettings(), nil)
	ctx := context.Background()

	runID, err := m.TriggerScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, <-exec.entered)
	assert.True(t, m.IsRunning())

	_, ok := m.BeginScan()
	assert.False(t, ok)
	_, err = m.RunScan(ctx)
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = m.TriggerScan(ctx)
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(exec.release)
	require.Eventually(t, func() bool { return !m.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	st := m.Status()
	require.NotNil(t, st.LastResult)
	assert.Equal(t, runID, st.LastResult.RunID)
	assert.Equal(t, StateIdle, st.Progress.State)
}

func TestScanManager_CompleteScanSchedulesNextCycle(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	reg := metrics.New()
	m := newManager(t, &blockingExecutor{}, newMemSettings(), func(b *ScanManagerBuilder) {
		b.WithClock(clock.Now).WithMetrics(reg)
	})

	runID, ok := m.BeginScan()
	require.True(t, ok)
	assert.NotEmpty(t, runID)
	st := m.Status()
	assert.Equal(t, StateStarting, st.Progress.State)
	assert.Equal(t, runID, st.Progress.RunID)

	clock.Advance(time.Minute)
	m.CompleteScan(&models.ScanResult{RunID: runID, Errors: []string{"item 3: boom"}})

	st = m.Status()
	assert.False(t, st.Running)
	assert.Equal(t, clock.Now(), st.LastFinishedAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), st.NextRunAt)
	assert.Equal(t, Progress{State: StateIdle}, st.Progress)
	assert.True(t, st.LastResult.HasErrors())

	// The snapshot is a copy.
	st.LastResult.Errors[0] = "mutated"
	assert.Equal(t, "item 3: boom", m.Status().LastResult.Errors[0])
}

func TestScanManager_ReportDrivesStateMachine(t *testing.T) {
	m := newManager(t, &blockingExecutor{}, newMemSettings(), nil)

	// Idle managers ignore events.
	m.Report(progress.StageListing, progress.Payload{"path": "/"})
	assert.Equal(t, StateIdle, m.Status().Progress.State)

	_, ok := m.BeginScan()
	require.True(t, ok)

	steps := []struct {
		stage   progress.Stage
		payload progress.Payload
		want    ScanState
	}{
		{progress.StageStart, progress.Payload{"message": "Fetching OpenData root"}, StateFetch},
		{progress.StageToken, progress.Payload{}, StateListing},
		{progress.StageListing, progress.Payload{"path": "/Sofia", "entries": 3}, StateListing},
		{progress.StageFile, progress.Payload{"count": 4}, StateParsing},
		{progress.StageDetect, progress.Payload{"count": 4}, StateProcessing},
		{progress.StageDownloadStart, progress.Payload{"item_id": int64(9), "total": int64(100)}, StateDownloading},
		{progress.StageDownloadChunk, progress.Payload{"item_id": int64(9), "bytes": int64(40)}, StateDownloading},
		{progress.StageError, progress.Payload{"message": "download of item 9 failed"}, StateError},
	}
	for _, step := range steps {
		m.Report(step.stage, step.payload)
		assert.Equal(t, step.want, m.Status().Progress.State, step.stage)
	}

	p := m.Status().Progress
	assert.Equal(t, 1, p.ListingsVisited)
	assert.Equal(t, "/Sofia", p.CurrentPath)
	assert.Equal(t, 4, p.FilesFound)
	assert.Equal(t, 4, p.ItemsDetected)
	assert.Equal(t, int64(9), p.CurrentItem)
	assert.Equal(t, int64(40), p.BytesDone)
	assert.Equal(t, int64(100), p.BytesTotal)
	assert.Equal(t, []string{"download of item 9 failed"}, p.Errors)

	p.Errors[0] = "mutated"
	assert.Equal(t, "download of item 9 failed", m.Status().Progress.Errors[0])
}

func TestScanManager_IntervalIsPersisted(t *testing.T) {
	settings := newMemSettings()
	clock := &fixedClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	m := newManager(t, &blockingExecutor{}, settings, func(b *ScanManagerBuilder) { b.WithClock(clock.Now) })
	ctx := context.Background()

	assert.Equal(t, "1d", m.Interval())
	require.NoError(t, m.SetInterval(ctx, "6h"))
	assert.Equal(t, "6h", m.Interval())
	assert.Equal(t, clock.Now().Add(6*time.Hour), m.Status().NextRunAt)

	err := m.SetInterval(ctx, "weekly")
	assert.ErrorIs(t, err, ErrUnknownInterval)
	assert.Equal(t, "6h", m.Interval())

	restored := newManager(t, &blockingExecutor{}, settings, nil)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, "6h", restored.Interval())

	require.NoError(t, settings.SetSetting(ctx, config.ScanIntervalSettingKey, "bogus"))
	fallback := newManager(t, &blockingExecutor{}, settings, nil)
	require.NoError(t, fallback.Restore(ctx))
	assert.Equal(t, "1d", fallback.Interval())
}

func TestScanManager_RecoversFromExecutorPanic(t *testing.T) {
	m := newManager(t, &blockingExecutor{panics: true}, newMemSettings(), nil)

	result, err := m.RunScan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "listing exploded")
	assert.False(t, m.IsRunning())
}

func TestScanManager_RunScansOnStartAndStops(t *testing.T) {
	exec := &blockingExecutor{entered: make(chan string, 1)}
	reg := metrics.New()
	m := newManager(t, exec, newMemSettings(), func(b *ScanManagerBuilder) {
		b.WithConfig(config.SchedulerConfig{DefaultInterval: "6h", ScanOnStart: true}).WithMetrics(reg)
	})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case <-exec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("scan on start did not run")
	}
	require.Eventually(t, func() bool { return !m.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	// A stop interrupts the six hour wait.
	m.Stop()
	m.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	series, err := testutil.GatherAndCount(reg.Registry(), "kaismonitor_scans_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestScanManager_RunReturnsOnContextCancel(t *testing.T) {
	m := newManager(t, &blockingExecutor{}, newMemSettings(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
