package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScanState is the stage a scan cycle is currently in.
type ScanState string

const (
	StateIdle        ScanState = "idle"
	StateStarting    ScanState = "starting"
	StateFetch       ScanState = "fetch"
	StateListing     ScanState = "listing"
	StateParsing     ScanState = "parsing"
	StateProcessing  ScanState = "processing"
	StateDownloading ScanState = "downloading"
	StateError       ScanState = "error"
)

// Executor runs the body of one scan cycle.
type Executor interface {
	Execute(ctx context.Context, runID string, reporter progress.Reporter) *models.ScanResult
}

// SettingsStore persists the selected interval.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Progress is the live view of the running cycle.
type Progress struct {
	State           ScanState `json:"state"`
	RunID           string    `json:"run_id,omitempty"`
	Message         string    `json:"message,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
	ListingsVisited int       `json:"listings_visited"`
	CurrentPath     string    `json:"current_path,omitempty"`
	FilesFound      int       `json:"files_found"`
	ItemsDetected   int       `json:"items_detected"`
	CurrentItem     int64     `json:"current_item,omitempty"`
	BytesDone       int64     `json:"bytes_done"`
	BytesTotal      int64     `json:"bytes_total,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
}

// Status is a snapshot of the manager. It shares no memory with the manager.
type Status struct {
	Running        bool               `json:"running"`
	Interval       string             `json:"interval"`
	NextRunAt      time.Time          `json:"next_run_at"`
	LastStartedAt  time.Time          `json:"last_started_at,omitempty"`
	LastFinishedAt time.Time          `json:"last_finished_at,omitempty"`
	Progress       Progress           `json:"progress"`
	LastResult     *models.ScanResult `json:"last_result,omitempty"`
}

// ScanManager owns the scan lifecycle: a single-flight gate, the periodic
// driver and the progress state. The mutex guards state only; no I/O runs
// under it.
type ScanManager struct {
	executor    Executor
	settings    SettingsStore
	metrics     *metrics.Metrics
	observer    progress.Reporter
	gate        *RunGate
	scanOnStart bool
	now         func() time.Time
	logger      zerolog.Logger

	mu           sync.Mutex
	running      bool
	interval     string
	nextRun      time.Time
	lastStarted  time.Time
	lastFinished time.Time
	progress     Progress
	lastResult   *models.ScanResult
	wake         chan struct{}
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// ScanManagerBuilder provides a fluent interface for creating a ScanManager.
type ScanManagerBuilder struct {
	executor Executor
	settings SettingsStore
	metrics  *metrics.Metrics
	observer progress.Reporter
	gate     *RunGate
	cfg      config.SchedulerConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewScanManagerBuilder creates a new builder.
func NewScanManagerBuilder(logger zerolog.Logger) *ScanManagerBuilder {
	return &ScanManagerBuilder{
		cfg:    config.NewDefaultSchedulerConfig(),
		now:    time.Now,
		logger: logger.With().Str("component", "ScanManager").Logger(),
	}
}

func (b *ScanManagerBuilder) WithExecutor(e Executor) *ScanManagerBuilder {
	b.executor = e
	return b
}

func (b *ScanManagerBuilder) WithSettings(s SettingsStore) *ScanManagerBuilder {
	b.settings = s
	return b
}

func (b *ScanManagerBuilder) WithConfig(cfg config.SchedulerConfig) *ScanManagerBuilder {
	b.cfg = cfg
	return b
}

func (b *ScanManagerBuilder) WithMetrics(m *metrics.Metrics) *ScanManagerBuilder {
	b.metrics = m
	return b
}

// WithObserver receives every pipeline event in addition to the manager.
func (b *ScanManagerBuilder) WithObserver(r progress.Reporter) *ScanManagerBuilder {
	b.observer = r
	return b
}

// WithGate shares gate with a SyncManager so scans and syncs never overlap.
func (b *ScanManagerBuilder) WithGate(gate *RunGate) *ScanManagerBuilder {
	b.gate = gate
	return b
}

func (b *ScanManagerBuilder) WithClock(now func() time.Time) *ScanManagerBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build creates the manager. The persisted interval is not read here; call
// Restore for that.
func (b *ScanManagerBuilder) Build() (*ScanManager, error) {
	if b.executor == nil {
		return nil, errorwrapper.NewValidationError("executor", b.executor, "scan executor cannot be nil")
	}
	if b.settings == nil {
		return nil, errorwrapper.NewValidationError("settings", b.settings, "settings store cannot be nil")
	}
	interval := b.cfg.DefaultInterval
	if _, ok := config.ScanInterval(interval); !ok {
		return nil, errorwrapper.NewValidationError("default_interval", interval, "unknown scan interval")
	}
	return &ScanManager{
		executor:    b.executor,
		settings:    b.settings,
		metrics:     b.metrics,
		observer:    b.observer,
		gate:        b.gate,
		scanOnStart: b.cfg.ScanOnStart,
		now:         b.now,
		logger:      b.logger,
		interval:    interval,
		progress:    Progress{State: StateIdle},
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}, nil
}

// Restore loads the persisted interval, if any. An unknown stored value is
// logged and ignored.
func (m *ScanManager) Restore(ctx context.Context) error {
	key, ok, err := m.settings.GetSetting(ctx, config.ScanIntervalSettingKey)
	if err != nil {
		return WrapError(err, "failed to load scan interval")
	}
	if !ok {
		return nil
	}
	if _, valid := config.ScanInterval(key); !valid {
		m.logger.Warn().Str("interval", key).Msg("Ignoring unknown persisted scan interval")
		return nil
	}
	m.mu.Lock()
	m.interval = key
	m.mu.Unlock()
	return nil
}

// BeginScan opens the single-flight gate. It never blocks: ok is false when a
// scan or a sync is already active.
func (m *ScanManager) BeginScan() (runID string, ok bool) {
	runID, err := m.begin()
	return runID, err == nil
}

func (m *ScanManager) begin() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "", ErrScanInProgress
	}
	if m.gate != nil {
		if _, ok := m.gate.TryAcquire(HolderScan); !ok {
			return "", ErrSyncActive
		}
	}
	now := m.now()
	runID := uuid.NewString()
	m.running = true
	m.lastStarted = now
	m.progress = Progress{State: StateStarting, RunID: runID, StartedAt: now, UpdatedAt: now}
	m.metrics.ScanStarted()
	return runID, nil
}

// CompleteScan records the result, schedules the next cycle one interval from
// now, resets progress and releases the gate.
func (m *ScanManager) CompleteScan(result *models.ScanResult) {
	m.mu.Lock()
	now := m.now()
	elapsed := now.Sub(m.lastStarted)
	m.lastFinished = now
	m.nextRun = now.Add(m.intervalLocked())
	m.lastResult = result.Clone()
	m.progress = Progress{State: StateIdle}
	m.running = false
	if m.gate != nil {
		m.gate.Release(HolderScan)
	}
	m.mu.Unlock()

	status := metrics.StatusSuccess
	if result.HasErrors() {
		status = metrics.StatusError
	}
	m.metrics.ScanFinished(status, elapsed)
}

// UpdateProgress applies fn to the live progress. It is a no-op while idle.
func (m *ScanManager) UpdateProgress(fn func(*Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	fn(&m.progress)
	m.progress.UpdatedAt = m.now()
}

// Status returns a deep copy of the manager state.
func (m *ScanManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress
	p.Errors = append([]string(nil), m.progress.Errors...)
	return Status{
		Running:        m.running,
		Interval:       m.interval,
		NextRunAt:      m.nextRun,
		LastStartedAt:  m.lastStarted,
		LastFinishedAt: m.lastFinished,
		Progress:       p,
		LastResult:     m.lastResult.Clone(),
	}
}

// IsRunning reports whether a scan holds the gate.
func (m *ScanManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the active interval key.
func (m *ScanManager) Interval() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetInterval validates and persists key, then reschedules the next cycle
// relative to the last finished one.
func (m *ScanManager) SetInterval(ctx context.Context, key string) error {
	d, ok := config.ScanInterval(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterval, key)
	}
	if err := m.settings.SetSetting(ctx, config.ScanIntervalSettingKey, key); err != nil {
		return WrapError(err, "failed to persist scan interval")
	}

	m.mu.Lock()
	m.interval = key
	base := m.lastFinished
	if base.IsZero() {
		base = m.now()
	}
	m.nextRun = base.Add(d)
	next := m.nextRun
	m.mu.Unlock()

	m.logger.Info().Str("interval", key).Time("next_scan_time", next).Msg("Scan interval changed")
	m.signal()
	return nil
}

// RunScan executes one cycle synchronously.
func (m *ScanManager) RunScan(ctx context.Context) (*models.ScanResult, error) {
	runID, err := m.begin()
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, runID), nil
}

// TriggerScan starts a cycle in the background and returns its run id. The
// cycle is detached from ctx cancellation.
func (m *ScanManager) TriggerScan(ctx context.Context) (string, error) {
	runID, err := m.begin()
	if err != nil {
		return "", err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(context.WithoutCancel(ctx), runID)
	}()
	return runID, nil
}

// Run drives periodic scans until Stop is called or ctx is cancelled. A stop
// only interrupts the wait between cycles; an active cycle finishes first.
func (m *ScanManager) Run(ctx context.Context) error {
	m.logger.Info().Str("interval", m.Interval()).Msg("Starting periodic scan driver")
	if m.scanOnStart {
		m.runScheduled(ctx)
	}

	for {
		select {
		case <-m.stopChan:
			return m.shutdown("Stop signal received")
		case <-ctx.Done():
			return m.shutdown("Context cancelled")
		default:
		}

		wait, next := m.untilNext()
		m.logger.Info().Time("next_scan_time", next).Msg("Next scan scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			m.runScheduled(ctx)
		case <-m.wake:
			timer.Stop()
		case <-m.stopChan:
			timer.Stop()
			return m.shutdown("Stop signal received")
		case <-ctx.Done():
			timer.Stop()
			return m.shutdown("Context cancelled")
		}
	}
}

// Stop asks Run to return. Safe to call more than once.
func (m *ScanManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// Report maps pipeline events onto the progress state machine.
func (m *ScanManager) Report(stage progress.Stage, payload progress.Payload) {
	m.UpdateProgress(func(p *Progress) {
		switch stage {
		case progress.StageStart:
			p.State = StateFetch
			p.Message = payload.String("message")
		case progress.StageToken:
			p.State = StateListing
			p.Message = payload.String("message")
		case progress.StageListing:
			p.State = StateListing
			p.ListingsVisited++
			p.CurrentPath = payload.String("path")
		case progress.StageFile:
			p.State = StateParsing
			if n, ok := payload.Int64("count"); ok {
				p.FilesFound = int(n)
			}
		case progress.StageDetect:
			p.State = StateProcessing
			if n, ok := payload.Int64("count"); ok {
				p.ItemsDetected = int(n)
			}
		case progress.StageDownloadStart:
			p.State = StateDownloading
			p.CurrentItem, _ = payload.Int64("item_id")
			p.BytesDone = 0
			p.BytesTotal, _ = payload.Int64("total")
		case progress.StageDownloadChunk, progress.StageDownloadComplete:
			if n, ok := payload.Int64("bytes"); ok {
				p.BytesDone = n
			}
		case progress.StageError:
			p.State = StateError
			p.Message = payload.String("message")
			p.Errors = append(p.Errors, p.Message)
		default:
			p.Message = string(stage)
		}
	})
}

func (m *ScanManager) execute(ctx context.Context, runID string) (result *models.ScanResult) {
	started := m.now()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().Str("run_id", runID).Str("panic", fmt.Sprint(rec)).Msg("Scan cycle panicked")
			result = &models.ScanResult{
				RunID:      runID,
				StartedAt:  started,
				FinishedAt: m.now(),
				Errors:     []string{fmt.Sprintf("scan aborted: %v", rec)},
			}
		}
		m.CompleteScan(result)
	}()

	m.logger.Info().Str("run_id", runID).Msg("Scan cycle started")
	var reporter progress.Reporter = m
	if m.observer != nil {
		reporter = progress.Multi(m, progress.Safe(m.observer, m.logger))
	}
	return m.executor.Execute(ctx, runID, reporter)
}

func (m *ScanManager) runScheduled(ctx context.Context) {
	if _, err := m.RunScan(ctx); err != nil {
		m.logger.Info().Err(err).Msg("Scheduled scan skipped")
		m.mu.Lock()
		m.nextRun = m.now().Add(m.intervalLocked())
		m.mu.Unlock()
	}
}

func (m *ScanManager) untilNext() (time.Duration, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.nextRun.IsZero() {
		m.nextRun = now.Add(m.intervalLocked())
	}
	wait := m.nextRun.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, m.nextRun
}

func (m *ScanManager) intervalLocked() time.Duration {
	d, _ := config.ScanInterval(m.interval)
	return d
}

func (m *ScanManager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *ScanManager) shutdown(reason string) error {
	m.logger.Info().Str("reason", reason).Msg("Waiting for triggered scans before exiting")
	m.wg.Wait()
	m.logger.Info().Msg("Periodic scan driver stopped")
	return nil
}
