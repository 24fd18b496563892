package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aleister1102/kaismonitor/internal/downloader"
	"github.com/aleister1102/kaismonitor/internal/metrics"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
)

// ItemLister lists items joined with their latest download.
type ItemLister interface {
	ListItems(ctx context.Context, filter models.ItemFilter) ([]models.ItemWithDownload, error)
}

// SyncStatus is a snapshot of the sync manager.
type SyncStatus struct {
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Total       int       `json:"total"`
	Done        int       `json:"done"`
	CurrentItem int64     `json:"current_item,omitempty"`
	Downloaded  []int64   `json:"downloaded,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

func (s SyncStatus) clone() SyncStatus {
	s.Downloaded = append([]int64(nil), s.Downloaded...)
	s.Errors = append([]string(nil), s.Errors...)
	return s
}

// SyncManager re-downloads monitored items whose local copy is missing or
// older than the remote one. It has its own single-flight flag and claims the
// shared RunGate, so it never overlaps a scan.
type SyncManager struct {
	store      ItemLister
	downloader ItemDownloader
	gate       *RunGate
	metrics    *metrics.Metrics
	reporter   progress.Reporter
	fileExists func(path string) bool
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	status  SyncStatus
	wg      sync.WaitGroup
}

// NewSyncManager creates a sync manager. gate may be nil when no scan manager
// exists in the process.
func NewSyncManager(store ItemLister, dl ItemDownloader, gate *RunGate, m *metrics.Metrics, logger zerolog.Logger) *SyncManager {
	logger = logger.With().Str("component", "SyncManager").Logger()
	return &SyncManager{
		store:      store,
		downloader: dl,
		gate:       gate,
		metrics:    m,
		reporter:   progress.NewLogReporter(logger, 5*time.Second),
		fileExists: fileExists,
		now:        time.Now,
		logger:     logger,
	}
}

// Candidates returns the monitored items whose sync state is missing or
// outdated, in listing order.
func (s *SyncManager) Candidates(ctx context.Context) ([]models.ItemWithDownload, error) {
	items, err := s.store.ListItems(ctx, models.ItemFilter{MonitoredOnly: true})
	if err != nil {
		return nil, WrapError(err, "failed to list monitored items")
	}
	var out []models.ItemWithDownload
	for _, item := range items {
		if item.Ignored || item.FileURL == "" {
			continue
		}
		exists := item.LatestDownload != nil && s.fileExists(item.LatestDownload.FilePath)
		if item.SyncState(exists).NeedsSync() {
			out = append(out, item)
		}
	}
	return out, nil
}

// Start launches a sync in the background. The run is detached from ctx
// cancellation.
func (s *SyncManager) Start(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx))
	}()
	return nil
}

// Run performs a sync synchronously and returns its final status.
func (s *SyncManager) Run(ctx context.Context) (SyncStatus, error) {
	if err := s.begin(); err != nil {
		return SyncStatus{}, err
	}
	s.run(ctx)
	return s.Status(), nil
}

// Status returns a snapshot of the current or last run.
func (s *SyncManager) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// IsRunning reports whether a sync holds the gate.
func (s *SyncManager) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until background runs started with Start have returned.
func (s *SyncManager) Wait() {
	s.wg.Wait()
}

func (s *SyncManager) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSyncInProgress
	}
	if s.gate != nil {
		if _, ok := s.gate.TryAcquire(HolderSync); !ok {
			return ErrScanActive
		}
	}
	s.running = true
	s.status = SyncStatus{Running: true, StartedAt: s.now()}
	return nil
}

func (s *SyncManager) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().Str("panic", fmt.Sprint(rec)).Msg("Sync run panicked")
			s.update(func(st *SyncStatus) {
				st.Errors = append(st.Errors, fmt.Sprintf("sync aborted: %v", rec))
			})
		}
		s.finish()
	}()

	candidates, err := s.Candidates(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Could not compute sync candidates")
		s.update(func(st *SyncStatus) { st.Errors = append(st.Errors, err.Error()) })
		return
	}
	s.update(func(st *SyncStatus) { st.Total = len(candidates) })
	s.logger.Info().Int("candidates", len(candidates)).Msg("Sync started")

	for _, item := range candidates {
		if err := ctx.Err(); err != nil {
			s.update(func(st *SyncStatus) {
				st.Errors = append(st.Errors, fmt.Sprintf("sync interrupted: %v", err))
			})
			return
		}
		s.update(func(st *SyncStatus) { st.CurrentItem = item.ID })

		res, err := s.downloader.Download(ctx, downloader.Request{
			ItemID:       item.ID,
			FileURL:      item.FileURL,
			ObservedDate: item.LastSeenDate,
		}, s.reporter)

		s.update(func(st *SyncStatus) {
			st.Done++
			st.CurrentItem = 0
			switch {
			case err != nil:
				st.Errors = append(st.Errors, fmt.Sprintf("item %d: %v", item.ID, err))
			case res != nil:
				st.Downloaded = append(st.Downloaded, item.ID)
			}
		})
		if err != nil {
			s.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("Sync download failed, continuing")
		}
	}
}

func (s *SyncManager) update(fn func(*SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *SyncManager) finish() {
	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.FinishedAt = s.now()
	st := s.status.clone()
	if s.gate != nil {
		s.gate.Release(HolderSync)
	}
	s.mu.Unlock()

	status := metrics.StatusSuccess
	if len(st.Errors) > 0 {
		status = metrics.StatusError
	}
	s.metrics.SyncFinished(status)
	s.logger.Info().
		Int("total", st.Total).
		Int("downloaded", len(st.Downloaded)).
		Int("errors", len(st.Errors)).
		Msg("Sync finished")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
