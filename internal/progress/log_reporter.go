package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogReporter writes events to a logger. High-frequency stages (chunks,
// extracted members, discovered files) are throttled to one line per
// interval; every other stage is always logged.
type LogReporter struct {
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[Stage]time.Time
}

// NewLogReporter creates a LogReporter. A non-positive interval logs every
// event.
func NewLogReporter(logger zerolog.Logger, interval time.Duration) *LogReporter {
	return &LogReporter{
		logger:   logger.With().Str("component", "Progress").Logger(),
		interval: interval,
		now:      time.Now,
		lastSeen: make(map[Stage]time.Time),
	}
}

// Report implements Reporter.
func (r *LogReporter) Report(stage Stage, payload Payload) {
	if isHighFrequency(stage) && !r.due(stage) {
		return
	}
	r.logger.Info().
		Str("stage", string(stage)).
		Fields(map[string]any(payload)).
		Msg("Progress")
}

func (r *LogReporter) due(stage Stage) bool {
	if r.interval <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastSeen[stage]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.lastSeen[stage] = now
	return true
}

func isHighFrequency(stage Stage) bool {
	switch stage {
	case StageDownloadChunk, StageExtractMember, StageFile:
		return true
	}
	return false
}
