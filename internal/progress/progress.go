// Package progress carries stage events from the crawler and downloader to
// whoever is watching a scan.
package progress

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Stage tags one kind of event.
type Stage string

const (
	StageStart   Stage = "start"
	StageToken   Stage = "token"
	StageListing Stage = "listing"
	StageFile    Stage = "file"
	StageDetect  Stage = "detect"

	StageDownloadStart    Stage = "download:start"
	StageDownloadChunk    Stage = "download:chunk"
	StageDownloadComplete Stage = "download:complete"

	StageExtractStart    Stage = "extract:start"
	StageExtractMember   Stage = "extract:member"
	StageExtractComplete Stage = "extract:complete"

	StageBlobStart    Stage = "blob:start"
	StageBlobComplete Stage = "blob:complete"

	StageMergeStart    Stage = "merge:start"
	StageMergeComplete Stage = "merge:complete"

	StageError Stage = "error"
)

// Payload is the structured body of an event. Keys used across the pipeline:
// path, count, entries, item_id, url, bytes, total, sha256, file, member,
// category, records, skipped, message.
type Payload map[string]any

// Int64 reads an integer field regardless of the concrete integer type.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// String reads a string field.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Reporter receives progress events. Implementations must be safe for use
// from the goroutine running a scan.
type Reporter interface {
	Report(stage Stage, payload Payload)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(stage Stage, payload Payload)

// Report calls f.
func (f ReporterFunc) Report(stage Stage, payload Payload) {
	f(stage, payload)
}

// Nop discards every event.
var Nop Reporter = ReporterFunc(func(Stage, Payload) {})

type safeReporter struct {
	inner  Reporter
	logger zerolog.Logger
}

// Safe wraps r so that a panicking reporter is logged instead of tearing
// down the operation that emitted the event. A nil r yields Nop.
func Safe(r Reporter, logger zerolog.Logger) Reporter {
	if r == nil {
		return Nop
	}
	if _, ok := r.(*safeReporter); ok {
		return r
	}
	return &safeReporter{inner: r, logger: logger}
}

func (s *safeReporter) Report(stage Stage, payload Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn().
				Str("stage", string(stage)).
				Str("panic", fmt.Sprint(rec)).
				Msg("Progress reporter failed, event dropped")
		}
	}()
	s.inner.Report(stage, payload)
}

// Multi fans events out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	var list []Reporter
	for _, r := range reporters {
		if r != nil {
			list = append(list, r)
		}
	}
	return ReporterFunc(func(stage Stage, payload Payload) {
		for _, r := range list {
			r.Report(stage, payload)
		}
	})
}
