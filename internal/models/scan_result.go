package models

import "time"

// ScanResult is the outcome of one detection pass plus the downloads it
// triggered.
type ScanResult struct {
	RunID          string    `json:"run_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ItemsSeen      int       `json:"items_seen"`
	NewItems       []int64   `json:"new_items"`
	UpdatedItems   []int64   `json:"updated_items"`
	UnchangedItems []int64   `json:"unchanged_items"`
	Downloaded     []int64   `json:"downloaded"`
	Errors         []string  `json:"errors"`
}

// HasErrors reports whether any soft error was collected.
func (r *ScanResult) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Clone returns a deep copy so snapshots never alias live slices.
func (r *ScanResult) Clone() *ScanResult {
	if r == nil {
		return nil
	}
	out := *r
	out.NewItems = cloneIDs(r.NewItems)
	out.UpdatedItems = cloneIDs(r.UpdatedItems)
	out.UnchangedItems = cloneIDs(r.UnchangedItems)
	out.Downloaded = cloneIDs(r.Downloaded)
	out.Errors = append([]string(nil), r.Errors...)
	return &out
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	return append([]int64(nil), ids...)
}
