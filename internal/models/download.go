package models

import "time"

// Download is one materialized archive artifact. Rows are append-only.
type Download struct {
	ID           int64     `json:"id"`
	ItemID       int64     `json:"item_id"`
	DownloadedAt time.Time `json:"downloaded_at"`
	FilePath     string    `json:"file_path"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256"`
	ObservedDate string    `json:"observed_date,omitempty"`
}

// EventKind labels a change observation.
type EventKind string

const (
	EventNew     EventKind = "NEW"
	EventUpdated EventKind = "UPDATED"
)

// Event is an append-only record that an item appeared or changed.
type Event struct {
	ID           int64     `json:"id"`
	ItemID       int64     `json:"item_id"`
	Kind         EventKind `json:"event_type"`
	ObservedDate string    `json:"observed_date,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Stats summarizes the item table.
type Stats struct {
	Total     int `json:"total"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Monitored int `json:"monitored"`
	Ignored   int `json:"ignored"`
}
