package models

import (
	"errors"
	"time"
)

// ErrRecordNotFound is returned when a record is not found in the store.
var ErrRecordNotFound = errors.New("record not found")

// ItemStatus is the classification assigned to an item by the last scan that saw it.
type ItemStatus string

const (
	ItemStatusNew     ItemStatus = "new"
	ItemStatusUpdated ItemStatus = "updated"
	ItemStatusSeen    ItemStatus = "seen"
)

// ScrapedItem is one file discovered in the remote listing.
type ScrapedItem struct {
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	FileURL   string    `json:"file_url"`
	SourceURL string    `json:"source_url"`
	Observed  time.Time `json:"observed"`
}

// Item is the persisted record for a remote file, keyed by (Title, FileURL).
type Item struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Path         string     `json:"path,omitempty"`
	SourceURL    string     `json:"source_url"`
	FileURL      string     `json:"file_url"`
	FirstSeenAt  time.Time  `json:"first_seen_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	LastSeenDate string     `json:"last_seen_date,omitempty"`
	Status       ItemStatus `json:"status"`
	Monitored    bool       `json:"monitored"`
	Ignored      bool       `json:"ignored"`
}

// NewItem carries what the detector knows when it first sees a file.
type NewItem struct {
	Title        string
	Path         string
	SourceURL    string
	FileURL      string
	ObservedDate string
	SeenAt       time.Time
}

// ItemSeen updates an existing item after a scan observed it again.
type ItemSeen struct {
	ObservedDate string
	SeenAt       time.Time
	Status       ItemStatus
	Path         string
}

// ItemFilter narrows ListItems. Zero values mean "no constraint".
type ItemFilter struct {
	MonitoredOnly bool
	Status        ItemStatus
	PathPrefix    string
}

// ItemWithDownload is an item joined with its most recent download, if any.
type ItemWithDownload struct {
	Item
	LatestDownload *Download `json:"latest_download,omitempty"`
}

// SyncState derives the local synchronization state of the item. fileExists
// reports whether the latest download's file is present on disk.
func (i ItemWithDownload) SyncState(fileExists bool) SyncState {
	return ComputeSyncState(i.Monitored, i.LastSeenDate, i.LatestDownload, fileExists)
}
