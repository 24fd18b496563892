package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aleister1102/kaismonitor/internal/models"
)

const downloadColumns = `downloads.id, downloads.item_id, downloads.file_path, downloads.sha256,
	downloads.size, downloads.downloaded_at, downloads.observed_date_in_table`

// nullableDownload receives a LEFT JOINed download row.
type nullableDownload struct {
	id, itemID, size                          sql.NullInt64
	filePath, sha, downloadedAt, observedDate sql.NullString
}

func (d *nullableDownload) dest() []any {
	return []any{&d.id, &d.itemID, &d.filePath, &d.sha, &d.size, &d.downloadedAt, &d.observedDate}
}

func (d *nullableDownload) toModel() *models.Download {
	if !d.id.Valid {
		return nil
	}
	return &models.Download{
		ID:           d.id.Int64,
		ItemID:       d.itemID.Int64,
		FilePath:     d.filePath.String,
		SHA256:       d.sha.String,
		SizeBytes:    d.size.Int64,
		DownloadedAt: parseTime(d.downloadedAt),
		ObservedDate: d.observedDate.String,
	}
}

func (s *Store) queryDownload(ctx context.Context, query string, args ...any) (*models.Download, error) {
	var d nullableDownload
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(d.dest()...); err != nil {
		return nil, err
	}
	return d.toModel(), nil
}

// RecordDownload appends a download row and returns its id.
func (s *Store) RecordDownload(ctx context.Context, d models.Download) (int64, error) {
	downloadedAt := d.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads(item_id, file_path, sha256, size, downloaded_at, observed_date_in_table)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		d.ItemID, d.FilePath, d.SHA256, d.SizeBytes, formatTime(downloadedAt),
		sql.NullString{String: d.ObservedDate, Valid: d.ObservedDate != ""})
	if err != nil {
		s.logger.Error().Err(err).Int64("item_id", d.ItemID).Msg("Failed to record download")
		return 0, fmt.Errorf("failed to record download for item %d: %w", d.ItemID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// LatestDownload returns the most recent download of an item.
func (s *Store) LatestDownload(ctx context.Context, itemID int64) (*models.Download, error) {
	d, err := s.queryDownload(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE item_id = ?
		 ORDER BY downloaded_at DESC, id DESC LIMIT 1`, itemID)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest download of item %d: %w", itemID, err)
	}
	return d, nil
}

// GetDownload fetches one download by id.
func (s *Store) GetDownload(ctx context.Context, id int64) (*models.Download, error) {
	d, err := s.queryDownload(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query download %d: %w", id, err)
	}
	return d, nil
}

// AddEvent appends an audit event.
func (s *Store) AddEvent(ctx context.Context, itemID int64, kind models.EventKind, observedDate string, at time.Time) (int64, error) {
	return insertEvent(ctx, s.db, itemID, kind, observedDate, at)
}

func insertEvent(ctx context.Context, db execer, itemID int64, kind models.EventKind, observedDate string, at time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO events(item_id, kind, observed_date_in_table, observed_at) VALUES(?, ?, ?, ?)`,
		itemID, string(kind), observedDate, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s event for item %d: %w", kind, itemID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// EventsForItem returns an item's history, newest first.
func (s *Store) EventsForItem(ctx context.Context, itemID int64) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, kind, observed_date_in_table, observed_at FROM events
		 WHERE item_id = ? ORDER BY observed_at DESC, id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events of item %d: %w", itemID, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e          models.Event
			kind       string
			recordedAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &kind, &e.ObservedDate, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Kind = models.EventKind(kind)
		e.RecordedAt = parseTime(recordedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
