package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aleister1102/kaismonitor/internal/models"
)

const itemColumns = `items.id, items.title, items.source_url, items.file_url, items.path,
	items.last_seen_date, items.first_seen_at, items.last_seen_at,
	items.monitored, items.ignored, items.status`

// FlagUpdate changes the monitored and ignored flags. Nil leaves a flag
// untouched. Setting one flag to true clears the other.
type FlagUpdate struct {
	Monitored *bool
	Ignored   *bool
}

func (f FlagUpdate) assignments() ([]string, []any) {
	var sets []string
	var args []any
	if f.Monitored != nil {
		sets = append(sets, "monitored = ?")
		args = append(args, boolToInt(*f.Monitored))
		if *f.Monitored {
			sets = append(sets, "ignored = 0")
		}
	}
	if f.Ignored != nil {
		sets = append(sets, "ignored = ?")
		args = append(args, boolToInt(*f.Ignored))
		if *f.Ignored {
			sets = append(sets, "monitored = 0")
		}
	}
	return sets, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, extra ...any) (*models.Item, error) {
	var (
		item                    models.Item
		sourceURL, lastSeenDate sql.NullString
		firstSeenAt, lastSeenAt sql.NullString
		monitored, ignored      int
		status                  string
	)
	dest := []any{
		&item.ID, &item.Title, &sourceURL, &item.FileURL, &item.Path,
		&lastSeenDate, &firstSeenAt, &lastSeenAt,
		&monitored, &ignored, &status,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	item.SourceURL = sourceURL.String
	item.LastSeenDate = lastSeenDate.String
	item.FirstSeenAt = parseTime(firstSeenAt)
	item.LastSeenAt = parseTime(lastSeenAt)
	item.Monitored = monitored != 0
	item.Ignored = ignored != 0
	item.Status = models.ItemStatus(status)
	return &item, nil
}

// GetItemByIdentity looks an item up by its (title, file URL) identity.
func (s *Store) GetItemByIdentity(ctx context.Context, title, fileURL string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE title = ? AND file_url = ?`, title, fileURL)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item %q: %w", title, err)
	}
	return item, nil
}

// GetItem fetches one item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item %d: %w", id, err)
	}
	return item, nil
}

// CreateItem inserts a first-seen item with status new.
func (s *Store) CreateItem(ctx context.Context, n models.NewItem) (int64, error) {
	return s.insertItem(ctx, s.db, n)
}

func (s *Store) insertItem(ctx context.Context, db execer, n models.NewItem) (int64, error) {
	seenAt := formatTime(n.SeenAt)
	result, err := db.ExecContext(ctx,
		`INSERT INTO items(title, source_url, file_url, path, last_seen_date, first_seen_at, last_seen_at, status)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Title, n.SourceURL, n.FileURL, n.Path,
		sql.NullString{String: n.ObservedDate, Valid: n.ObservedDate != ""},
		seenAt, seenAt, string(models.ItemStatusNew))
	if err != nil {
		s.logger.Error().Err(err).Str("title", n.Title).Msg("Failed to insert item")
		return 0, fmt.Errorf("failed to insert item %q: %w", n.Title, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// RecordNew inserts a first-seen item and its NEW event atomically.
func (s *Store) RecordNew(ctx context.Context, n models.NewItem) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if id, err = s.insertItem(ctx, tx, n); err != nil {
			return err
		}
		_, err = insertEvent(ctx, tx, id, models.EventNew, n.ObservedDate, n.SeenAt)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateItemSeen records that a scan observed the item again. An empty Path
// keeps the stored one.
func (s *Store) UpdateItemSeen(ctx context.Context, id int64, seen models.ItemSeen) error {
	return updateItemSeen(ctx, s.db, id, seen)
}

// RecordUpdate advances an item to a newer observed date and appends its
// UPDATED event atomically. A failure leaves both the row and the history
// untouched, so the next scan detects the change again.
func (s *Store) RecordUpdate(ctx context.Context, id int64, seen models.ItemSeen) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateItemSeen(ctx, tx, id, seen); err != nil {
			return err
		}
		_, err := insertEvent(ctx, tx, id, models.EventUpdated, seen.ObservedDate, seen.SeenAt)
		return err
	})
}

func updateItemSeen(ctx context.Context, db execer, id int64, seen models.ItemSeen) error {
	sets := []string{"last_seen_date = ?", "last_seen_at = ?", "status = ?"}
	args := []any{
		sql.NullString{String: seen.ObservedDate, Valid: seen.ObservedDate != ""},
		formatTime(seen.SeenAt),
		string(seen.Status),
	}
	if seen.Path != "" {
		sets = append(sets, "path = ?")
		args = append(args, seen.Path)
	}
	args = append(args, id)

	result, err := db.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", id, err)
	}
	return requireAffected(result, id)
}

// MarkItemFlags toggles monitoring or ignoring for one item.
func (s *Store) MarkItemFlags(ctx context.Context, id int64, update FlagUpdate) error {
	sets, args := update.assignments()
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update flags for item %d: %w", id, err)
	}
	return requireAffected(result, id)
}

// MarkItemsByPath applies update to every item at or below prefix and
// returns how many rows changed. An empty prefix (or "/") selects all items.
func (s *Store) MarkItemsByPath(ctx context.Context, prefix string, update FlagUpdate) (int64, error) {
	sets, args := update.assignments()
	if len(sets) == 0 {
		return 0, nil
	}

	query := `UPDATE items SET ` + strings.Join(sets, ", ")
	if p := normalizePrefix(prefix); p != "" {
		query += ` WHERE path = ? OR path LIKE ? ESCAPE '\'`
		args = append(args, p, escapeLike(p)+"/%")
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update flags under %q: %w", prefix, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	s.logger.Info().Str("prefix", prefix).Int64("items", n).Msg("Updated item flags by path")
	return n, nil
}

// ListItems returns items joined with their latest download, most recently
// seen first.
func (s *Store) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.ItemWithDownload, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.MonitoredOnly {
		clauses = append(clauses, "items.monitored = 1")
	}
	if filter.Status != "" {
		clauses = append(clauses, "items.status = ?")
		args = append(args, string(filter.Status))
	}
	if p := normalizePrefix(filter.PathPrefix); p != "" {
		clauses = append(clauses, `(items.path = ? OR items.path LIKE ? ESCAPE '\')`)
		args = append(args, p, escapeLike(p)+"/%")
	}

	query := `SELECT ` + itemColumns + `, ` + downloadColumns + `
		FROM items
		LEFT JOIN downloads ON downloads.id = (
			SELECT d.id FROM downloads AS d
			WHERE d.item_id = items.id
			ORDER BY d.downloaded_at DESC, d.id DESC
			LIMIT 1
		)`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY COALESCE(items.last_seen_at, '') DESC, items.title`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []models.ItemWithDownload
	for rows.Next() {
		var dl nullableDownload
		item, err := scanItem(rows, dl.dest()...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		out = append(out, models.ItemWithDownload{Item: *item, LatestDownload: dl.toModel()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return out, nil
}

// Stats counts items by status and flag.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'new'), 0),
			COALESCE(SUM(status = 'updated'), 0),
			COALESCE(SUM(monitored = 1), 0),
			COALESCE(SUM(ignored = 1), 0)
		FROM items`).Scan(&stats.Total, &stats.New, &stats.Updated, &stats.Monitored, &stats.Ignored)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

func requireAffected(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, models.ErrRecordNotFound)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	p := strings.TrimRight(strings.TrimSpace(prefix), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
