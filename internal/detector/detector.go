// Package detector reconciles a crawl against the persisted items and
// classifies every record as new, updated or unchanged.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/timeutils"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/rs/zerolog"
)

// ItemStore is the slice of the datastore the detector mutates.
type ItemStore interface {
	GetItemByIdentity(ctx context.Context, title, fileURL string) (*models.Item, error)
	UpdateItemSeen(ctx context.Context, id int64, seen models.ItemSeen) error
	// RecordNew and RecordUpdate write the item row and its event together.
	RecordNew(ctx context.Context, item models.NewItem) (int64, error)
	RecordUpdate(ctx context.Context, id int64, seen models.ItemSeen) error
}

// Detector applies the classification rules. It never deletes anything.
type Detector struct {
	store  ItemStore
	logger zerolog.Logger
}

func NewDetector(store ItemStore, logger zerolog.Logger) *Detector {
	return &Detector{
		store:  store,
		logger: logger.With().Str("component", "Detector").Logger(),
	}
}

// Process classifies items against the store using now as the heartbeat time.
// A store failure on one record is recorded in the result's Errors and the
// remaining records are still processed.
func (d *Detector) Process(ctx context.Context, items []models.ScrapedItem, now time.Time) *models.ScanResult {
	now = now.UTC().Truncate(time.Second)
	result := &models.ScanResult{ItemsSeen: len(items)}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("detection interrupted: %v", err))
			break
		}
		if err := d.processOne(ctx, item, now, result); err != nil {
			d.logger.Error().Err(err).Str("title", item.Title).Msg("Failed to classify item")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Title, err))
		}
	}

	d.logger.Info().
		Int("new", len(result.NewItems)).
		Int("updated", len(result.UpdatedItems)).
		Int("unchanged", len(result.UnchangedItems)).
		Int("errors", len(result.Errors)).
		Msg("Detection finished")
	return result
}

func (d *Detector) processOne(ctx context.Context, item models.ScrapedItem, now time.Time, result *models.ScanResult) error {
	observed := timeutils.FormatObserved(item.Observed)

	existing, err := d.store.GetItemByIdentity(ctx, item.Title, item.FileURL)
	if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
		return fmt.Errorf("lookup failed: %w", err)
	}

	if existing == nil {
		id, err := d.store.RecordNew(ctx, models.NewItem{
			Title:        item.Title,
			Path:         item.Path,
			SourceURL:    item.SourceURL,
			FileURL:      item.FileURL,
			ObservedDate: observed,
			SeenAt:       now,
		})
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		result.NewItems = append(result.NewItems, id)
		return nil
	}

	lastSeen := timeutils.NormalizeObserved(existing.LastSeenDate)
	if IsNewer(observed, lastSeen) {
		seen := models.ItemSeen{ObservedDate: observed, SeenAt: now, Status: models.ItemStatusUpdated, Path: item.Path}
		if err := d.store.RecordUpdate(ctx, existing.ID, seen); err != nil {
			return fmt.Errorf("update of item %d failed: %w", existing.ID, err)
		}
		result.UpdatedItems = append(result.UpdatedItems, existing.ID)
		return nil
	}

	seen := models.ItemSeen{ObservedDate: lastSeen, SeenAt: now, Status: models.ItemStatusSeen, Path: item.Path}
	if err := d.store.UpdateItemSeen(ctx, existing.ID, seen); err != nil {
		return fmt.Errorf("heartbeat of item %d failed: %w", existing.ID, err)
	}
	result.UnchangedItems = append(result.UnchangedItems, existing.ID)
	return nil
}

// IsNewer reports whether observed is strictly later than lastSeen. Both are
// compared as ISO strings; an empty lastSeen means nothing was recorded yet.
func IsNewer(observed, lastSeen string) bool {
	return lastSeen == "" || observed > lastSeen
}
