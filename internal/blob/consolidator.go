// Package blob copies category files from an item's extraction into flat
// per-category canonical folders.
package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/aleister1102/kaismonitor/internal/storagepath"
	"github.com/rs/zerolog"
)

const nameSeparator = "__"

// CategoryKey normalizes a category or directory name for comparison:
// lowercase letters and digits only.
func CategoryKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Consolidator maintains <canonicalDir>/<key>/ folders.
type Consolidator struct {
	canonicalDir string
	categories   map[string]string
	logger       zerolog.Logger
}

// NewConsolidator creates a consolidator for the given category names.
func NewConsolidator(canonicalDir string, categories []string, logger zerolog.Logger) *Consolidator {
	keys := make(map[string]string, len(categories))
	for _, c := range categories {
		if k := CategoryKey(c); k != "" {
			keys[k] = c
		}
	}
	return &Consolidator{
		canonicalDir: canonicalDir,
		categories:   keys,
		logger:       logger.With().Str("component", "BlobConsolidator").Logger(),
	}
}

// Keys returns the recognized category keys, sorted.
func (c *Consolidator) Keys() []string {
	keys := make([]string, 0, len(c.categories))
	for k := range c.categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dir is the canonical folder of a category key.
func (c *Consolidator) Dir(key string) string {
	return filepath.Join(c.canonicalDir, key)
}

// Consolidate replaces every blob contributed by itemID with copies of the
// category files currently under extractedDir. It returns the keys of the
// categories that gained or lost files.
func (c *Consolidator) Consolidate(ctx context.Context, itemID int64, extractedDir string, reporter progress.Reporter) ([]string, error) {
	reporter = progress.Safe(reporter, c.logger)
	touched := c.removePrior(itemID)

	copied := 0
	err := filepath.WalkDir(extractedDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() || p == extractedDir {
			return nil
		}
		key := CategoryKey(d.Name())
		if _, ok := c.categories[key]; !ok {
			return nil
		}

		n, err := c.copyCategory(itemID, key, p)
		if err != nil {
			return err
		}
		if n > 0 {
			touched[key] = struct{}{}
			copied += n
		}
		return filepath.SkipDir
	})
	if err != nil {
		return sortedKeys(touched), fmt.Errorf("consolidating item %d: %w", itemID, err)
	}

	keys := sortedKeys(touched)
	c.logger.Info().
		Int64("item_id", itemID).
		Int("files", copied).
		Strs("categories", keys).
		Msg("Canonical blobs refreshed")
	reporter.Report(progress.StageBlobComplete, progress.Payload{"item_id": itemID, "count": copied, "categories": keys})
	return keys, nil
}

// copyCategory copies every file below dir into the key's canonical folder.
func (c *Consolidator) copyCategory(itemID int64, key, dir string) (int, error) {
	target := c.Dir(key)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return 0, err
	}

	dirName := storagepath.SanitizeSegment(filepath.Base(dir))
	copied := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := BlobName(itemID, dirName, rel)
		if err := copyFile(p, filepath.Join(target, name)); err != nil {
			return fmt.Errorf("copying %s: %w", rel, err)
		}
		copied++
		return nil
	})
	return copied, err
}

// BlobName builds <itemID>__<dirName>__<rel segments joined by "__"> with
// every part sanitized and the extension lower-cased.
func BlobName(itemID int64, dirName, rel string) string {
	parts := []string{strconv.FormatInt(itemID, 10)}
	if dirName != "" {
		parts = append(parts, dirName)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segments {
		if i == len(segments)-1 {
			ext := filepath.Ext(seg)
			seg = strings.TrimSuffix(seg, ext) + strings.ToLower(ext)
		}
		if cleaned := storagepath.SanitizeSegment(seg); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return strings.Join(parts, nameSeparator)
}

// removePrior deletes blobs of itemID from every category folder. Failures
// are logged and skipped.
func (c *Consolidator) removePrior(itemID int64) map[string]struct{} {
	touched := make(map[string]struct{})
	prefix := strconv.FormatInt(itemID, 10) + nameSeparator

	entries, err := os.ReadDir(c.canonicalDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Msg("Could not list canonical folders")
		}
		return touched
	}
	for _, category := range entries {
		if !category.IsDir() {
			continue
		}
		dir := filepath.Join(c.canonicalDir, category.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Warn().Err(err).Str("dir", dir).Msg("Could not list canonical folder")
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasPrefix(f.Name(), prefix) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				c.logger.Warn().Err(err).Str("file", f.Name()).Msg("Could not remove stale blob")
				continue
			}
			touched[category.Name()] = struct{}{}
		}
	}
	return touched
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
