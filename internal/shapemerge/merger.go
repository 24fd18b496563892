// Package shapemerge folds the shapefile fragments of a canonical category
// folder into a single merged dataset.
package shapemerge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/jonas-p/go-shp"
	"github.com/rs/zerolog"
)

const (
	shpExt = ".shp"
	dbfExt = ".dbf"
	prjExt = ".prj"
	cpgExt = ".cpg"
)

// Merger reads <canonicalDir>/<key>/ and writes <mergedDir>/<key>/<key>.shp.
// Merges of the same category are serialized.
type Merger struct {
	canonicalDir string
	mergedDir    string
	logger       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Summary describes one category merge.
type Summary struct {
	Category  string
	Fragments int
	Records   int
	Skipped   []string
	Output    string
}

// NewMerger creates a merger.
func NewMerger(canonicalDir, mergedDir string, logger zerolog.Logger) *Merger {
	return &Merger{
		canonicalDir: canonicalDir,
		mergedDir:    mergedDir,
		logger:       logger.With().Str("component", "ShapeMerger").Logger(),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *Merger) lockCategory(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// OutputPath is the merged .shp of key.
func (m *Merger) OutputPath(key string) string {
	return filepath.Join(m.mergedDir, key, key+shpExt)
}

// MergeCategories merges every key. A failed category does not stop the
// others; all failures are joined into the returned error.
func (m *Merger) MergeCategories(ctx context.Context, keys []string, reporter progress.Reporter) error {
	reporter = progress.Safe(reporter, m.logger)
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		reporter.Report(progress.StageMergeStart, progress.Payload{"category": key})
		summary, err := m.MergeCategory(ctx, key)
		if err != nil {
			m.logger.Error().Err(err).Str("category", key).Msg("Category merge failed")
			errs = append(errs, err)
			continue
		}
		reporter.Report(progress.StageMergeComplete, progress.Payload{
			"category": key,
			"records":  summary.Records,
			"skipped":  len(summary.Skipped),
		})
	}
	return errors.Join(errs...)
}

// MergeCategory rebuilds the merged output of one category.
func (m *Merger) MergeCategory(ctx context.Context, key string) (*Summary, error) {
	unlock := m.lockCategory(key)
	defer unlock()

	summary := &Summary{Category: key}
	finalDir := filepath.Join(m.mergedDir, key)

	fragments, err := m.fragments(key)
	if err != nil {
		return nil, fmt.Errorf("listing fragments of %s: %w", key, err)
	}
	summary.Fragments = len(fragments)
	if len(fragments) == 0 {
		if err := os.RemoveAll(finalDir); err != nil {
			return nil, fmt.Errorf("removing stale merged output of %s: %w", key, err)
		}
		m.logger.Debug().Str("category", key).Msg("No fragments, merged output cleared")
		return summary, nil
	}

	if err := os.MkdirAll(m.mergedDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating merged dir: %w", err)
	}
	stagingDir, err := os.MkdirTemp(m.mergedDir, "."+key+".staging-")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	prototype, err := m.writeMerged(ctx, key, fragments, filepath.Join(stagingDir, key+shpExt), summary)
	if err != nil {
		return nil, err
	}
	if summary.Records == 0 {
		m.logger.Warn().
			Str("category", key).
			Int("fragments", summary.Fragments).
			Strs("skipped", summary.Skipped).
			Msg("No mergeable records, merged output left unchanged")
		return summary, nil
	}

	for _, ext := range []string{prjExt, cpgExt} {
		src := strings.TrimSuffix(prototype, shpExt) + ext
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(stagingDir, key+ext)); err != nil {
			m.logger.Warn().Err(err).Str("file", filepath.Base(src)).Msg("Could not copy companion file")
		}
	}

	if err := swapDir(stagingDir, finalDir); err != nil {
		return nil, fmt.Errorf("publishing merged output of %s: %w", key, err)
	}
	summary.Output = m.OutputPath(key)
	m.logger.Info().
		Str("category", key).
		Int("fragments", summary.Fragments).
		Int("records", summary.Records).
		Int("skipped", len(summary.Skipped)).
		Str("output", summary.Output).
		Msg("Merged dataset rebuilt")
	return summary, nil
}

// writeMerged copies every prototype-compatible fragment into target and
// returns the prototype path. The writer is only created once a prototype
// has been opened.
func (m *Merger) writeMerged(ctx context.Context, key string, fragments []string, target string, summary *Summary) (string, error) {
	var (
		writer    *shp.Writer
		prototype string
		geometry  shp.ShapeType
		fields    []shp.Field
	)
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	for _, fragment := range fragments {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name := filepath.Base(fragment)
		reader, err := shp.Open(fragment)
		if err != nil {
			m.logger.Warn().Err(err).Str("category", key).Str("fragment", name).Msg("Could not open fragment, skipping")
			summary.Skipped = append(summary.Skipped, name)
			continue
		}

		if writer == nil {
			geometry = reader.GeometryType
			fields = append([]shp.Field(nil), reader.Fields()...)
			writer, err = shp.Create(target, geometry)
			if err != nil {
				reader.Close()
				return "", fmt.Errorf("creating merged shapefile: %w", err)
			}
			if err := writer.SetFields(fields); err != nil {
				reader.Close()
				return "", fmt.Errorf("setting merged fields: %w", err)
			}
			prototype = fragment
		} else if reason := incompatible(geometry, fields, reader); reason != "" {
			m.logger.Warn().
				Str("category", key).
				Str("fragment", name).
				Str("reason", reason).
				Msg("Fragment does not match prototype, skipping")
			summary.Skipped = append(summary.Skipped, name)
			reader.Close()
			continue
		}

		n, err := copyRecords(writer, reader, len(fields))
		summary.Records += n
		if err != nil {
			m.logger.Warn().Err(err).Str("category", key).Str("fragment", name).Int("records", n).Msg("Fragment read stopped early")
		}
		reader.Close()
	}

	if writer == nil {
		return "", nil
	}
	w := writer
	writer = nil
	if err := closeWriter(w, target); err != nil {
		return "", fmt.Errorf("finalizing merged shapefile: %w", err)
	}
	return prototype, nil
}

// closeWriter flushes w and moves its attribute table into place. go-shp
// v0.1.1 names the table "<stem>dbf" while readers open "<stem>.dbf".
func closeWriter(w *shp.Writer, shpPath string) error {
	w.Close()
	stem := strings.TrimSuffix(shpPath, shpExt)
	if err := os.Rename(stem+"dbf", stem+dbfExt); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyRecords(w *shp.Writer, r *shp.Reader, fieldCount int) (int, error) {
	n := 0
	for r.Next() {
		src, shape := r.Shape()
		row := int(w.Write(shape))
		for f := 0; f < fieldCount; f++ {
			value := strings.TrimRight(r.ReadAttribute(src, f), "\x00")
			if value == "" {
				continue
			}
			if err := w.WriteAttribute(row, f, value); err != nil {
				return n, fmt.Errorf("record %d field %d: %w", src, f, err)
			}
		}
		n++
	}
	return n, r.Err()
}

// incompatible explains why r cannot be merged under the prototype schema.
func incompatible(geometry shp.ShapeType, fields []shp.Field, r *shp.Reader) string {
	if r.GeometryType != geometry {
		return fmt.Sprintf("geometry type %d, want %d", r.GeometryType, geometry)
	}
	other := r.Fields()
	if len(other) != len(fields) {
		return fmt.Sprintf("%d fields, want %d", len(other), len(fields))
	}
	for i := range fields {
		if !sameField(fields[i], other[i]) {
			return fmt.Sprintf("field %d is %s, want %s", i, other[i], fields[i])
		}
	}
	return ""
}

func sameField(a, b shp.Field) bool {
	return a.Name == b.Name && a.Fieldtype == b.Fieldtype && a.Size == b.Size && a.Precision == b.Precision
}

// fragments lists the .shp files of a category folder that have a sibling
// .dbf, sorted by name.
func (m *Merger) fragments(key string) ([]string, error) {
	dir := filepath.Join(m.canonicalDir, key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != shpExt {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := os.Stat(strings.TrimSuffix(path, shpExt) + dbfExt); err != nil {
			m.logger.Debug().Str("fragment", e.Name()).Msg("Fragment has no attribute table, ignoring")
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// swapDir replaces dst with src, keeping dst intact until src is in place.
func swapDir(src, dst string) error {
	backup := dst + ".old"
	if err := os.RemoveAll(backup); err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if _, statErr := os.Stat(backup); statErr == nil {
			_ = os.Rename(backup, dst)
		}
		return err
	}
	return os.RemoveAll(backup)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
