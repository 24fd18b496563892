package downloader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aleister1102/kaismonitor/internal/blob"
	"github.com/aleister1102/kaismonitor/internal/shapemerge"
	"github.com/jonas-p/go-shp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shapefileEntries writes a two-point shapefile and returns its parts as
// zip members under dir.
func shapefileEntries(t *testing.T, dir string) []zipEntry {
	t.Helper()
	stem := filepath.Join(t.TempDir(), "sgradi")
	w, err := shp.Create(stem+".shp", shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 10)}))
	for i, name := range []string{"north", "south"} {
		row := w.Write(&shp.Point{X: float64(i), Y: float64(i)})
		require.NoError(t, w.WriteAttribute(int(row), 0, name))
	}
	w.Close()
	require.NoError(t, os.Rename(stem+"dbf", stem+".dbf"))
	require.NoError(t, os.WriteFile(stem+".prj", []byte("PROJCS[]"), 0o644))

	entries := []zipEntry{{name: dir, dir: true}}
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		data, err := os.ReadFile(stem + ext)
		require.NoError(t, err)
		entries = append(entries, zipEntry{name: dir + "/Сгради" + strings.ToUpper(ext), body: string(data)})
	}
	return entries
}

func mergedRecords(t *testing.T, path string) []string {
	t.Helper()
	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for r.Next() {
		row, _ := r.Shape()
		names = append(names, strings.TrimRight(r.ReadAttribute(row, 0), "\x00"))
	}
	return names
}

func TestDownload_PipelineIsIdempotent(t *testing.T) {
	var (
		consolidator *blob.Consolidator
		merger       *shapemerge.Merger
	)
	f := newFixture(t, func(b *DownloaderBuilder) {
		base := b.storage.BasePath
		consolidator = blob.NewConsolidator(filepath.Join(base, "canonical"), []string{"Sgradi"}, zerolog.Nop())
		merger = shapemerge.NewMerger(filepath.Join(base, "canonical"), filepath.Join(base, "merged"), zerolog.Nop())
		b.WithConsolidator(consolidator).WithMerger(merger)
	})
	f.body = buildZip(t, shapefileEntries(t, "Сгради")...)

	canonical := consolidator.Dir("sgradi")
	mergedDir := filepath.Join(f.base, "merged", "sgradi")

	var blobs, merged [][]string
	for run := 0; run < 2; run++ {
		res, err := f.dl.Download(context.Background(), f.request(), nil)
		require.NoError(t, err, "run %d", run)
		assert.Equal(t, []string{"sgradi"}, res.Categories)

		blobs = append(blobs, listTree(t, canonical))
		merged = append(merged, listTree(t, mergedDir))
		assert.Equal(t, []string{"north", "south"}, mergedRecords(t, merger.OutputPath("sgradi")), "run %d", run)
	}

	assert.Equal(t, []string{
		"7__Sgradi__Sgradi.dbf",
		"7__Sgradi__Sgradi.prj",
		"7__Sgradi__Sgradi.shp",
		"7__Sgradi__Sgradi.shx",
	}, blobs[0])
	assert.Equal(t, blobs[0], blobs[1])
	assert.Equal(t, []string{"sgradi.dbf", "sgradi.prj", "sgradi.shp", "sgradi.shx"}, merged[0])
	assert.Equal(t, merged[0], merged[1])
	assert.Len(t, f.store.downloads, 2)
}
