package downloader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aleister1102/kaismonitor/internal/storagepath"
)

// transliterateTree renames every entry below root to its transliterated
// name. Entries are processed deepest first so a directory is renamed only
// after everything inside it. A name that is already taken gets a numeric
// suffix. It returns how many entries were renamed.
func transliterateTree(root string) (int, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})

	renamed := 0
	for _, p := range paths {
		base := filepath.Base(p)
		name := strings.TrimSpace(storagepath.Transliterate(base))
		if name == "" || name == base {
			continue
		}
		info, err := os.Lstat(p)
		if err != nil {
			return renamed, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		target := availableName(filepath.Dir(p), name, info.IsDir())
		if err := os.Rename(p, target); err != nil {
			return renamed, fmt.Errorf("failed to rename %s: %w", p, err)
		}
		renamed++
	}
	return renamed, nil
}

// availableName returns dir/name, or dir/stem_N.ext for the first N that is
// not taken.
func availableName(dir, name string, isDir bool) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}
	stem, ext := name, ""
	if !isDir {
		ext = filepath.Ext(name)
		stem = strings.TrimSuffix(name, ext)
	}
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func depth(p string) int {
	return strings.Count(filepath.Clean(p), string(filepath.Separator))
}
