package downloader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
)

var (
	zipLocalMagic = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
)

// isZipHeader reports whether the first bytes of a file look like a ZIP.
func isZipHeader(head []byte) bool {
	return bytes.HasPrefix(head, zipLocalMagic) || bytes.HasPrefix(head, zipEmptyMagic)
}

// memberName returns the member's name as UTF-8. Archives produced by
// legacy Windows tools store Cyrillic names in CP866 without the UTF-8 flag.
func memberName(f *zip.File) string {
	name := f.Name
	if f.NonUTF8 && !utf8.ValidString(name) {
		if decoded, err := charmap.CodePage866.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}

// safeTarget joins name onto root and fails if the result leaves root.
func safeTarget(root, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", errorwrapper.ErrUnsafeArchive, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errorwrapper.ErrUnsafeArchive, name)
	}
	return target, nil
}

type plannedMember struct {
	file   *zip.File
	name   string
	target string
}

// extractArchive unpacks archivePath into dest, which must not exist yet.
// Every member is validated before anything is written, so an escaping
// member aborts the extraction with nothing on disk for it.
func extractArchive(archivePath, dest string, reporter progress.Reporter, logger zerolog.Logger) (int, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	plan := make([]plannedMember, 0, len(zr.File))
	for _, f := range zr.File {
		name := memberName(f)
		target, err := safeTarget(dest, name)
		if err != nil {
			return 0, err
		}
		if target == filepath.Clean(dest) {
			continue
		}
		plan = append(plan, plannedMember{file: f, name: name, target: target})
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	written := 0
	for i, m := range plan {
		mode := m.file.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			logger.Warn().Str("member", m.name).Msg("Skipping symlink archive member")
			continue
		case m.file.FileInfo().IsDir() || strings.HasSuffix(m.name, "/"):
			if err := os.MkdirAll(m.target, 0o755); err != nil {
				return written, fmt.Errorf("failed to create directory %s: %w", m.name, err)
			}
			continue
		}

		if err := writeMember(m.file, m.target); err != nil {
			return written, fmt.Errorf("failed to extract %s: %w", m.name, err)
		}
		written++
		reporter.Report(progress.StageExtractMember, progress.Payload{
			"member": m.name,
			"count":  i + 1,
			"total":  len(plan),
		})
	}
	return written, nil
}

func writeMember(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}
