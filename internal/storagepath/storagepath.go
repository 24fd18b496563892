// Package storagepath maps remote listing paths onto a deterministic local
// directory layout that never leaves the storage base.
package storagepath

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ItemRef is the subset of an item needed to place it on disk.
type ItemRef struct {
	ID      int64
	Path    string
	Title   string
	FileURL string
}

// Location is where an item lives below the storage base.
type Location struct {
	Root     string // absolute item directory
	Relative string // Root relative to the base
	Filename string // sanitized archive name derived from the download URL
}

// Segments returns the sanitized directory components for ref. It is never
// empty.
func Segments(ref ItemRef) []string {
	candidate := strings.TrimSpace(ref.Path)
	if candidate == "" && ref.Title != "" {
		candidate = strings.ReplaceAll(ref.Title, " / ", "/")
	}
	candidate = strings.Trim(strings.ReplaceAll(candidate, `\`, "/"), "/")

	var segments []string
	for _, piece := range strings.Split(candidate, "/") {
		if piece == "" || piece == "." || piece == ".." {
			continue
		}
		if cleaned := SanitizeSegment(piece); isUsable(cleaned) {
			segments = append(segments, cleaned)
		}
	}
	if len(segments) > 0 {
		return segments
	}

	fallback := ref.Title
	if fallback == "" {
		fallback = fmt.Sprintf("item-%d", ref.ID)
	}
	if cleaned := SanitizeSegment(fallback); isUsable(cleaned) {
		return []string{cleaned}
	}
	return []string{fmt.Sprintf("item-%d", ref.ID)}
}

// Resolve computes the storage location of ref below base.
func Resolve(base string, ref ItemRef) Location {
	segments := Segments(ref)
	relative := filepath.Join(segments...)
	leaf := segments[len(segments)-1]
	return Location{
		Root:     filepath.Join(base, relative),
		Relative: relative,
		Filename: deriveFilename(ref.FileURL, leaf, ref.ID),
	}
}

// deriveFilename prefers the remote file name carried by the download URL.
// The download endpoint passes the remote path as a "path" query parameter,
// so that parameter's last segment wins over the endpoint's own path.
func deriveFilename(fileURL, fallback string, itemID int64) string {
	if fileURL != "" {
		if parsed, err := url.Parse(fileURL); err == nil {
			candidates := []string{parsed.Query().Get("path"), parsed.Path}
			for _, raw := range candidates {
				raw = strings.ReplaceAll(raw, `\`, "/")
				if raw == "" || strings.HasSuffix(raw, "/") {
					continue
				}
				name := path.Base(raw)
				if unescaped, err := url.PathUnescape(name); err == nil {
					name = unescaped
				}
				if cleaned := SanitizeSegment(name); isUsable(cleaned) {
					return cleaned
				}
			}
		}
	}
	if cleaned := SanitizeSegment(fallback); isUsable(cleaned) {
		return cleaned
	}
	return fmt.Sprintf("download-%d", itemID)
}

func isUsable(segment string) bool {
	return segment != "" && segment != "." && segment != ".."
}
