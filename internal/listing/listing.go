// Package listing enumerates directory children in display order.
package listing

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// Kind tells sub-directories apart from files.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// FileEntry is one immediate child of a listed directory.
type FileEntry struct {
	Name string
	Kind Kind
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return e.Kind == KindDirectory
}

// DisplayName is the name shown in listings; directories get a trailing slash.
func (e FileEntry) DisplayName() string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// List returns the immediate children of dir, directories first and then
// case-insensitive by name. Symlinks are classified by what they point to.
// Children whose metadata cannot be read (dangling links, permission
// errors) are skipped. The returned error wraps the underlying fs error so
// callers can test it with errors.Is.
func List(dir string) ([]FileEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	entries := make([]FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		kind := KindFile
		if info.IsDir() {
			kind = KindDirectory
		}
		entries = append(entries, FileEntry{Name: de.Name(), Kind: kind})
	}

	Sort(entries)
	return entries, nil
}

// Sort orders entries directories first, then by case-folded name. Names
// that fold equal fall back to a byte-wise comparison so the order is total.
func Sort(entries []FileEntry) {
	fold := cases.Fold()
	folded := make(map[string]string, len(entries))
	for _, e := range entries {
		folded[e.Name] = fold.String(e.Name)
	}

	slices.SortFunc(entries, func(a, b FileEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		if c := strings.Compare(folded[a.Name], folded[b.Name]); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}
