// Package parts decides how a preprocessed project is partitioned into
// independently convertible units. Multi-book scripture projects split into
// one part per book; everything else converts as a single unit.
package parts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// canonicalBooks is the canonical ordering of scripture book identifiers.
// Parts keep this order, not the alphabetical order of the file tree.
var canonicalBooks = []string{
	"gen", "exo", "lev", "num", "deu", "jos", "jdg", "rut",
	"1sa", "2sa", "1ki", "2ki", "1ch", "2ch", "ezr", "neh",
	"est", "job", "psa", "pro", "ecc", "sng", "isa", "jer",
	"lam", "ezk", "dan", "hos", "jol", "amo", "oba", "jon",
	"mic", "nam", "hab", "zep", "hag", "zec", "mal",
	"mat", "mrk", "luk", "act", "jhn", "rom", "1co", "2co",
	"gal", "eph", "php", "col", "1th", "2th", "1ti", "2ti",
	"tit", "phm", "heb", "jas", "1pe", "2pe", "1jn", "2jn",
	"3jn", "jud", "rev",
}

var bookOrder = func() map[string]int {
	m := make(map[string]int, len(canonicalBooks))
	for i, b := range canonicalBooks {
		m[b] = i
	}
	return m
}()

// IsBook reports whether name is a known scripture book identifier.
func IsBook(name string) bool {
	_, ok := bookOrder[strings.ToLower(name)]
	return ok
}

// Split inspects a preprocessed project tree and returns the ordered part
// names when the project must be converted as multiple parts, or nil for a
// single unit. Only book-structured input (type "usfm") splits; a tree with
// zero or one recognizable book is a single unit, never zero jobs.
func Split(dir, inputFormat string) ([]string, error) {
	if inputFormat != "usfm" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read preprocessed dir: %w", err)
	}

	seen := make(map[string]bool)
	var books []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		book, ok := bookFromFileName(entry.Name())
		if !ok || seen[book] {
			continue
		}
		seen[book] = true
		books = append(books, book)
	}

	if len(books) <= 1 {
		return nil, nil
	}

	sort.Slice(books, func(i, j int) bool {
		return bookOrder[books[i]] < bookOrder[books[j]]
	})

	return books, nil
}

// bookFromFileName extracts a book identifier from names like
// "01-GEN.usfm", "GEN.usfm" or "57-TIT.usfm".
func bookFromFileName(name string) (string, bool) {
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ".usfm") {
		return "", false
	}
	base := strings.TrimSuffix(name, ext)
	if idx := strings.LastIndex(base, "-"); idx >= 0 {
		base = base[idx+1:]
	}
	book := strings.ToLower(base)
	if !IsBook(book) {
		return "", false
	}
	return book, true
}
