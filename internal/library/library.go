// Package library implements the process-wide book catalog: two in-memory
// indexes (by ID, by relative path) guarded by a single mutex, and the
// binary on-disk database format the spec calls "a flat length-prefixed
// binary log, not a DB engine".
package library

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tinyopds/tinyopds/internal/bookid"
	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/collate"
)

// Library is the singleton book catalog. The zero value is not usable; build
// one with New.
type Library struct {
	mu sync.RWMutex

	books map[string]*catalog.Book // ID -> Book
	paths map[string]string        // FileName -> ID

	fb2Count  int
	epubCount int
	isChanged bool

	libraryPath      string
	databaseFullPath string

	sorter *collate.Sorter
}

// New creates an empty Library rooted at libraryPath. The on-disk database
// file name is derived from libraryPath so that switching library roots
// automatically switches databases. lang selects the enumeration sort
// order ("ru" for Russian collation, anything else for default).
func New(libraryPath, lang string) *Library {
	return &Library{
		books:            make(map[string]*catalog.Book),
		paths:            make(map[string]string),
		libraryPath:      libraryPath,
		databaseFullPath: bookid.ForLibraryPath(libraryPath),
		sorter:           collate.New(lang),
	}
}

// DatabasePath returns the on-disk database file name derived from the
// library's root path.
func (l *Library) DatabasePath() string {
	return l.databaseFullPath
}

// FB2Count returns the number of cataloged FB2 books.
func (l *Library) FB2Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fb2Count
}

// EPUBCount returns the number of cataloged EPUB books.
func (l *Library) EPUBCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epubCount
}

// IsChanged reports whether the catalog has been mutated since the last
// Save.
func (l *Library) IsChanged() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isChanged
}

// Contains reports whether fileName is already cataloged.
func (l *Library) Contains(fileName string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.paths[fileName]
	return ok
}

// GetBook returns a copy of the book with the given ID.
func (l *Library) GetBook(id string) (catalog.Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[id]
	if !ok {
		return catalog.Book{}, false
	}
	return *b, true
}

// Add admits book into the catalog following the rules in order:
//  1. An existing entry with the same ID but a different title means a
//     colliding/duplicate source ID: the incoming book's ID is replaced by
//     UUIDv5(ISO-OID, book.FileName).
//  2. Unknown ID: insert, stamp AddedDate, bump the type counter, mark
//     changed, return true.
//  3. Known ID with a lower existing version: overwrite in place (counters
//     untouched), return false.
//  4. Otherwise reject, return false.
func (l *Library) Add(book catalog.Book) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.books[book.ID]; ok && existing.Title != book.Title {
		book.ID = bookid.ForFileName(book.FileName)
	}

	existing, known := l.books[book.ID]
	if !known {
		book.AddedDate = time.Now()
		stored := book
		l.books[book.ID] = &stored
		l.paths[book.FileName] = book.ID
		if book.BookType() == catalog.EPUB {
			l.epubCount++
		} else {
			l.fb2Count++
		}
		l.isChanged = true
		return true
	}

	if existing.Version < book.Version {
		book.AddedDate = existing.AddedDate
		stored := book
		l.books[book.ID] = &stored
		l.paths[book.FileName] = book.ID
		l.isChanged = true
	}
	return false
}

// Delete removes books whose FileName matches absolutePath. If absolutePath
// names a single book file (.epub, .fb2, or .fb2.zip suffix) only that book
// is removed; otherwise every book whose FileName contains absolutePath as
// a substring is removed (a directory or archive prefix). Reports whether
// anything was removed.
func (l *Library) Delete(absolutePath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := false
	single := hasBookSuffix(absolutePath)
	for fileName, id := range l.paths {
		match := fileName == absolutePath
		if !single {
			match = strings.Contains(fileName, absolutePath)
		}
		if !match {
			continue
		}
		book := l.books[id]
		delete(l.books, id)
		delete(l.paths, fileName)
		if book != nil {
			if book.BookType() == catalog.EPUB {
				l.epubCount--
			} else {
				l.fb2Count--
			}
		}
		removed = true
	}
	if removed {
		l.isChanged = true
	}
	return removed
}

func hasBookSuffix(name string) bool {
	for _, suffix := range []string{".epub", ".fb2", ".fb2.zip"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Titles returns every distinct, sorted Title (and Sequence, per the
// duplicated enumeration rule) longer than one character.
func (l *Library) Titles() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := make(map[string]bool)
	for _, b := range l.books {
		set[b.Title] = true
	}
	return l.sortedKeys(set)
}

// Authors returns every distinct, sorted author name (including
// translators) longer than one character.
func (l *Library) Authors() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := make(map[string]bool)
	for _, b := range l.books {
		for _, a := range b.Authors {
			set[a] = true
		}
	}
	return l.sortedKeys(set)
}

// Sequences returns every distinct, sorted, non-empty Sequence name.
func (l *Library) Sequences() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := make(map[string]bool)
	for _, b := range l.books {
		if b.Sequence != "" {
			set[b.Sequence] = true
		}
	}
	return l.sortedKeys(set)
}

// Genres returns every distinct, sorted genre tag in use.
func (l *Library) Genres() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := make(map[string]bool)
	for _, b := range l.books {
		for _, g := range b.Genres {
			set[g] = true
		}
	}
	return l.sortedKeys(set)
}

func (l *Library) sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if len(k) > 1 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return l.sorter.Less(out[i], out[j]) })
	return out
}

// GetBooksByTitle returns every book whose Title or Sequence contains s,
// case-insensitively.
func (l *Library) GetBooksByTitle(s string) []catalog.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	needle := strings.ToLower(s)
	var out []catalog.Book
	for _, b := range l.books {
		if strings.Contains(strings.ToLower(b.Title), needle) || strings.Contains(strings.ToLower(b.Sequence), needle) {
			out = append(out, *b)
		}
	}
	return out
}

// GetBooksByAuthor returns every book with an exact (case-sensitive) author
// membership match.
func (l *Library) GetBooksByAuthor(author string) []catalog.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []catalog.Book
	for _, b := range l.books {
		for _, a := range b.Authors {
			if a == author {
				out = append(out, *b)
				break
			}
		}
	}
	return out
}

// GetBooksBySequence returns every book whose Sequence contains s,
// case-insensitively.
func (l *Library) GetBooksBySequence(sequence string) []catalog.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	needle := strings.ToLower(sequence)
	var out []catalog.Book
	for _, b := range l.books {
		if strings.Contains(strings.ToLower(b.Sequence), needle) {
			out = append(out, *b)
		}
	}
	return out
}

// GetBooksByGenre returns every book with an exact genre tag membership
// match.
func (l *Library) GetBooksByGenre(genreTag string) []catalog.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []catalog.Book
	for _, b := range l.books {
		for _, g := range b.Genres {
			if g == genreTag {
				out = append(out, *b)
				break
			}
		}
	}
	return out
}

// GetAuthorsByName returns distinct author names matching name: a
// case-insensitive prefix match when openSearch is false, a substring match
// when true. If nothing matches, the search is retried with name's words
// reversed.
func (l *Library) GetAuthorsByName(name string, openSearch bool) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	matches := l.matchAuthors(name, openSearch)
	if len(matches) == 0 {
		matches = l.matchAuthors(reverseWords(name), openSearch)
	}
	return matches
}

func (l *Library) matchAuthors(name string, openSearch bool) []string {
	needle := strings.ToLower(name)
	set := make(map[string]bool)
	for _, b := range l.books {
		for _, a := range b.Authors {
			la := strings.ToLower(a)
			if openSearch && strings.Contains(la, needle) {
				set[a] = true
			} else if !openSearch && strings.HasPrefix(la, needle) {
				set[a] = true
			}
		}
	}
	return l.sortedKeys(set)
}

func reverseWords(s string) string {
	words := strings.Fields(s)
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return strings.Join(words, " ")
}
