// Package scanner walks a directory tree or a ZIP archive and emits a
// stream of typed events describing each book file it finds, parses, or
// skips. Scanners never mutate the Library themselves — callers decide
// whether and how to admit a BookFound event.
package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/epub"
	"github.com/tinyopds/tinyopds/internal/fb2"
	"github.com/tinyopds/tinyopds/internal/genre"
)

// EventType identifies which kind of scan event occurred.
type EventType int

const (
	BookFound EventType = iota
	InvalidBook
	FileSkipped
	ScanCompleted
)

// Event is a single item in a scanner's event stream.
type Event struct {
	Type EventType
	Book *catalog.Book // set for BookFound
	Path string        // set for InvalidBook (the logical file name)
	Count int          // set for FileSkipped (cumulative skip count so far)
}

// Status is a scanner's cancellable lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusScanning
	StatusStopped
)

// ContainsChecker is the subset of Library used to decide whether a file is
// already cataloged. Library itself satisfies it.
type ContainsChecker interface {
	Contains(fileName string) bool
}

// Scanner walks directories and ZIP archives, parsing FB2/EPUB files it has
// not seen before and emitting events for the result.
type Scanner struct {
	lib      ContainsChecker
	taxonomy *genre.Taxonomy
	status   atomic.Int32
}

// New creates a Scanner. taxonomy resolves EPUB dc:subject values to genre
// tags; pass nil to skip genre resolution.
func New(lib ContainsChecker, taxonomy *genre.Taxonomy) *Scanner {
	return &Scanner{lib: lib, taxonomy: taxonomy}
}

// Status reports the scanner's current lifecycle state.
func (s *Scanner) Status() Status {
	return Status(s.status.Load())
}

// Stop requests cancellation of an in-progress scan. The scan observes the
// request at its next file boundary and transitions to StatusStopped.
func (s *Scanner) Stop() {
	s.status.Store(int32(StatusStopped))
}

func (s *Scanner) stopRequested() bool {
	return Status(s.status.Load()) == StatusStopped
}

// ScanDirectory walks root (recursively, if recursive is true) and returns a
// channel of events; the channel is closed after ScanCompleted is sent or
// ctx is cancelled.
func (s *Scanner) ScanDirectory(ctx context.Context, root string, recursive bool) <-chan Event {
	events := make(chan Event, 16)
	s.status.Store(int32(StatusScanning))

	go func() {
		defer close(events)
		defer s.status.Store(int32(StatusIdle))

		skipCount := 0
		walk := func(path string, d fs.DirEntry) error {
			if ctx.Err() != nil || s.stopRequested() {
				return fs.SkipAll
			}
			if d.IsDir() {
				if !recursive && path != root {
					return fs.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			s.scanFile(ctx, path, rel, events, &skipCount)
			return nil
		}

		if recursive {
			_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				return walk(path, d)
			})
		} else {
			entries, err := os.ReadDir(root)
			if err == nil {
				for _, e := range entries {
					if ctx.Err() != nil || s.stopRequested() {
						break
					}
					walk(filepath.Join(root, e.Name()), e)
				}
			}
		}

		events <- Event{Type: ScanCompleted}
	}()

	return events
}

// scanFile classifies and (if appropriate) parses a single file, emitting
// the matching event. relName is the logical, library-relative name used
// for the Contains check and as the resulting Book's FileName.
func (s *Scanner) scanFile(ctx context.Context, fullPath, relName string, events chan<- Event, skipCount *int) {
	if s.lib != nil && s.lib.Contains(relName) {
		*skipCount++
		events <- Event{Type: FileSkipped, Count: *skipCount}
		return
	}

	lower := strings.ToLower(relName)
	switch {
	case strings.HasSuffix(lower, ".epub") || strings.Contains(lower, ".fb2"):
		f, err := os.Open(fullPath)
		if err != nil {
			events <- Event{Type: InvalidBook, Path: relName}
			return
		}
		defer f.Close()
		s.parseAndEmit(relName, f, events)

	case strings.HasSuffix(lower, ".zip"):
		s.scanZipFile(ctx, fullPath, relName, events, skipCount)
	}
}

func (s *Scanner) parseAndEmit(relName string, r io.Reader, events chan<- Event) {
	lower := strings.ToLower(relName)
	var book *catalog.Book
	var err error
	if strings.HasSuffix(lower, ".epub") {
		book, err = epub.Parse(r, relName, s.taxonomy)
	} else {
		book, err = fb2.Parse(r, relName)
	}
	if err != nil || book == nil || !book.IsValid() {
		events <- Event{Type: InvalidBook, Path: relName}
		return
	}
	events <- Event{Type: BookFound, Book: book}
}

// ScanFile classifies and parses a single file (used by the watcher, which
// scans one changed path at a time rather than walking a directory) and
// returns its resulting event directly instead of over a channel.
func (s *Scanner) ScanFile(ctx context.Context, fullPath, relName string) Event {
	events := make(chan Event, 2)
	skipCount := 0
	s.scanFile(ctx, fullPath, relName, events, &skipCount)
	close(events)
	for e := range events {
		return e
	}
	return Event{Type: InvalidBook, Path: relName}
}

// ScanZip opens path as a ZIP archive in streaming mode and returns a
// channel of events for its entries. relativeArchive is the library-relative
// name of the archive, used to compose each entry's logical name as
// "relativeArchive@entry-name".
func (s *Scanner) ScanZip(ctx context.Context, path, relativeArchive string) <-chan Event {
	events := make(chan Event, 16)
	s.status.Store(int32(StatusScanning))
	go func() {
		defer close(events)
		defer s.status.Store(int32(StatusIdle))
		skipCount := 0
		s.scanZipFile(ctx, path, relativeArchive, events, &skipCount)
		events <- Event{Type: ScanCompleted}
	}()
	return events
}

func (s *Scanner) scanZipFile(ctx context.Context, path, relativeArchive string, events chan<- Event, skipCount *int) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		events <- Event{Type: InvalidBook, Path: relativeArchive}
		return
	}
	defer zr.Close()

	for _, f := range zr.File {
		if ctx.Err() != nil || s.stopRequested() {
			return
		}
		if f.FileInfo().IsDir() {
			continue
		}
		lower := strings.ToLower(f.Name)
		if !strings.HasSuffix(lower, ".epub") && !strings.Contains(lower, ".fb2") {
			continue
		}

		logicalName := relativeArchive + "@" + f.Name
		if s.lib != nil && s.lib.Contains(logicalName) {
			*skipCount++
			events <- Event{Type: FileSkipped, Count: *skipCount}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			events <- Event{Type: InvalidBook, Path: logicalName}
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			events <- Event{Type: InvalidBook, Path: logicalName}
			continue
		}

		var book *catalog.Book
		var parseErr error
		if strings.HasSuffix(lower, ".epub") {
			book, parseErr = epub.Parse(bytes.NewReader(data), logicalName, s.taxonomy)
		} else {
			book, parseErr = fb2.Parse(bytes.NewReader(data), logicalName)
		}
		if parseErr != nil || book == nil || !book.IsValid() {
			events <- Event{Type: InvalidBook, Path: logicalName}
			continue
		}
		book.DocumentSize = uint32(f.UncompressedSize64)
		events <- Event{Type: BookFound, Book: book}
	}
}
