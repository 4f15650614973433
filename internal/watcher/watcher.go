// Package watcher observes the library root for file create/rename/delete
// events and feeds them, debounced, into the Library through a single
// consumer goroutine.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/scanner"
)

// EventType identifies what the consumer loop did with a queued path.
type EventType int

const (
	BookAdded EventType = iota
	BookDeleted
)

// Event reports one book admitted or removed as a result of a filesystem
// change.
type Event struct {
	Type EventType
	Book *catalog.Book // set for BookAdded
	Path string        // set for BookDeleted
}

// Adder is the subset of Library the consumer loop needs to admit a scanned
// book.
type Adder interface {
	Add(book catalog.Book) bool
}

// Deleter is the subset of Library the consumer loop needs to remove a
// deleted path.
type Deleter interface {
	Delete(absolutePath string) bool
}

// LibraryWriter is satisfied by Library.
type LibraryWriter interface {
	Adder
	Deleter
}

const consumerIdleDelay = 100 * time.Millisecond

// Watcher recursively watches a directory tree and funnels book file
// changes into a Library via a debounced FIFO consumer loop.
type Watcher struct {
	root    string
	lib     LibraryWriter
	scan    *scanner.Scanner
	events  chan Event
	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	added   []string
	deleted []string
}

// New creates a Watcher over root. Start must be called to begin watching.
func New(root string, lib LibraryWriter, scan *scanner.Scanner) *Watcher {
	return &Watcher{
		root:   root,
		lib:    lib,
		scan:   scan,
		events: make(chan Event, 64),
	}
}

// Start begins watching root recursively and launches the event-ingestion
// and consumer goroutines. The returned channel receives a BookAdded or
// BookDeleted event for each change the consumer loop applies; it is closed
// when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw

	err = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				log.Printf("watcher: add %s: %v", path, addErr)
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go w.ingest(ctx)
	go w.consume(ctx)

	go func() {
		<-ctx.Done()
		fsw.Close()
		close(w.events)
	}()

	return w.events, nil
}

func (w *Watcher) ingest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				log.Printf("watcher: add %s: %v", ev.Name, err)
			}
			return
		}
	}

	if !isWatchedExtension(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.added = append(w.added, ev.Name)
	case ev.Op&fsnotify.Remove != 0:
		w.deleted = append(w.deleted, ev.Name)
	case ev.Op&fsnotify.Rename != 0:
		// The source models renames as a delete of the (new) path; any
		// concurrent create for the same path cancels out in the consumer.
		w.deleted = append(w.deleted, ev.Name)
	case ev.Op&fsnotify.Write != 0:
		w.added = append(w.added, ev.Name)
	}
}

func isWatchedExtension(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".zip") || strings.Contains(lower, ".fb2") || strings.HasSuffix(lower, ".epub")
}

// consume runs the debounced FIFO algorithm described by the component
// design: pop an added path (cancelling against a concurrent delete,
// deferring if the file is still being written), otherwise pop a deleted
// path, otherwise sleep.
func (w *Watcher) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		path, ok := w.popAdded()
		if ok {
			if w.cancelIfAlsoDeleted(path) {
				continue
			}
			if fileInUse(path) {
				w.requeueAdded(path)
				time.Sleep(consumerIdleDelay)
				continue
			}
			w.scanAndAdd(ctx, path)
			continue
		}

		path, ok = w.popDeleted()
		if ok {
			rel, err := filepath.Rel(w.root, path)
			if err != nil {
				rel = path
			}
			if w.lib.Delete(filepath.ToSlash(rel)) {
				w.emit(Event{Type: BookDeleted, Path: rel})
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerIdleDelay):
		}
	}
}

func (w *Watcher) scanAndAdd(ctx context.Context, path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	ev := w.scan.ScanFile(ctx, path, rel)
	if ev.Type != scanner.BookFound || ev.Book == nil {
		return
	}
	if w.lib.Add(*ev.Book) {
		w.emit(Event{Type: BookAdded, Book: ev.Book})
	}
}

func (w *Watcher) emit(e Event) {
	select {
	case w.events <- e:
	default:
		log.Printf("watcher: event channel full, dropping %v for %s", e.Type, e.Path)
	}
}

func (w *Watcher) popAdded() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.added) == 0 {
		return "", false
	}
	path := w.added[0]
	w.added = w.added[1:]
	return path, true
}

func (w *Watcher) requeueAdded(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added = append(w.added, path)
}

func (w *Watcher) popDeleted() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.deleted) == 0 {
		return "", false
	}
	path := w.deleted[0]
	w.deleted = w.deleted[1:]
	return path, true
}

// cancelIfAlsoDeleted removes path from the deleted queue if present,
// modeling an add/delete pair as a no-op.
func (w *Watcher) cancelIfAlsoDeleted(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.deleted {
		if p == path {
			w.deleted = append(w.deleted[:i], w.deleted[i+1:]...)
			return true
		}
	}
	return false
}

// fileInUse probes whether path is still being written by another process.
// On platforms without mandatory locking (Linux, macOS) this degrades to a
// plain openability check: a file mid-write is normally still readable, so
// this mainly catches permission races right after creation.
func fileInUse(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	f.Close()
	return false
}
