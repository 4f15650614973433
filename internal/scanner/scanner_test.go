package scanner

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyopds/tinyopds/internal/genre"
)

const sampleFB2 = `<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0">
  <description>
    <title-info>
      <genre>prose</genre>
      <author><first-name>A</first-name><last-name>B</last-name></author>
      <book-title>Sample</book-title>
      <lang>en</lang>
    </title-info>
    <document-info><id>f47ac10b-58cc-4372-a567-0e02b2c3d479</id><date>2020-01-01</date></document-info>
  </description>
</FictionBook>`

type fakeLibrary struct{ seen map[string]bool }

func (f *fakeLibrary) Contains(fileName string) bool { return f.seen[fileName] }

func loadTaxonomy(t *testing.T) *genre.Taxonomy {
	t.Helper()
	tx, err := genre.Load()
	if err != nil {
		t.Fatalf("genre.Load: %v", err)
	}
	return tx
}

func collect(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestScanDirectory_FindsValidBook(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.fb2"), []byte(sampleFB2), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := New(&fakeLibrary{seen: map[string]bool{}}, loadTaxonomy(t))
	events := collect(s.ScanDirectory(context.Background(), dir, true))

	var found, completed int
	for _, e := range events {
		switch e.Type {
		case BookFound:
			found++
			if e.Book.Title != "Sample" {
				t.Errorf("Book.Title = %q, want Sample", e.Book.Title)
			}
		case ScanCompleted:
			completed++
		}
	}
	if found != 1 {
		t.Errorf("found %d books, want 1", found)
	}
	if completed != 1 {
		t.Error("expected exactly one ScanCompleted event")
	}
}

func TestScanDirectory_SkipsCatalogedFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "sample.fb2"), []byte(sampleFB2), 0o644)

	s := New(&fakeLibrary{seen: map[string]bool{"sample.fb2": true}}, loadTaxonomy(t))
	events := collect(s.ScanDirectory(context.Background(), dir, true))

	var skipped int
	for _, e := range events {
		if e.Type == FileSkipped {
			skipped++
		}
		if e.Type == BookFound {
			t.Error("expected cataloged file not to be re-parsed")
		}
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestScanDirectory_InvalidBookOnMalformedFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "broken.fb2"), []byte("not xml"), 0o644)

	s := New(&fakeLibrary{seen: map[string]bool{}}, loadTaxonomy(t))
	events := collect(s.ScanDirectory(context.Background(), dir, true))

	var invalid int
	for _, e := range events {
		if e.Type == InvalidBook {
			invalid++
		}
	}
	if invalid != 1 {
		t.Errorf("invalid = %d, want 1", invalid)
	}
}

func TestScanZip_EmitsLogicalEntryNames(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "archive.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("pack/sample.fb2")
	w.Write([]byte(sampleFB2))
	zw.Close()
	f.Close()

	s := New(&fakeLibrary{seen: map[string]bool{}}, loadTaxonomy(t))
	events := collect(s.ScanZip(context.Background(), zipPath, "archive.zip"))

	var found bool
	for _, e := range events {
		if e.Type == BookFound {
			found = true
			if e.Book.FileName != "archive.zip@pack/sample.fb2" {
				t.Errorf("FileName = %q, want archive.zip@pack/sample.fb2", e.Book.FileName)
			}
			if e.Book.DocumentSize == 0 {
				t.Error("expected DocumentSize to be set from entry's uncompressed length")
			}
		}
	}
	if !found {
		t.Error("expected a BookFound event")
	}
}
