package library

import (
	"path/filepath"
	"testing"

	"github.com/tinyopds/tinyopds/internal/bookid"
	"github.com/tinyopds/tinyopds/internal/catalog"
)

func book(id, fileName, title string, version float32) catalog.Book {
	return catalog.Book{
		ID:       id,
		FileName: fileName,
		Title:    title,
		Version:  version,
		Authors:  []string{"Author Name"},
		Genres:   []string{"prose"},
	}
}

func TestAdd_InsertsNewBook(t *testing.T) {
	lib := New(t.TempDir(), "en")
	admitted := lib.Add(book("id-1", "a.fb2", "Title A", 1))
	if !admitted {
		t.Fatal("expected new book to be admitted")
	}
	if lib.FB2Count() != 1 {
		t.Errorf("FB2Count = %d, want 1", lib.FB2Count())
	}
	if !lib.Contains("a.fb2") {
		t.Error("expected Contains(a.fb2) to be true")
	}
	got, ok := lib.GetBook("id-1")
	if !ok || got.Title != "Title A" {
		t.Errorf("GetBook = %+v, ok=%v", got, ok)
	}
	if got.AddedDate.IsZero() {
		t.Error("expected AddedDate to be stamped on admission")
	}
}

func TestAdd_DuplicateIDDifferentTitleRewritesID(t *testing.T) {
	lib := New(t.TempDir(), "en")
	lib.Add(book("same-uuid", "first.fb2", "First Title", 1))
	lib.Add(book("same-uuid", "second.fb2", "Second Title", 1))

	want := bookid.ForFileName("second.fb2")
	id, ok := lib.paths["second.fb2"]
	if !ok {
		t.Fatal("expected second.fb2 to be cataloged")
	}
	if id != want {
		t.Errorf("second book ID = %q, want %q", id, want)
	}
	if lib.FB2Count() != 2 {
		t.Errorf("FB2Count = %d, want 2", lib.FB2Count())
	}
}

func TestAdd_HigherVersionOverwritesWithoutNewCount(t *testing.T) {
	lib := New(t.TempDir(), "en")
	lib.Add(book("id-1", "a.fb2", "Title A", 1))
	admitted := lib.Add(book("id-1", "a.fb2", "Title A", 2))
	if admitted {
		t.Error("expected version-overwrite to report not-newly-admitted")
	}
	if lib.FB2Count() != 1 {
		t.Errorf("FB2Count = %d, want 1 (no new book)", lib.FB2Count())
	}
	got, _ := lib.GetBook("id-1")
	if got.Version != 2 {
		t.Errorf("Version = %v, want 2", got.Version)
	}
}

func TestAdd_LowerVersionRejected(t *testing.T) {
	lib := New(t.TempDir(), "en")
	lib.Add(book("id-1", "a.fb2", "Title A", 2))
	admitted := lib.Add(book("id-1", "a.fb2", "Title A", 1))
	if admitted {
		t.Error("expected lower-version book to be rejected")
	}
	got, _ := lib.GetBook("id-1")
	if got.Version != 2 {
		t.Errorf("Version = %v, want unchanged 2", got.Version)
	}
}

func TestDelete_SingleFile(t *testing.T) {
	lib := New(t.TempDir(), "en")
	lib.Add(book("id-1", "dir/a.fb2", "A", 1))
	lib.Add(book("id-2", "dir/b.fb2", "B", 1))

	if !lib.Delete("dir/a.fb2") {
		t.Fatal("expected Delete to report removal")
	}
	if lib.Contains("dir/a.fb2") {
		t.Error("expected a.fb2 to be removed")
	}
	if !lib.Contains("dir/b.fb2") {
		t.Error("expected b.fb2 to remain")
	}
	if lib.FB2Count() != 1 {
		t.Errorf("FB2Count = %d, want 1", lib.FB2Count())
	}
}

func TestDelete_DirectoryPrefixRemovesAll(t *testing.T) {
	lib := New(t.TempDir(), "en")
	lib.Add(book("id-1", "archive.zip@a.fb2", "A", 1))
	lib.Add(book("id-2", "archive.zip@b.fb2", "B", 1))
	lib.Add(book("id-3", "other/c.fb2", "C", 1))

	if !lib.Delete("archive.zip") {
		t.Fatal("expected Delete to report removal")
	}
	if lib.Contains("archive.zip@a.fb2") || lib.Contains("archive.zip@b.fb2") {
		t.Error("expected both archive members removed")
	}
	if !lib.Contains("other/c.fb2") {
		t.Error("expected unrelated book to remain")
	}
}

func TestEnumerations_SortedAndDeduped(t *testing.T) {
	lib := New(t.TempDir(), "en")
	a := book("id-1", "a.fb2", "Zebra", 1)
	a.Authors = []string{"Bob"}
	a.Genres = []string{"sf"}
	b := book("id-2", "b.fb2", "Apple", 1)
	b.Authors = []string{"Alice"}
	b.Genres = []string{"sf"}
	lib.Add(a)
	lib.Add(b)

	titles := lib.Titles()
	if len(titles) != 2 || titles[0] != "Apple" || titles[1] != "Zebra" {
		t.Errorf("Titles = %v", titles)
	}
	authors := lib.Authors()
	if len(authors) != 2 || authors[0] != "Alice" || authors[1] != "Bob" {
		t.Errorf("Authors = %v", authors)
	}
	genres := lib.Genres()
	if len(genres) != 1 || genres[0] != "sf" {
		t.Errorf("Genres = %v", genres)
	}
}

func TestGetBooksByTitle_MatchesTitleOrSequence(t *testing.T) {
	lib := New(t.TempDir(), "en")
	b := book("id-1", "a.fb2", "Foundation", 1)
	b.Sequence = "Robot"
	lib.Add(b)

	if len(lib.GetBooksByTitle("found")) != 1 {
		t.Error("expected case-insensitive title substring match")
	}
	if len(lib.GetBooksByTitle("robot")) != 1 {
		t.Error("expected sequence substring match")
	}
	if len(lib.GetBooksByTitle("nomatch")) != 0 {
		t.Error("expected no match")
	}
}

func TestGetAuthorsByName_FallsBackToReversed(t *testing.T) {
	lib := New(t.TempDir(), "en")
	b := book("id-1", "a.fb2", "T", 1)
	b.Authors = []string{"Isaac Asimov"}
	lib.Add(b)

	if got := lib.GetAuthorsByName("Isaac", false); len(got) != 1 {
		t.Errorf("prefix match = %v", got)
	}
	if got := lib.GetAuthorsByName("Asimov Isaac", false); len(got) != 1 {
		t.Errorf("reversed fallback = %v, want 1 match", got)
	}
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	lib := New(filepath.Join(dir, "books"), "en")
	lib.Add(book("id-1", "a.fb2", "Title A", 1))
	lib.Add(book("id-2", "b.epub", "Title B", 1))

	if err := lib.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(filepath.Join(dir, "books"), "en")
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FB2Count() != 1 || loaded.EPUBCount() != 1 {
		t.Errorf("counts after reload = fb2:%d epub:%d, want 1,1", loaded.FB2Count(), loaded.EPUBCount())
	}
	got, ok := loaded.GetBook("id-1")
	if !ok || got.Title != "Title A" {
		t.Errorf("reloaded book = %+v, ok=%v", got, ok)
	}
}

func TestLoad_MissingFileIsEmptyLibrary(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "nonexistent"), "en")
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lib.FB2Count() != 0 || lib.EPUBCount() != 0 {
		t.Error("expected empty library for a missing database file")
	}
}
