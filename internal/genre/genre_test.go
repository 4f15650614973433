package genre

import "testing"

func TestLoad_PopulatesTaxonomy(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tax.Genres) == 0 {
		t.Fatal("expected at least one top-level genre")
	}
	if _, ok := tax.Tag("sf"); !ok {
		t.Fatal("expected genre tag \"sf\" to be registered")
	}
}

func TestResolveBySubject_ExactWordMatch(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tax.ResolveBySubject("Science fiction"); got != "sf" {
		t.Errorf("ResolveBySubject(%q) = %q, want %q", "Science fiction", got, "sf")
	}
}

func TestResolveBySubject_FallsBackToProse(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tax.ResolveBySubject("Xyzzyqwerty Unmatchable"); got != "prose" {
		t.Errorf("ResolveBySubject with no match = %q, want %q", got, "prose")
	}
}

func TestWordsCount(t *testing.T) {
	if got := WordsCount("Science fiction, adventure"); got != 3 {
		t.Errorf("WordsCount = %d, want 3", got)
	}
}
