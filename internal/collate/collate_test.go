package collate

import "testing"

func TestSorter_Default(t *testing.T) {
	s := New("en")
	ss := []string{"banana", "Apple", "cherry"}
	s.Strings(ss)
	if ss[0] != "Apple" {
		t.Errorf("expected case-insensitive collation to sort Apple first, got %v", ss)
	}
}

func TestSorter_Russian(t *testing.T) {
	s := New("ru")
	ss := []string{"Толстой", "Achebe", "Бунин"}
	s.Strings(ss)
	if len(ss) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(ss))
	}
}

func TestSorter_Less(t *testing.T) {
	s := New("en")
	if !s.Less("apple", "banana") {
		t.Error("expected apple < banana")
	}
}
