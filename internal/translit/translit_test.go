package translit

import "testing"

func TestFront_TransliteratesCyrillic(t *testing.T) {
	got := Front("Пушкин")
	want := "Pushkin"
	if got != want {
		t.Errorf("Front(%q) = %q, want %q", "Пушкин", got, want)
	}
}

func TestFront_PassesASCIIThrough(t *testing.T) {
	if got := Front("Asimov"); got != "Asimov" {
		t.Errorf("Front(%q) = %q, want unchanged", "Asimov", got)
	}
}

func TestFront_ReplacesUnsafeCharacters(t *testing.T) {
	got := Front("a/b\\c")
	want := "a_b_c"
	if got != want {
		t.Errorf("Front with path separators = %q, want %q", got, want)
	}
}
