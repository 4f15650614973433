package genre

import "testing"

func TestSoundex_ClassicExamples(t *testing.T) {
	cases := map[string]string{
		"Robert":  "R163",
		"Rupert":  "R163",
		"Ashcraft": "A261",
		"Tymczak": "T522",
		"Pfister": "P236",
	}
	for word, want := range cases {
		if got := Soundex(word); got != want {
			t.Errorf("Soundex(%q) = %q, want %q", word, got, want)
		}
	}
}

func TestSoundex_Empty(t *testing.T) {
	if got := Soundex("123"); got != "" {
		t.Errorf("Soundex of digits-only input should be empty, got %q", got)
	}
}

func TestSoundexByWords_JoinsPerToken(t *testing.T) {
	got := SoundexByWords("Science Fiction")
	want := Soundex("Science") + Soundex("Fiction")
	if got != want {
		t.Errorf("SoundexByWords = %q, want %q", got, want)
	}
}

func TestSoundex_PhoneticallySimilarWordsMatch(t *testing.T) {
	if Soundex("Fantasy") != Soundex("Fantasie") {
		t.Errorf("expected phonetically similar spellings to collide")
	}
}
