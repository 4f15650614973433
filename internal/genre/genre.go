// Package genre loads the TinyOPDS genre taxonomy and provides Soundex-based
// fuzzy matching from free-text subjects (as found in EPUB dc:subject
// elements) to the taxonomy's machine-readable genre tags.
package genre

import (
	"embed"
	"encoding/xml"
	"strings"
)

//go:embed genres.xml
var bundled embed.FS

// Subgenre is a single leaf genre: a machine tag, its canonical (English)
// name, and a localized translation.
type Subgenre struct {
	Tag         string `xml:"tag,attr"`
	Translation string `xml:"ru,attr"`
	Name        string `xml:",chardata"`
}

// Genre is a top-level category grouping a list of Subgenres.
type Genre struct {
	XMLName     xml.Name   `xml:"genre"`
	Name        string     `xml:"name,attr"`
	Translation string     `xml:"ru,attr"`
	Subgenres   []Subgenre `xml:"subgenre"`
}

type taxonomyXML struct {
	XMLName xml.Name `xml:"genres"`
	Genres  []Genre  `xml:"genre"`
}

type soundexEntry struct {
	tag       string
	wordCount int
}

// Taxonomy is the loaded two-level genre tree plus its derived Soundex
// index, used by the EPUB parser to resolve dc:subject values to genre
// tags when no explicit FB2-style genre code is present.
type Taxonomy struct {
	Genres    []Genre
	soundexed map[string]soundexEntry
	byTag     map[string]Subgenre
	// order preserves the taxonomy's declaration order so ResolveBySubject
	// returns a deterministic match when multiple Soundex keys qualify.
	order []string
}

// Load reads and indexes the bundled genre taxonomy. It never fails: the
// resource is embedded at build time, so any parse error indicates a
// programming mistake rather than a runtime condition, and is reported via
// the returned error for the caller to decide how to react (tests assert it
// is always nil).
func Load() (*Taxonomy, error) {
	data, err := bundled.ReadFile("genres.xml")
	if err != nil {
		return nil, err
	}
	var parsed taxonomyXML
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	t := &Taxonomy{
		Genres:    parsed.Genres,
		soundexed: make(map[string]soundexEntry),
		byTag:     make(map[string]Subgenre),
	}
	for _, g := range parsed.Genres {
		for _, sg := range g.Subgenres {
			t.byTag[sg.Tag] = sg
			t.index(sg)
		}
	}
	return t, nil
}

// index inserts both the forward and word-reversed Soundex keys for sg.Name,
// per the taxonomy's SoundexedGenres construction rule.
func (t *Taxonomy) index(sg Subgenre) {
	words := WordsCount(sg.Name)
	fwd := SoundexByWords(sg.Name)
	if fwd != "" {
		t.insert(fwd, sg.Tag, words)
	}
	rev := SoundexByWords(wordsReversed(sg.Name))
	if rev != "" {
		t.insert(rev, sg.Tag, words)
	}
}

func (t *Taxonomy) insert(key, tag string, wordCount int) {
	if _, exists := t.soundexed[key]; exists {
		return
	}
	t.soundexed[key] = soundexEntry{tag: tag, wordCount: wordCount}
	t.order = append(t.order, key)
}

// Tag returns the Subgenre registered under the given machine tag, if any.
func (t *Taxonomy) Tag(tag string) (Subgenre, bool) {
	sg, ok := t.byTag[tag]
	return sg, ok
}

// ResolveBySubject performs the fuzzy EPUB dc:subject → genre tag lookup
// described in the component design: the subject's word-reversed Soundex is
// computed, and the first indexed entry whose key is prefixed by it and
// whose source word count does not exceed subject's word count by more than
// one is returned. Falls back to "prose" when nothing matches.
func (t *Taxonomy) ResolveBySubject(subject string) string {
	key := SoundexByWords(subject)
	wc := WordsCount(subject)
	if key != "" {
		for _, k := range t.order {
			entry := t.soundexed[k]
			if strings.HasPrefix(k, key) && entry.wordCount <= wc+1 {
				return entry.tag
			}
		}
	}
	return "prose"
}

// WordsCount returns the number of whitespace/comma-separated tokens in s.
func WordsCount(s string) int {
	return len(splitWords(s))
}

func splitWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// wordsReversed reverses the order of whitespace/comma-separated tokens in s.
func wordsReversed(s string) string {
	words := splitWords(s)
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return strings.Join(words, " ")
}
