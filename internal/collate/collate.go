// Package collate selects a locale-aware string comparator for sorting the
// Library's enumerations (Titles, Authors, Sequences, Genres), switching
// between Russian collation order and the default (root) collation
// depending on the configured language.
package collate

import (
	"sort"

	gocollate "golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Sorter sorts strings using a collator selected for a configured language.
type Sorter struct {
	collator *gocollate.Collator
}

// New returns a Sorter using Russian collation when lang is "ru" (or any
// "ru-*" BCP 47 tag), and the default (root) collation otherwise.
func New(lang string) *Sorter {
	tag := language.Und
	if t, err := language.Parse(lang); err == nil {
		base, _ := t.Base()
		if base.String() == "ru" {
			tag = language.Russian
		}
	}
	return &Sorter{collator: gocollate.New(tag)}
}

// Strings sorts ss in place using the Sorter's collation order.
func (s *Sorter) Strings(ss []string) {
	sort.Slice(ss, func(i, j int) bool {
		return s.collator.CompareString(ss[i], ss[j]) < 0
	})
}

// Less reports whether a sorts before b under the Sorter's collation order.
func (s *Sorter) Less(a, b string) bool {
	return s.collator.CompareString(a, b) < 0
}
