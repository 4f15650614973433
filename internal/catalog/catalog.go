// Package catalog defines the core data types of the TinyOPDS book catalog:
// the Book descriptor, its derived validity/type rules, and the tick-count
// timestamp encoding used by the on-disk database format.
package catalog

import (
	"strings"
	"time"
)

// BookType distinguishes the two source formats TinyOPDS indexes.
type BookType int

const (
	// FB2 is the default book type: any file that is not recognized as EPUB.
	FB2 BookType = iota
	// EPUB is used when the file name extension contains "epub".
	EPUB
)

func (t BookType) String() string {
	if t == EPUB {
		return "EPUB"
	}
	return "FB2"
}

// Book is the unit of cataloging. Every field is persisted in the binary
// database record described in the external interface documentation,
// except BookType and IsValid which are derived at construction time.
type Book struct {
	ID               string
	Version          float32
	FileName         string
	Title            string
	Language         string
	Annotation       string
	Sequence         string
	NumberInSequence uint32
	BookDate         time.Time
	DocumentDate     time.Time
	AddedDate        time.Time
	HasCover         bool
	DocumentSize     uint32
	Authors          []string
	Translators      []string
	Genres           []string
}

// BookType derives the book's format from its FileName. The inner entry
// name is consulted for archive members (foo.zip@bar.fb2): only the final
// path component past the last "@" is examined, matching the scanner's
// logical naming scheme.
func (b *Book) BookType() BookType {
	name := b.FileName
	if i := strings.LastIndexByte(name, '@'); i >= 0 {
		name = name[i+1:]
	}
	if strings.Contains(strings.ToLower(name), "epub") {
		return EPUB
	}
	return FB2
}

// IsValid reports whether b satisfies the admission invariant: a non-empty,
// printable Title, at least one Author, and at least one Genre.
func (b *Book) IsValid() bool {
	if b.Title == "" || !isPrintableUTF8(b.Title) {
		return false
	}
	if len(b.Authors) == 0 {
		return false
	}
	if len(b.Genres) == 0 {
		return false
	}
	return true
}

func isPrintableUTF8(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
		if r < 0x20 && r != '\t' {
			return false
		}
	}
	return true
}

// ticksPerSecond is the number of 100-nanosecond ticks in one second, used
// by ToTicks/FromTicks to implement the database format's timestamp
// encoding: a signed 64-bit count of 100ns units since 0001-01-01 UTC.
const ticksPerSecond = 10_000_000

// secondsEpochToUnix is the number of seconds between 0001-01-01 00:00:00 UTC
// (the tick epoch) and 1970-01-01 00:00:00 UTC (the Unix epoch).
const secondsEpochToUnix = 62135596800

// ToTicks converts t to the 64-bit tick count used by the database format.
// A zero time.Time maps to tick 0. Computed directly from Unix seconds
// rather than through a time.Duration, which overflows (saturates) for any
// date past ~292 years from the tick epoch.
func ToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	u := t.UTC()
	return (u.Unix()+secondsEpochToUnix)*ticksPerSecond + int64(u.Nanosecond())/100
}

// FromTicks converts a tick count back to a UTC time.Time. The high bits
// that some writers use to encode a DateTimeKind are masked off; any kind
// other than UTC is treated as UTC per the format's documented fallback.
func FromTicks(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	const kindMask = int64(0x3) << 62
	raw := ticks &^ kindMask
	secs := raw/ticksPerSecond - secondsEpochToUnix
	nsec := (raw % ticksPerSecond) * 100
	return time.Unix(secs, nsec).UTC()
}
