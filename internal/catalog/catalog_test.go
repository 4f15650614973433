package catalog

import (
	"testing"
	"time"
)

func TestTicks_ZeroTimeRoundTrips(t *testing.T) {
	if got := ToTicks(time.Time{}); got != 0 {
		t.Errorf("ToTicks(zero) = %d, want 0", got)
	}
	if got := FromTicks(0); !got.IsZero() {
		t.Errorf("FromTicks(0) = %v, want zero time", got)
	}
}

func TestTicks_RoundTripsRealDates(t *testing.T) {
	cases := []time.Time{
		time.Date(2020, time.March, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2026, time.July, 30, 9, 0, 0, 0, time.UTC),
		time.Date(1999, time.December, 31, 23, 59, 59, 0, time.UTC),
	}
	for _, want := range cases {
		ticks := ToTicks(want)
		got := FromTicks(ticks)
		if !got.Equal(want) {
			t.Errorf("FromTicks(ToTicks(%v)) = %v, want %v", want, got, want)
		}
	}
}

func TestTicks_DistinctDatesYieldDistinctTicks(t *testing.T) {
	a := ToTicks(time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))
	b := ToTicks(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	if a == b {
		t.Fatalf("expected distinct dates to produce distinct ticks, both got %d", a)
	}
}

func TestBookType_DetectsEPUBByExtension(t *testing.T) {
	cases := []struct {
		fileName string
		want     BookType
	}{
		{"book.fb2", FB2},
		{"book.epub", EPUB},
		{"book.EPUB", EPUB},
		{"archive.zip@inner/book.epub", EPUB},
		{"archive.zip@inner/book.fb2", FB2},
	}
	for _, c := range cases {
		b := Book{FileName: c.fileName}
		if got := b.BookType(); got != c.want {
			t.Errorf("BookType(%q) = %v, want %v", c.fileName, got, c.want)
		}
	}
}
