package encoding

import "testing"

func TestDetectEncoding_BOM(t *testing.T) {
	raw := append([]byte{0xFF, 0xFE}, []byte("h\x00i\x00")...)
	if got := DetectEncoding(raw); got != UTF16LE {
		t.Errorf("DetectEncoding with UTF-16LE BOM = %v, want UTF16LE", got)
	}
}

func TestDetectEncoding_XMLDeclaration(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="windows-1251"?><FictionBook/>`)
	if got := DetectEncoding(raw); got != Windows1251 {
		t.Errorf("DetectEncoding with declared windows-1251 = %v, want Windows1251", got)
	}
}

func TestDetectEncoding_PlainUTF8(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?><FictionBook><title>Hello</title></FictionBook>`)
	if got := DetectEncoding(raw); got != UTF8 {
		t.Errorf("DetectEncoding of valid UTF-8 = %v, want UTF8", got)
	}
}

func TestDecode_Windows1251RoundTrips(t *testing.T) {
	// "Привет" in windows-1251 bytes.
	raw := []byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2}
	got, err := Decode(raw, Windows1251)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "Привет" {
		t.Errorf("Decode(windows-1251) = %q, want %q", got, "Привет")
	}
}

func TestStripIllegalXMLChars(t *testing.T) {
	in := "ok\x00bad\x1ftext\x09tab"
	got := StripIllegalXMLChars(in)
	want := "okbadtext\ttab"
	if got != want {
		t.Errorf("StripIllegalXMLChars(%q) = %q, want %q", in, got, want)
	}
}

func TestRepairStrayEntities(t *testing.T) {
	in := "a&nbsp;b"
	want := "a&#160;b"
	if got := RepairStrayEntities(in); got != want {
		t.Errorf("RepairStrayEntities(%q) = %q, want %q", in, got, want)
	}
}
