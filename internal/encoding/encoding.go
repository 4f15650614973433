// Package encoding implements the DetectEncoding/Decode pair used by the FB2
// parser to recover text from files written in a legacy 8-bit encoding, or
// carrying a mismatched XML encoding declaration. Detection follows the
// BOM-then-declaration-then-heuristic order; decoding is delegated to
// golang.org/x/text for everything past plain UTF-8.
package encoding

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding enumerates the character encodings TinyOPDS's parsers must be
// able to recover text from.
type Encoding int

const (
	UTF8 Encoding = iota
	UTF16LE
	UTF16BE
	CP866
	Windows1251
	KOI8R
	Windows1252
	ISO8859_1
)

func (e Encoding) String() string {
	switch e {
	case UTF16LE:
		return "utf-16le"
	case UTF16BE:
		return "utf-16be"
	case CP866:
		return "cp866"
	case Windows1251:
		return "windows-1251"
	case KOI8R:
		return "koi8-r"
	case Windows1252:
		return "windows-1252"
	case ISO8859_1:
		return "iso-8859-1"
	default:
		return "utf-8"
	}
}

var boms = []struct {
	bom []byte
	enc Encoding
}{
	{[]byte{0xFF, 0xFE}, UTF16LE},
	{[]byte{0xFE, 0xFF}, UTF16BE},
	{[]byte{0xEF, 0xBB, 0xBF}, UTF8},
}

// declarationPattern matches an XML declaration's encoding attribute, e.g.
// <?xml version="1.0" encoding="windows-1251"?>.
var declarationPattern = regexp.MustCompile(`<\?xml[^<>]*\bencoding\s*=\s*['"]([^'"]+)['"][^<>]*\?>`)

var byName = map[string]Encoding{
	"utf-8":        UTF8,
	"utf8":         UTF8,
	"utf-16le":     UTF16LE,
	"utf-16-le":    UTF16LE,
	"utf16le":      UTF16LE,
	"utf-16be":     UTF16BE,
	"utf-16-be":    UTF16BE,
	"utf16be":      UTF16BE,
	"cp866":        CP866,
	"ibm866":       CP866,
	"866":          CP866,
	"windows-1251": Windows1251,
	"cp1251":       Windows1251,
	"win1251":      Windows1251,
	"koi8-r":       KOI8R,
	"koi8r":        KOI8R,
	"windows-1252": Windows1252,
	"cp1252":       Windows1252,
	"iso-8859-1":   ISO8859_1,
	"iso8859-1":    ISO8859_1,
	"latin1":       ISO8859_1,
}

// DetectEncoding inspects raw for a byte-order mark, then an XML encoding
// declaration, then falls back to a UTF-8-validity/UTF-16-shape heuristic.
// It never fails: unrecognized declared names and ambiguous heuristics both
// fall back to UTF8, matching the parser's "repair and retry" contract.
func DetectEncoding(raw []byte) Encoding {
	for _, b := range boms {
		if bytes.HasPrefix(raw, b.bom) {
			return b.enc
		}
	}

	prefix := raw
	if len(prefix) > 4096 {
		prefix = prefix[:4096]
	}
	if m := declarationPattern.FindSubmatch(prefix); len(m) > 1 {
		if enc, ok := byName[strings.ToLower(strings.TrimSpace(string(m[1])))]; ok {
			return enc
		}
	}

	return detectHeuristic(raw)
}

func detectHeuristic(raw []byte) Encoding {
	if utf8.Valid(raw) {
		return UTF8
	}
	if looksLikeUTF16(raw, true) {
		return UTF16LE
	}
	if looksLikeUTF16(raw, false) {
		return UTF16BE
	}
	// Most FB2 files in the wild that aren't valid UTF-8 and declare no
	// encoding are legacy Russian 8-bit text; windows-1251 is the most
	// common of the three Cyrillic candidates.
	return Windows1251
}

// looksLikeUTF16 checks whether null bytes appear at the position implied by
// little-endian (evenOffset=true, null at odd index) or big-endian ASCII
// text packed two bytes per code unit.
func looksLikeUTF16(data []byte, little bool) bool {
	if len(data) < 4 || len(data)%2 != 0 {
		return false
	}
	n := len(data)
	if n > 200 {
		n = 200
	}
	start := 1
	if !little {
		start = 0
	}
	nullCount, samples := 0, 0
	for i := start; i < n; i += 2 {
		samples++
		if data[i] == 0 {
			nullCount++
		}
	}
	return samples > 0 && float64(nullCount)/float64(samples) > 0.7
}

// Decode converts raw bytes in the given encoding to a UTF-8 string,
// stripping a leading BOM if present.
func Decode(raw []byte, enc Encoding) (string, error) {
	for _, b := range boms {
		if bytes.HasPrefix(raw, b.bom) {
			raw = raw[len(b.bom):]
			break
		}
	}

	switch enc {
	case UTF8:
		if utf8.Valid(raw) {
			return string(raw), nil
		}
		return strings.ToValidUTF8(string(raw), "�"), nil
	case UTF16LE:
		return decodeWith(raw, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))
	case UTF16BE:
		return decodeWith(raw, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM))
	case CP866:
		return decodeWith(raw, charmap.CodePage866)
	case Windows1251:
		return decodeWith(raw, charmap.Windows1251)
	case KOI8R:
		return decodeWith(raw, charmap.KOI8R)
	case Windows1252:
		return decodeWith(raw, charmap.Windows1252)
	case ISO8859_1:
		return decodeWith(raw, charmap.ISO8859_1)
	default:
		return "", fmt.Errorf("encoding: unsupported encoding %v", enc)
	}
}

func decodeWith(raw []byte, enc encoding.Encoding) (string, error) {
	reader := transform.NewReader(bytes.NewReader(raw), enc.NewDecoder())
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("encoding: decode: %w", err)
	}
	return string(out), nil
}

// StripIllegalXMLChars removes code points outside the XML 1.0 legal
// character range (#x9, #xA, #xD, #x20-#xD7FF, #xE000-#xFFFD,
// #x10000-#x10FFFF), used by the FB2 parser's repair-and-retry path.
func StripIllegalXMLChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isLegalXMLChar(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLegalXMLChar(r rune) bool {
	switch {
	case r == 0x9, r == 0xA, r == 0xD:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	default:
		return false
	}
}

// RepairStrayEntities rewrites stray &nbsp; references (not valid in bare
// XML, only in an HTML-flavored DTD) to their numeric equivalent &#160;, the
// common FB2 malformation the parser retries after.
func RepairStrayEntities(s string) string {
	return strings.ReplaceAll(s, "&nbsp;", "&#160;")
}
