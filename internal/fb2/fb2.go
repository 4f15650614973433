// Package fb2 parses the header (the FictionBook/description element) of an
// FB2 document into a catalog.Book, without materializing the book body.
package fb2

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/huandu/xstrings"

	"github.com/tinyopds/tinyopds/internal/bookid"
	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/encoding"
)

type fictionBook struct {
	XMLName     xml.Name    `xml:"FictionBook"`
	Description description `xml:"description"`
}

type description struct {
	TitleInfo    titleInfo    `xml:"title-info"`
	DocumentInfo documentInfo `xml:"document-info"`
}

type titleInfo struct {
	Genre      []string   `xml:"genre"`
	Author     []author   `xml:"author"`
	Translator []author   `xml:"translator"`
	BookTitle  string     `xml:"book-title"`
	Annotation annotation `xml:"annotation"`
	Lang       string     `xml:"lang"`
	Date       xmlDate    `xml:"date"`
	Sequence   *sequence  `xml:"sequence"`
	Coverpage  *coverpage `xml:"coverpage"`
}

type documentInfo struct {
	ID      string  `xml:"id"`
	Version string  `xml:"version"`
	Date    xmlDate `xml:"date"`
}

type author struct {
	FirstName  string `xml:"first-name"`
	MiddleName string `xml:"middle-name"`
	LastName   string `xml:"last-name"`
	Nickname   string `xml:"nickname"`
}

type sequence struct {
	Name   string `xml:"name,attr"`
	Number uint32 `xml:"number,attr"`
}

type coverpage struct {
	Image struct {
		Href string `xml:"href,attr"`
	} `xml:"image"`
}

type xmlDate struct {
	Value string `xml:"value,attr"`
	Text  string `xml:",chardata"`
}

// annotation captures only the text content; the body's internal markup is
// not part of the header and is flattened into plain text.
type annotation struct {
	Text string `xml:",chardata"`
	P    []struct {
		Text string `xml:",chardata"`
	} `xml:"p"`
}

func (a annotation) flatten() string {
	if len(a.P) == 0 {
		return strings.TrimSpace(a.Text)
	}
	parts := make([]string, 0, len(a.P))
	for _, p := range a.P {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func (d xmlDate) resolve() string {
	if d.Value != "" {
		return d.Value
	}
	return d.Text
}

// Parse reads fileName's FB2 header from r and returns the corresponding
// Book. Malformed or unreadable input never returns an error: it yields a
// Book whose IsValid is false so the caller can route it to "invalid".
func Parse(r io.Reader, fileName string) (*catalog.Book, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fb2: read %s: %w", fileName, err)
	}

	fb, err := decodeHeader(raw)
	if err != nil {
		return &catalog.Book{FileName: fileName}, nil
	}

	book := &catalog.Book{
		FileName:     fileName,
		Title:        strings.TrimSpace(fb.Description.TitleInfo.BookTitle),
		Language:     fb.Description.TitleInfo.Lang,
		Annotation:   fb.Description.TitleInfo.Annotation.flatten(),
		HasCover:     fb.Description.TitleInfo.Coverpage != nil && fb.Description.TitleInfo.Coverpage.Image.Href != "",
		DocumentDate: parseFB2Date(fb.Description.DocumentInfo.Date.resolve()),
		BookDate:     parseFB2Date(fb.Description.TitleInfo.Date.resolve()),
		Genres:       fb.Description.TitleInfo.Genre,
	}

	if fb.Description.TitleInfo.Sequence != nil {
		book.Sequence = capitalize(strings.TrimSpace(fb.Description.TitleInfo.Sequence.Name))
		book.NumberInSequence = fb.Description.TitleInfo.Sequence.Number
	}

	for _, a := range fb.Description.TitleInfo.Author {
		if name := joinAuthorName(a); name != "" {
			book.Authors = append(book.Authors, name)
		}
	}
	for _, a := range fb.Description.TitleInfo.Translator {
		if name := joinAuthorName(a); name != "" {
			book.Translators = append(book.Translators, name)
		}
	}

	book.Version = 1.0
	if v, err := strconv.ParseFloat(strings.TrimSpace(fb.Description.DocumentInfo.Version), 32); err == nil {
		book.Version = float32(v)
	}

	book.ID = fb.Description.DocumentInfo.ID
	if book.ID == "" || !bookid.IsValid(book.ID) {
		book.ID = bookid.ForFileName(fileName)
	}

	return book, nil
}

// GetCover returns the raw bytes of the book's cover image, or nil if the
// header declares no coverpage image or the referenced binary is absent.
func GetCover(r io.Reader, fileName string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fb2: read %s: %w", fileName, err)
	}
	text, err := repairedText(raw)
	if err != nil {
		return nil, nil
	}

	var full struct {
		Description description `xml:"description"`
		Binaries    []struct {
			ID   string `xml:"id,attr"`
			Data string `xml:",chardata"`
		} `xml:"binary"`
	}
	if err := xml.Unmarshal([]byte(text), &full); err != nil {
		return nil, nil
	}
	cp := full.Description.TitleInfo.Coverpage
	if cp == nil || cp.Image.Href == "" {
		return nil, nil
	}
	id := strings.TrimPrefix(cp.Image.Href, "#")
	for _, b := range full.Binaries {
		if b.ID == id {
			return decodeBase64Loose(b.Data), nil
		}
	}
	return nil, nil
}

// decodeHeader applies the encoding/entity/illegal-character repairs
// described by the parser contract before unmarshaling the XML.
func decodeHeader(raw []byte) (*fictionBook, error) {
	text, err := repairedText(raw)
	if err != nil {
		return nil, err
	}
	var fb fictionBook
	if err := xml.Unmarshal([]byte(text), &fb); err != nil {
		return nil, fmt.Errorf("fb2: xml parse: %w", err)
	}
	return &fb, nil
}

func repairedText(raw []byte) (string, error) {
	enc := encoding.DetectEncoding(raw)
	text, err := encoding.Decode(raw, enc)
	if err != nil {
		return "", err
	}
	text = encoding.RepairStrayEntities(text)
	text = encoding.StripIllegalXMLChars(text)
	return text, nil
}

// parseFB2Date parses FB2's date value, which is either a full ISO date or
// occasionally just a 4-digit year; anything else leaves the date zero.
func parseFB2Date(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if len(s) == 4 {
		if y, err := strconv.Atoi(s); err == nil {
			return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}

func joinAuthorName(a author) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.LastName, a.FirstName, a.MiddleName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		if n := strings.TrimSpace(a.Nickname); n != "" {
			return capitalize(n)
		}
		return ""
	}
	name := xstrings.Squeeze(strings.Join(parts, " "), " ")
	return capitalize(name)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return xstrings.FirstRuneToUpper(s)
}

func decodeBase64Loose(s string) []byte {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			return r
		default:
			return -1
		}
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
