package epub

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/tinyopds/tinyopds/internal/genre"
)

const containerXMLFixture = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`

func buildEPUB(t *testing.T, opf string, extra map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%s): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("META-INF/container.xml", containerXMLFixture)
	write("OEBPS/content.opf", opf)
	for name, content := range extra {
		write(name, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	return buf.Bytes()
}

const sampleOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Dune</dc:title>
    <dc:creator>Frank Herbert</dc:creator>
    <dc:identifier>urn:uuid:f47ac10b-58cc-4372-a567-0e02b2c3d479</dc:identifier>
    <dc:language>en</dc:language>
    <dc:date>1965-08-01</dc:date>
    <dc:subject>Science fiction</dc:subject>
    <dc:description>A desert planet.</dc:description>
  </metadata>
  <manifest>
    <item id="cover" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
    <item id="chap1" href="text/chap1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="chap1"/>
  </spine>
</package>`

func testTaxonomy(t *testing.T) *genre.Taxonomy {
	t.Helper()
	tx, err := genre.Load()
	if err != nil {
		t.Fatalf("genre.Load: %v", err)
	}
	return tx
}

func TestParse_ExtractsOPFMetadata(t *testing.T) {
	data := buildEPUB(t, sampleOPF, map[string]string{
		"images/cover.jpg":  "fake-jpeg-bytes",
		"text/chap1.xhtml": `<html><body><p>Text</p></body></html>`,
	})
	book, err := Parse(bytes.NewReader(data), "dune.epub", testTaxonomy(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if book.Title != "Dune" {
		t.Errorf("Title = %q, want Dune", book.Title)
	}
	if len(book.Authors) != 1 || book.Authors[0] != "Frank Herbert" {
		t.Errorf("Authors = %v, want [Frank Herbert]", book.Authors)
	}
	if book.ID != "urn:uuid:f47ac10b-58cc-4372-a567-0e02b2c3d479" {
		t.Errorf("ID = %q", book.ID)
	}
	if book.BookDate.Year() != 1965 {
		t.Errorf("BookDate year = %d, want 1965", book.BookDate.Year())
	}
	if !book.HasCover {
		t.Error("HasCover = false, want true (manifest cover-image)")
	}
	if len(book.Genres) != 1 || book.Genres[0] != "sf" {
		t.Errorf("Genres = %v, want [sf]", book.Genres)
	}
	if !book.IsValid() {
		t.Error("expected valid book")
	}
}

func TestParse_UnresolvedSubjectFallsBackToProse(t *testing.T) {
	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Mystery Book</dc:title>
    <dc:creator>Author Name</dc:creator>
    <dc:subject>Zzzznonsense categoryyyy</dc:subject>
  </metadata>
  <manifest></manifest>
  <spine></spine>
</package>`
	data := buildEPUB(t, opf, nil)
	book, err := Parse(bytes.NewReader(data), "mystery.epub", testTaxonomy(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(book.Genres) != 1 || book.Genres[0] != "prose" {
		t.Errorf("Genres = %v, want [prose]", book.Genres)
	}
}

func TestGetCover_FallsBackToSpineImage(t *testing.T) {
	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>No Manifest Cover</dc:title>
  </metadata>
  <manifest>
    <item id="chap1" href="text/chap1.xhtml" media-type="application/xhtml+xml"/>
    <item id="img1" href="text/images/pic.jpg" media-type="image/jpeg"/>
  </manifest>
  <spine><itemref idref="chap1"/></spine>
</package>`
	data := buildEPUB(t, opf, map[string]string{
		"text/chap1.xhtml": `<html><body><img src="images/pic.jpg"/></body></html>`,
		"text/images/pic.jpg": "raw-image-bytes",
	})
	cover, err := GetCover(bytes.NewReader(data), "book.epub")
	if err != nil {
		t.Fatalf("GetCover: %v", err)
	}
	if string(cover) != "raw-image-bytes" {
		t.Errorf("GetCover = %q, want raw-image-bytes", cover)
	}
}

func TestParse_MissingContainerYieldsInvalidBook(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("readme.txt")
	w.Write([]byte("not an epub"))
	zw.Close()

	book, err := Parse(bytes.NewReader(buf.Bytes()), "broken.epub", testTaxonomy(t))
	if err != nil {
		t.Fatalf("Parse should not error: %v", err)
	}
	if book.IsValid() {
		t.Error("expected invalid book for missing container.xml")
	}
}
