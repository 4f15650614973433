// Package epub parses the container.xml/OPF metadata of an EPUB archive
// into a catalog.Book, and extracts its cover image.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/huandu/xstrings"

	"github.com/tinyopds/tinyopds/internal/bookid"
	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/genre"
)

// Parse reads fileName's EPUB contents from r and returns the corresponding
// Book. taxonomy resolves dc:subject values to genre tags via Soundex
// lookup; pass nil to skip genre resolution (all subjects are dropped and
// the book is routed to "invalid" by the absence of any genre).
func Parse(r io.Reader, fileName string, taxonomy *genre.Taxonomy) (*catalog.Book, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("epub: read %s: %w", fileName, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return &catalog.Book{FileName: fileName}, nil
	}

	opfPath, err := readContainerXML(zr)
	if err != nil {
		return &catalog.Book{FileName: fileName}, nil
	}
	pkg, err := readOPFPackage(zr, opfPath)
	if err != nil {
		return &catalog.Book{FileName: fileName}, nil
	}
	meta := pkg.Metadata

	book := &catalog.Book{
		FileName:   fileName,
		Version:    1.0,
		Title:      strings.TrimSpace(firstOrFilename(meta.Titles, fileName)),
		Annotation: strings.TrimSpace(meta.Description),
		Language:   firstOf(meta.Language...),
	}

	for _, c := range meta.Creators {
		if name := capitalizeName(c.Name); name != "" {
			book.Authors = append(book.Authors, name)
		}
	}
	for _, c := range meta.Contributors {
		if strings.EqualFold(c.Role, "trl") {
			if name := capitalizeName(c.Name); name != "" {
				book.Translators = append(book.Translators, name)
			}
		}
	}

	book.ID = firstOf(meta.Identifiers...)
	if book.ID == "" || !bookid.IsValid(book.ID) {
		book.ID = bookid.ForFileName(fileName)
	}

	if meta.Date != "" {
		book.BookDate = parseOPFDate(meta.Date)
	}

	if taxonomy != nil {
		seen := make(map[string]bool)
		for _, subject := range meta.Subjects {
			subject = strings.TrimSpace(subject)
			if subject == "" {
				continue
			}
			tag := taxonomy.ResolveBySubject(subject)
			if tag != "" && !seen[tag] {
				seen[tag] = true
				book.Genres = append(book.Genres, tag)
			}
		}
	}

	opfDir := filepath.ToSlash(filepath.Dir(opfPath))
	if opfDir == "." {
		opfDir = ""
	}
	book.HasCover = hasCover(zr, opfDir, pkg)

	return book, nil
}

// GetCover returns the raw bytes of fileName's cover image, resolving the
// manifest's declared cover item first and falling back to the first <img>
// found in the spine's leading XHTML document.
func GetCover(r io.Reader, fileName string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("epub: read %s: %w", fileName, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, nil
	}
	opfPath, err := readContainerXML(zr)
	if err != nil {
		return nil, nil
	}
	pkg, err := readOPFPackage(zr, opfPath)
	if err != nil {
		return nil, nil
	}
	opfDir := filepath.ToSlash(filepath.Dir(opfPath))
	if opfDir == "." {
		opfDir = ""
	}

	if href, _ := coverManifestItem(pkg); href != "" {
		if data := readZipMember(zr, resolve(opfDir, href)); data != nil {
			return data, nil
		}
	}
	return findCoverInSpine(zr, opfDir, pkg), nil
}

// hasCover reports whether the EPUB declares a cover image, either via an
// EPUB3 "cover-image" manifest property, an EPUB2 <meta name="cover">, or a
// discoverable <img> in the first spine document.
func hasCover(zr *zip.Reader, opfDir string, pkg opfPackage) bool {
	if href, _ := coverManifestItem(pkg); href != "" {
		return true
	}
	return findCoverInSpine(zr, opfDir, pkg) != nil
}

func coverManifestItem(pkg opfPackage) (href, mime string) {
	coverItemID := ""
	for _, m := range pkg.Metadata.Metas {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			coverItemID = m.Content
			break
		}
	}
	for _, item := range pkg.Manifest.Items {
		if !isImageMIME(item.MediaType) {
			continue
		}
		if strings.Contains(item.Properties, "cover-image") {
			return item.Href, item.MediaType
		}
		if coverItemID != "" && item.ID == coverItemID {
			href, mime = item.Href, item.MediaType
		}
	}
	return href, mime
}

func isImageMIME(mime string) bool {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}

// findCoverInSpine walks the OPF spine in order, opens the first HTML/XHTML
// item, and extracts the first <img src="…"> using goquery.
func findCoverInSpine(zr *zip.Reader, opfDir string, pkg opfPackage) []byte {
	byID := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		byID[item.ID] = item
	}

	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := byID[ref.IDRef]
		if !ok || !strings.Contains(item.MediaType, "html") {
			continue
		}
		fullPath := resolve(opfDir, item.Href)
		content := readZipMember(zr, fullPath)
		if content == nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
		if err != nil {
			continue
		}
		imgSrc, ok := doc.Find("img").First().Attr("src")
		if !ok || imgSrc == "" {
			continue
		}
		htmlDir := filepath.ToSlash(filepath.Dir(fullPath))
		if htmlDir == "." {
			htmlDir = ""
		}
		imgPath := filepath.ToSlash(filepath.Clean(resolve(htmlDir, stripQuery(imgSrc))))
		if data := readZipMember(zr, imgPath); data != nil {
			return data
		}
	}
	return nil
}

func stripQuery(src string) string {
	if i := strings.IndexAny(src, "?#"); i != -1 {
		src = src[:i]
	}
	return src
}

func resolve(dir, href string) string {
	href = strings.TrimPrefix(href, "/")
	if dir == "" {
		return href
	}
	return dir + "/" + href
}

func readZipMember(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil
			}
			return data
		}
	}
	return nil
}

// parseOPFDate parses dc:date, which is either a full ISO date/time or a
// bare 4-digit year; anything else leaves the date zero.
func parseOPFDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t
		}
	}
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[:4]); err == nil {
			return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}

func capitalizeName(name string) string {
	name = xstrings.Squeeze(strings.TrimSpace(name), " ")
	if name == "" {
		return ""
	}
	return xstrings.FirstRuneToUpper(name)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstOrFilename(vals []string, fileName string) string {
	if len(vals) > 0 && vals[0] != "" {
		return vals[0]
	}
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// --- OPF/container XML struct types ---

type opfPackage struct {
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfSpine struct {
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef string `xml:"idref,attr"`
}

type opfMetadata struct {
	Titles       []string    `xml:"title"`
	Creators     []opfAuthor `xml:"creator"`
	Contributors []opfAuthor `xml:"contributor"`
	Subjects     []string    `xml:"subject"`
	Identifiers  []string    `xml:"identifier"`
	Description  string      `xml:"description"`
	Language     []string    `xml:"language"`
	Date         string      `xml:"date"`
	Metas        []opfMeta   `xml:"meta"`
}

type opfAuthor struct {
	Name string `xml:",chardata"`
	Role string `xml:"role,attr"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfManifest struct {
	Items []opfItem `xml:"item"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type containerXML struct {
	Rootfile struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

func readContainerXML(zr *zip.Reader) (string, error) {
	data := readZipMember(zr, "META-INF/container.xml")
	if data == nil {
		return "", fmt.Errorf("epub: META-INF/container.xml not found")
	}
	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", err
	}
	if c.Rootfile.FullPath == "" {
		return "", fmt.Errorf("epub: no rootfile in container.xml")
	}
	return c.Rootfile.FullPath, nil
}

func readOPFPackage(zr *zip.Reader, opfPath string) (opfPackage, error) {
	data := readZipMember(zr, opfPath)
	if data == nil {
		return opfPackage{}, fmt.Errorf("epub: OPF %q not found", opfPath)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return opfPackage{}, err
	}
	return pkg, nil
}
