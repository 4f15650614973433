package server

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinyopds/tinyopds/internal/catalog"
	"github.com/tinyopds/tinyopds/internal/converter"
	"github.com/tinyopds/tinyopds/internal/epub"
	"github.com/tinyopds/tinyopds/internal/fb2"
	"github.com/tinyopds/tinyopds/internal/genre"
	"github.com/tinyopds/tinyopds/internal/translit"
)

// fetchBookBytes returns the raw source bytes for book, resolving the
// "archive.zip@entry" logical name form the scanner uses for ZIP members.
func fetchBookBytes(libraryPath string, book catalog.Book) ([]byte, error) {
	if i := strings.Index(book.FileName, "@"); i >= 0 {
		archivePath := filepath.Join(libraryPath, book.FileName[:i])
		entryName := book.FileName[i+1:]
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return nil, fmt.Errorf("open archive %q: %w", archivePath, err)
		}
		defer zr.Close()
		for _, f := range zr.File {
			if f.Name != entryName {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open entry %q: %w", entryName, err)
			}
			defer rc.Close()
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(rc); err != nil {
				return nil, fmt.Errorf("read entry %q: %w", entryName, err)
			}
			return buf.Bytes(), nil
		}
		return nil, fmt.Errorf("entry %q not found in %q", entryName, archivePath)
	}

	path := filepath.Join(libraryPath, book.FileName)
	return os.ReadFile(path)
}

// fetchCoverBytes locates book's source, parses it with the matching
// parser, and returns the embedded cover image bytes (nil if the book has
// no cover).
func fetchCoverBytes(libraryPath string, book catalog.Book, taxonomy *genre.Taxonomy) ([]byte, error) {
	raw, err := fetchBookBytes(libraryPath, book)
	if err != nil {
		return nil, err
	}
	if book.BookType() == catalog.EPUB {
		return epub.GetCover(bytes.NewReader(raw), book.FileName)
	}
	return fb2.GetCover(bytes.NewReader(raw), book.FileName)
}

// buildFB2Zip wraps fb2Data in a fresh single-entry ZIP archive named after
// the transliterated first author and title, matching what OPDS readers
// expect from a ".fb2.zip" acquisition link.
func buildFB2Zip(book catalog.Book, fb2Data []byte) ([]byte, error) {
	author := "unknown"
	if len(book.Authors) > 0 {
		author = book.Authors[0]
	}
	name := translit.Front(author) + "_" + translit.Front(book.Title) + ".fb2"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(fb2Data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fetchEPUBBytes returns EPUB bytes for book, transcoding from FB2 via conv
// when the source is FB2. conv may be nil, in which case FB2 sources cannot
// be served as EPUB.
func fetchEPUBBytes(ctx context.Context, libraryPath string, book catalog.Book, conv converter.Converter) ([]byte, error) {
	raw, err := fetchBookBytes(libraryPath, book)
	if err != nil {
		return nil, err
	}
	if book.BookType() == catalog.EPUB {
		return raw, nil
	}
	if conv == nil {
		return nil, fmt.Errorf("no converter configured for FB2-to-EPUB transcoding")
	}
	return conv.ConvertFB2ToEPUB(ctx, raw, book.FileName)
}
