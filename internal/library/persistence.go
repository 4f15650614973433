package library

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tinyopds/tinyopds/internal/catalog"
)

const versionMarker = "VER1.1"

// Load reads the on-disk database at the Library's database path into
// memory. A missing file yields an empty library, not an error: I/O and
// decode failures are logged and swallowed, leaving whatever records were
// decoded before the failure (a partial catalog is accepted).
func (l *Library) Load() error {
	data, err := os.ReadFile(l.databaseFullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		log.Printf("library: read %s: %v", l.databaseFullPath, err)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.books = make(map[string]*catalog.Book)
	l.paths = make(map[string]string)
	l.fb2Count, l.epubCount = 0, 0

	r := bytes.NewReader(data)
	first, err := readString(r)
	if err != nil {
		// Empty or unreadable file: start with an empty catalog.
		return nil
	}

	isV11 := first == versionMarker
	preset := &first
	if isV11 {
		preset = nil
	}
	upgraded := false

	for {
		book, err := readBookRecord(r, isV11, preset)
		preset = nil
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("library: stopping load after partial record: %v", err)
			break
		}
		if !isV11 {
			book.AddedDate = time.Now()
			upgraded = true
		}
		l.books[book.ID] = book
		l.paths[book.FileName] = book.ID
		if book.BookType() == catalog.EPUB {
			l.epubCount++
		} else {
			l.fb2Count++
		}
	}
	if upgraded {
		l.isChanged = true
	}
	return nil
}

// Save rewrites the database file from the current in-memory catalog. A
// library with no books is left untouched on disk (per-spec: "on a
// non-empty library only").
func (l *Library) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.books) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := writeString(&buf, versionMarker); err != nil {
		return err
	}

	ids := make([]string, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := writeBookRecord(&buf, l.books[id], true); err != nil {
			return fmt.Errorf("library: encode %s: %w", l.books[id].FileName, err)
		}
	}

	if err := os.WriteFile(l.databaseFullPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("library: write %s: %w", l.databaseFullPath, err)
	}
	l.isChanged = false
	return nil
}

// Append writes a single new record to the end of the database file,
// creating it (with the v1.1 marker) if it does not yet exist.
func (l *Library) Append(book catalog.Book) error {
	_, err := os.Stat(l.databaseFullPath)
	needsMarker := errors.Is(err, fs.ErrNotExist)

	f, err := os.OpenFile(l.databaseFullPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("library: open %s: %w", l.databaseFullPath, err)
	}
	defer f.Close()

	if needsMarker {
		if err := writeString(f, versionMarker); err != nil {
			return err
		}
	}
	return writeBookRecord(f, &book, true)
}

func writeBookRecord(w io.Writer, b *catalog.Book, includeAddedDate bool) error {
	if err := writeString(w, b.FileName); err != nil {
		return err
	}
	if err := writeString(w, b.ID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, math.Float32bits(b.Version)); err != nil {
		return err
	}
	if err := writeString(w, b.Title); err != nil {
		return err
	}
	if err := writeString(w, b.Language); err != nil {
		return err
	}
	if err := writeBool(w, b.HasCover); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, catalog.ToTicks(b.BookDate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, catalog.ToTicks(b.DocumentDate)); err != nil {
		return err
	}
	if err := writeString(w, b.Sequence); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.NumberInSequence); err != nil {
		return err
	}
	if err := writeString(w, b.Annotation); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.DocumentSize); err != nil {
		return err
	}
	if err := writeStringSlice(w, b.Authors); err != nil {
		return err
	}
	if err := writeStringSlice(w, b.Translators); err != nil {
		return err
	}
	if err := writeStringSlice(w, b.Genres); err != nil {
		return err
	}
	if includeAddedDate {
		if err := binary.Write(w, binary.LittleEndian, catalog.ToTicks(b.AddedDate)); err != nil {
			return err
		}
	}
	return nil
}

// readBookRecord decodes one record. If presetFileName is non-nil, it is
// used as the record's FileName instead of reading one from r (used for the
// first record of a v1.0 file, whose filename string was already consumed
// while probing for the v1.1 marker).
func readBookRecord(r io.Reader, isV11 bool, presetFileName *string) (*catalog.Book, error) {
	var fileName string
	var err error
	if presetFileName != nil {
		fileName = *presetFileName
	} else {
		fileName, err = readString(r)
		if err != nil {
			return nil, err
		}
	}

	b := &catalog.Book{FileName: fileName}
	if b.ID, err = readString(r); err != nil {
		return nil, err
	}
	var versionBits uint32
	if err = binary.Read(r, binary.LittleEndian, &versionBits); err != nil {
		return nil, err
	}
	b.Version = math.Float32frombits(versionBits)
	if b.Title, err = readString(r); err != nil {
		return nil, err
	}
	if b.Language, err = readString(r); err != nil {
		return nil, err
	}
	if b.HasCover, err = readBool(r); err != nil {
		return nil, err
	}
	var bookTicks, docTicks int64
	if err = binary.Read(r, binary.LittleEndian, &bookTicks); err != nil {
		return nil, err
	}
	b.BookDate = catalog.FromTicks(bookTicks)
	if err = binary.Read(r, binary.LittleEndian, &docTicks); err != nil {
		return nil, err
	}
	b.DocumentDate = catalog.FromTicks(docTicks)
	if b.Sequence, err = readString(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &b.NumberInSequence); err != nil {
		return nil, err
	}
	if b.Annotation, err = readString(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &b.DocumentSize); err != nil {
		return nil, err
	}
	if b.Authors, err = readStringSlice(r); err != nil {
		return nil, err
	}
	if b.Translators, err = readStringSlice(r); err != nil {
		return nil, err
	}
	if b.Genres, err = readStringSlice(r); err != nil {
		return nil, err
	}
	if isV11 {
		var addedTicks int64
		if err = binary.Read(r, binary.LittleEndian, &addedTicks); err != nil {
			return nil, err
		}
		b.AddedDate = catalog.FromTicks(addedTicks)
	}
	return b, nil
}

func writeStringSlice(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeBool(w io.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// writeString encodes s as a 7-bit variable-length byte count followed by
// its UTF-8 bytes, matching the database format's string encoding.
func writeString(w io.Writer, s string) error {
	if err := write7BitEncodedInt(w, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := read7BitEncodedInt(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func write7BitEncodedInt(w io.Writer, value int) error {
	v := uint32(value)
	for v >= 0x80 {
		if _, err := w.Write([]byte{byte(v&0x7f | 0x80)}); err != nil {
			return err
		}
		v >>= 7
	}
	_, err := w.Write([]byte{byte(v)})
	return err
}

func read7BitEncodedInt(r io.Reader) (int, error) {
	var result uint32
	var shift uint
	var buf [1]byte
	for {
		n, err := r.Read(buf[:])
		if n == 0 && err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return int(result), nil
}
