// Package covercache resizes and caches book cover/thumbnail JPEG images.
package covercache

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/disintegration/imaging"
)

// Capacity bounds the number of cached images per Cache before the oldest
// entry is evicted.
const Capacity = 1000

const (
	coverWidth     = 480
	thumbnailWidth = 96
	jpegQuality    = 90
)

// Kind selects which derived size a Cache stores.
type Kind int

const (
	Cover Kind = iota
	Thumbnail
)

// Cache is a true LRU cache of encoded JPEG bytes keyed by book ID, one per
// Kind (cover, thumbnail).
type Cache struct {
	covers     *lru.Cache[string, []byte]
	thumbnails *lru.Cache[string, []byte]
}

// New creates a Cache with the capacity mandated for cover/thumbnail
// storage.
func New() *Cache {
	covers, _ := lru.New[string, []byte](Capacity)
	thumbs, _ := lru.New[string, []byte](Capacity)
	return &Cache{covers: covers, thumbnails: thumbs}
}

// Get returns the cached JPEG bytes for id and kind, if present.
func (c *Cache) Get(id string, kind Kind) ([]byte, bool) {
	if kind == Cover {
		return c.covers.Get(id)
	}
	return c.thumbnails.Get(id)
}

// Put stores raw image bytes after resizing to the kind's target width and
// re-encoding as JPEG, returning the encoded bytes.
func (c *Cache) Put(id string, kind Kind, raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	width := coverWidth
	if kind == Thumbnail {
		width = thumbnailWidth
	}
	resized := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	encoded := buf.Bytes()

	if kind == Cover {
		c.covers.Add(id, encoded)
	} else {
		c.thumbnails.Add(id, encoded)
	}
	return encoded, nil
}
