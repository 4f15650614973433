package covercache

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode sample jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestPutGet_RoundTrips(t *testing.T) {
	c := New()
	raw := sampleJPEG(t, 800, 1200)

	encoded, err := c.Put("book-1", Cover, raw)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(encoded) == 0 {
		t.Fatal("expected non-empty encoded cover")
	}

	got, ok := c.Get("book-1", Cover)
	if !ok {
		t.Fatal("expected cached cover to be found")
	}
	if !bytes.Equal(got, encoded) {
		t.Error("cached bytes differ from Put's return value")
	}
}

func TestPut_ResizesToTargetWidth(t *testing.T) {
	c := New()
	raw := sampleJPEG(t, 2000, 3000)

	encoded, err := c.Put("book-2", Cover, raw)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode resized cover: %v", err)
	}
	if img.Bounds().Dx() != coverWidth {
		t.Errorf("width = %d, want %d", img.Bounds().Dx(), coverWidth)
	}
}

func TestPut_ThumbnailNarrowerThanCover(t *testing.T) {
	c := New()
	raw := sampleJPEG(t, 1000, 1500)

	thumb, err := c.Put("book-3", Thumbnail, raw)
	if err != nil {
		t.Fatalf("Put thumbnail: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != thumbnailWidth {
		t.Errorf("width = %d, want %d", img.Bounds().Dx(), thumbnailWidth)
	}
}

func TestGet_MissReturnsFalse(t *testing.T) {
	c := New()
	if _, ok := c.Get("missing", Cover); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestPut_CoverAndThumbnailAreIndependentKeys(t *testing.T) {
	c := New()
	raw := sampleJPEG(t, 400, 400)

	if _, err := c.Put("book-4", Cover, raw); err != nil {
		t.Fatalf("Put cover: %v", err)
	}
	if _, ok := c.Get("book-4", Thumbnail); ok {
		t.Error("expected thumbnail cache to remain empty after only a cover Put")
	}
}
