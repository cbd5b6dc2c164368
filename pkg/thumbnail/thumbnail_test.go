package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/haivivi/faceid/go/pkg/faceid"
)

// testFrame encodes a w×h JPEG test pattern.
func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return buf.Bytes()
}

func thumbDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("thumbnail format = %q, want jpeg", format)
	}
	return cfg.Width, cfg.Height
}

func TestThumbnailResizesWholeFrame(t *testing.T) {
	m := NewMaker(Config{})

	// Zero-area box selects the whole frame.
	out, err := m.Thumbnail(testFrame(t, 800, 400), faceid.Rect{})
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 160 || h != 80 {
		t.Errorf("got %dx%d, want 160x80", w, h)
	}
}

func TestThumbnailKeepsSmallFrames(t *testing.T) {
	m := NewMaker(Config{})

	out, err := m.Thumbnail(testFrame(t, 100, 50), faceid.Rect{})
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 100 || h != 50 {
		t.Errorf("got %dx%d, want native 100x50", w, h)
	}
}

func TestThumbnailCropsWithMargin(t *testing.T) {
	m := NewMaker(Config{})

	// 100x100 box with the default 0.2 margin crops 140x140.
	box := faceid.Rect{X: 100, Y: 100, Width: 100, Height: 100}
	out, err := m.Thumbnail(testFrame(t, 400, 400), box)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 140 || h != 140 {
		t.Errorf("got %dx%d, want 140x140", w, h)
	}
}

func TestThumbnailClampsBoxToFrame(t *testing.T) {
	m := NewMaker(Config{})

	box := faceid.Rect{X: -50, Y: -50, Width: 100, Height: 100}
	out, err := m.Thumbnail(testFrame(t, 200, 200), box)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 70 || h != 70 {
		t.Errorf("got %dx%d, want the clamped 70x70 crop", w, h)
	}
}

func TestThumbnailRejectsBoxOutsideFrame(t *testing.T) {
	m := NewMaker(Config{})

	box := faceid.Rect{X: 500, Y: 500, Width: 50, Height: 50}
	if _, err := m.Thumbnail(testFrame(t, 200, 200), box); err == nil {
		t.Fatal("expected error for box outside the frame")
	}
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	m := NewMaker(Config{})
	if _, err := m.Thumbnail([]byte("not an image"), faceid.Rect{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestThumbnailAcceptsPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 320))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	m := NewMaker(Config{})
	out, err := m.Thumbnail(buf.Bytes(), faceid.Rect{})
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 160 || h != 160 {
		t.Errorf("got %dx%d, want 160x160", w, h)
	}
}

func TestThumbnailCustomSize(t *testing.T) {
	m := NewMaker(Config{Size: 64})

	out, err := m.Thumbnail(testFrame(t, 800, 400), faceid.Rect{})
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	w, h := thumbDims(t, out)
	if w != 64 || h != 32 {
		t.Errorf("got %dx%d, want 64x32", w, h)
	}
}
