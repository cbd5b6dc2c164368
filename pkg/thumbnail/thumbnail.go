// Package thumbnail crops detected faces out of captured frames and
// shrinks them into small JPEG previews for enrollment UIs.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/haivivi/faceid/go/pkg/faceid"
)

// Config controls thumbnail generation. The zero value is usable.
type Config struct {
	// Size is the longest output edge in pixels; the crop is scaled down
	// to fit, preserving aspect ratio. Crops already within Size keep
	// their native dimensions. Default: 160.
	Size int

	// Quality is the JPEG encoder quality. Default: 85.
	Quality int

	// Margin expands the face box on every side by this fraction of its
	// width/height, keeping hair and chin in frame. Default: 0.2.
	Margin float64
}

func (c *Config) setDefaults() {
	if c.Size == 0 {
		c.Size = 160
	}
	if c.Quality == 0 {
		c.Quality = 85
	}
	if c.Margin == 0 {
		c.Margin = 0.2
	}
}

// Maker produces face thumbnails from encoded frames (JPEG or PNG).
type Maker struct {
	cfg Config
}

var _ faceid.Thumbnailer = (*Maker)(nil)

// NewMaker returns a Maker with cfg's zero fields defaulted.
func NewMaker(cfg Config) *Maker {
	cfg.setDefaults()
	return &Maker{cfg: cfg}
}

// Thumbnail decodes frame, crops the margin-expanded box clamped to the
// frame, and re-encodes the crop as a JPEG no larger than Size on its
// longest edge. A zero-area box selects the whole frame. The box must
// intersect the frame.
func (m *Maker) Thumbnail(frame []byte, box faceid.Rect) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("thumbnail: decode frame: %w", err)
	}
	bounds := img.Bounds()

	crop := bounds
	if box.Width > 0 && box.Height > 0 {
		mx := box.Width * m.cfg.Margin
		my := box.Height * m.cfg.Margin
		crop = image.Rect(
			int(box.X-mx),
			int(box.Y-my),
			int(box.X+box.Width+mx),
			int(box.Y+box.Height+my),
		).Intersect(bounds)
		if crop.Empty() {
			return nil, fmt.Errorf("thumbnail: box (%g,%g %gx%g) outside %v frame",
				box.X, box.Y, box.Width, box.Height, bounds.Size())
		}
	}

	tw, th := crop.Dx(), crop.Dy()
	if tw > m.cfg.Size || th > m.cfg.Size {
		if tw > th {
			th = th * m.cfg.Size / tw
			tw = m.cfg.Size
		} else {
			tw = tw * m.cfg.Size / th
			th = m.cfg.Size
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: m.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("thumbnail: encode: %w", err)
	}
	return buf.Bytes(), nil
}
