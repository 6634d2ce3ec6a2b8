// Package imaging produces the fixed set of JPEG renditions generated for
// every ingested asset. A rendition can be built either from a source file
// on disk or from an in-memory preview extracted earlier in the pipeline.
package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Source identifies the pixels a rendition is built from. Exactly one of
// Path or Bytes is set; Bytes wins when both are present.
type Source struct {
	Path  string
	Bytes []byte
}

// Renderer encodes orientation-normalized JPEG renditions.
type Renderer struct {
	quality int
}

// NewRenderer creates a renderer with the given JPEG quality (1-100).
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Renderer{quality: quality}
}

// Render decodes the source, normalizes orientation, scales it down to fit
// a longEdge x longEdge box (never upscaling) and re-encodes as JPEG.
// Returns the encoded bytes and the final pixel dimensions.
func (r *Renderer) Render(src Source, longEdge int) ([]byte, int, int, error) {
	img, err := DecodeOriented(src)
	if err != nil {
		return nil, 0, 0, err
	}

	thumb := imaging.Fit(img, longEdge, longEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), thumb.Bounds().Dx(), thumb.Bounds().Dy(), nil
}

// EncodeJPEG re-encodes an already-decoded image at the renderer's quality.
func (r *Renderer) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeOriented decodes a source with EXIF orientation applied.
func DecodeOriented(src Source) (image.Image, error) {
	if len(src.Bytes) > 0 {
		img, err := imaging.Decode(bytes.NewReader(src.Bytes), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode image bytes: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Open(src.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", src.Path, err)
	}
	return img, nil
}

// Dimensions reads orientation-correct pixel dimensions without keeping the
// decoded image around. Used as the last-resort size probe.
func Dimensions(src Source) (int, int, error) {
	img, err := DecodeOriented(src)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
