package rawdecode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

const thumbnailJPEGQuality = 90

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// DCRaw decodes RAW files through the dcraw command line tool. The binary
// is resolved once at construction.
type DCRaw struct {
	path      string
	available bool
	run       runFunc
}

// NewDCRaw resolves the dcraw binary. A missing binary does not fail
// construction; Available reports the outcome.
func NewDCRaw(path string) *DCRaw {
	if path == "" {
		path = "dcraw"
	}
	resolved, err := exec.LookPath(path)
	d := &DCRaw{path: resolved, available: err == nil, run: runCommand}
	if !d.available {
		d.path = path
	}
	return d
}

func (d *DCRaw) Available() bool {
	return d.available
}

// Read tries the embedded thumbnail first and falls back to a full render.
// Either path yields JPEG preview bytes; both failing is reported through
// warning codes, never as an error.
func (d *DCRaw) Read(ctx context.Context, path string) (*Result, error) {
	if !d.available {
		return &Result{Warnings: []string{WarnAdapterError}}, nil
	}

	res := &Result{Metadata: map[string]any{}}
	if info := d.identify(ctx, path); len(info) > 0 {
		res.Metadata["dcraw"] = info
	}

	thumb, thumbErr := d.run(ctx, d.path, "-c", "-e", path)
	if thumbErr == nil && len(thumb) > 0 {
		preview, w, h, err := normalizeThumbnail(thumb)
		if err == nil {
			res.PreviewBytes = preview
			res.PreviewWidth = w
			res.PreviewHeight = h
			res.PreviewSource = "thumbnail"
			return res, nil
		}
		res.Warnings = append(res.Warnings, WarnThumbnailConversionFailed)
	}

	preview, w, h, renderErr := d.render(ctx, path)
	if renderErr != nil {
		if thumbErr != nil {
			res.Warnings = append(res.Warnings, WarnAdapterError)
		} else {
			res.Warnings = append(res.Warnings, WarnNoThumbnail)
		}
		return res, nil
	}
	res.PreviewBytes = preview
	res.PreviewWidth = w
	res.PreviewHeight = h
	res.PreviewSource = "rendered"
	return res, nil
}

// render demosaics the full frame. Camera white balance only, no auto
// brightening, so repeat renders of the same file are deterministic.
func (d *DCRaw) render(ctx context.Context, path string) ([]byte, int, int, error) {
	out, err := d.run(ctx, d.path, "-c", "-w", "-W", "-T", path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dcraw render: %w", err)
	}
	img, err := tiff.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode rendered tiff: %w", err)
	}
	return encodePreview(img)
}

// identify parses `dcraw -i -v` output ("Key: value" lines) into a
// metadata map.
func (d *DCRaw) identify(ctx context.Context, path string) map[string]any {
	out, err := d.run(ctx, d.path, "-i", "-v", path)
	if err != nil {
		return nil
	}
	info := map[string]any{}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" || strings.Contains(key, " is ") {
			continue
		}
		info[key] = value
	}
	return info
}

// normalizeThumbnail turns whatever dcraw emitted into JPEG bytes. JPEG
// thumbnails pass through verbatim; PPM bitmaps are re-encoded.
func normalizeThumbnail(data []byte) ([]byte, int, int, error) {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		w, h := jpegDimensions(data)
		return data, w, h, nil
	}
	if len(data) >= 2 && data[0] == 'P' && data[1] == '6' {
		img, err := decodePPM(data)
		if err != nil {
			return nil, 0, 0, err
		}
		return encodePreview(img)
	}
	return nil, 0, 0, fmt.Errorf("unsupported thumbnail encoding")
}

func encodePreview(img image.Image) ([]byte, int, int, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(thumbnailJPEGQuality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode preview jpeg: %w", err)
	}
	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

func jpegDimensions(data []byte) (int, int) {
	cfg, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	b := cfg.Bounds()
	return b.Dx(), b.Dy()
}

// decodePPM reads the binary P6 format dcraw uses for bitmap thumbnails.
func decodePPM(data []byte) (image.Image, error) {
	var width, height, maxVal int
	rest := data[2:]
	fields := 0
	for fields < 3 {
		rest = bytes.TrimLeft(rest, " \t\r\n")
		if len(rest) > 0 && rest[0] == '#' {
			if idx := bytes.IndexByte(rest, '\n'); idx >= 0 {
				rest = rest[idx+1:]
				continue
			}
			return nil, fmt.Errorf("ppm: truncated header comment")
		}
		var n int
		if _, err := fmt.Sscanf(string(firstToken(rest)), "%d", &n); err != nil {
			return nil, fmt.Errorf("ppm: bad header: %w", err)
		}
		switch fields {
		case 0:
			width = n
		case 1:
			height = n
		case 2:
			maxVal = n
		}
		rest = rest[len(firstToken(rest)):]
		fields++
	}
	if len(rest) == 0 || maxVal != 255 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ppm: unsupported header %dx%d max=%d", width, height, maxVal)
	}
	// Single whitespace byte separates header from pixel data.
	rest = rest[1:]
	if len(rest) < width*height*3 {
		return nil, fmt.Errorf("ppm: truncated pixel data")
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := (y*width + x) * 3
			p := img.PixOffset(x, y)
			img.Pix[p+0] = rest[o+0]
			img.Pix[p+1] = rest[o+1]
			img.Pix[p+2] = rest[o+2]
			img.Pix[p+3] = 0xFF
		}
	}
	return img, nil
}

func firstToken(b []byte) []byte {
	for i, c := range b {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			return b[:i]
		}
	}
	return b
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
