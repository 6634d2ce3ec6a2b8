package ingest

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

// HashFile streams a file through SHA-256 with a 1 MiB buffer.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, bufio.NewReaderSize(f, 1<<20)); err != nil {
		return "", fmt.Errorf("hash source: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PixelHash fingerprints decoded image content independent of container
// encoding: the image is normalized to NRGBA and hashed together with its
// dimensions, so the same pixels re-encoded at a different compression
// level still collide.
func PixelHash(img image.Image) string {
	norm := imaging.Clone(img)
	b := norm.Bounds()

	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	h.Write(dims[:])
	h.Write(norm.Pix)
	return hex.EncodeToString(h.Sum(nil))
}

// PixelFormat tags a pixel hash with the source family it came from, so a
// RAW file and the JPEG developed from it never collide.
func PixelFormat(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	}
	if rawdecode.IsRawFilename(filename) {
		return "raw"
	}
	if ext == "" {
		return "unknown"
	}
	return ext
}
