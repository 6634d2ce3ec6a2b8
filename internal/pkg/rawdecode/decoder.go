// Package rawdecode extracts renderable previews from RAW camera files.
// RAW decoding is an optional capability: the concrete adapter shells out
// to dcraw when it is installed, and callers check availability once at
// startup instead of per call.
package rawdecode

import (
	"context"
	"path/filepath"
	"strings"
)

// Warning codes for the RAW stage of the decoder chain. Additive vocabulary.
const (
	WarnAdapterError              = "RAW_ADAPTER_ERROR"
	WarnNoThumbnail               = "RAW_NO_THUMBNAIL"
	WarnThumbnailConversionFailed = "RAW_THUMBNAIL_CONVERSION_FAILED"
	WarnPreviewError              = "RAW_PREVIEW_ERROR"
)

// rawExtensions covers the RAW family this pipeline recognizes, lowercase
// without the leading dot.
var rawExtensions = map[string]struct{}{
	"3fr": {}, "arw": {}, "cr2": {}, "cr3": {}, "crw": {}, "dng": {},
	"erf": {}, "iiq": {}, "kdc": {}, "mrw": {}, "nef": {}, "nrw": {},
	"orf": {}, "pef": {}, "raf": {}, "raw": {}, "rw2": {}, "rwl": {},
	"sr2": {}, "srw": {},
}

// IsRawFilename reports whether the file extension suggests RAW contents.
func IsRawFilename(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := rawExtensions[ext]
	return ok
}

// Result carries everything a RAW read produced. PreviewBytes is always
// JPEG-encoded when present, ready for derivative generation.
type Result struct {
	PreviewBytes  []byte
	PreviewWidth  int
	PreviewHeight int
	PreviewSource string // "thumbnail" or "rendered"
	Metadata      map[string]any
	Warnings      []string
}

// Decoder is the injected RAW capability. Implementations must treat every
// per-file problem as a warning inside Result; a returned error means the
// decode attempt itself blew up.
type Decoder interface {
	Available() bool
	Read(ctx context.Context, path string) (*Result, error)
}

// Unavailable is the no-op decoder used when no RAW tool is installed.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Read(ctx context.Context, path string) (*Result, error) {
	return &Result{Warnings: []string{WarnAdapterError}}, nil
}
