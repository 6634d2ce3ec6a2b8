// Package exiftool shells out to the exiftool binary to extract structured
// metadata from ingested files. The tool is optional: every failure mode
// (missing binary, non-zero exit, malformed output) degrades to a warning
// code so an asset without metadata still completes ingestion.
package exiftool

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"
)

// Warning codes emitted by metadata extraction. The vocabulary is additive:
// codes are never renamed or removed so stored warnings stay interpretable.
const (
	WarnExifError       = "EXIF_ERROR"
	WarnExifUnavailable = "EXIF_UNAVAILABLE"
)

// takenAtTags is the capture-timestamp preference order across tag
// namespaces. First parseable value wins.
var takenAtTags = []string{
	"EXIF:DateTimeOriginal",
	"EXIF:CreateDate",
	"XMP:DateTimeOriginal",
	"QuickTime:CreateDate",
	"Composite:DateTimeOriginal",
	"EXIF:ModifyDate",
}

var widthTags = []string{"EXIF:ExifImageWidth", "File:ImageWidth", "EXIF:ImageWidth", "PNG:ImageWidth"}
var heightTags = []string{"EXIF:ExifImageHeight", "File:ImageHeight", "EXIF:ImageHeight", "PNG:ImageHeight"}

// Result is the outcome of one extraction run. Zero values mean "unknown";
// Warnings carries every non-fatal problem encountered.
type Result struct {
	TakenAt  *time.Time
	Width    int
	Height   int
	Tags     map[string]any
	Warnings []string
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client invokes exiftool as a subprocess.
type Client struct {
	path      string
	available bool
	run       runFunc
}

// New resolves the exiftool binary once at startup. When the binary is not
// on PATH the client stays usable and reports every read as degraded.
func New(path string) *Client {
	if path == "" {
		path = "exiftool"
	}
	resolved, err := exec.LookPath(path)
	c := &Client{path: resolved, available: err == nil, run: runCommand}
	if !c.available {
		c.path = path
	}
	return c
}

// Available reports whether the binary was found at startup.
func (c *Client) Available() bool {
	return c.available
}

// Read extracts metadata from the file at path. Never returns an error:
// failures are reported through Result.Warnings.
func (c *Client) Read(ctx context.Context, path string) Result {
	if !c.available {
		return Result{Warnings: []string{WarnExifError}}
	}

	// -j: JSON output, -G: group (namespace) prefixes, -n: numeric values
	out, err := c.run(ctx, c.path, "-j", "-G", "-n", path)
	if err != nil {
		return Result{Warnings: []string{WarnExifError}}
	}

	var payload []map[string]any
	if err := json.Unmarshal(out, &payload); err != nil || len(payload) == 0 {
		return Result{Warnings: []string{WarnExifError}}
	}

	tags := payload[0]
	// The absolute source path must not leak into stored metadata.
	delete(tags, "SourceFile")

	res := Result{Tags: tags}
	for _, key := range takenAtTags {
		if raw, ok := tags[key].(string); ok {
			if ts, ok := parseExifTime(raw); ok {
				res.TakenAt = &ts
				break
			}
		}
	}
	res.Width = firstInt(tags, widthTags)
	res.Height = firstInt(tags, heightTags)
	return res
}

func firstInt(tags map[string]any, keys []string) int {
	for _, key := range keys {
		switch v := tags[key].(type) {
		case float64:
			if v > 0 {
				return int(v)
			}
		case json.Number:
			if n, err := v.Int64(); err == nil && n > 0 {
				return int(n)
			}
		}
	}
	return 0
}

// parseExifTime handles the usual exiftool timestamp shapes:
// "2006:01:02 15:04:05", optional fractional seconds, optional zone offset.
func parseExifTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []string{
		"2006:01:02 15:04:05-07:00",
		"2006:01:02 15:04:05.999-07:00",
		"2006:01:02 15:04:05Z",
		"2006:01:02 15:04:05.999",
		"2006:01:02 15:04:05",
		"2006:01:02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
