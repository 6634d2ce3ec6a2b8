package exiftool

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func fakeRunner(output []byte, err error) runFunc {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return output, err
	}
}

func availableClient(run runFunc) *Client {
	return &Client{path: "exiftool", available: true, run: run}
}

func TestReadParsesTagsAndStripsSourceFile(t *testing.T) {
	out := []byte(`[{
		"SourceFile": "/abs/path/photo.jpg",
		"EXIF:DateTimeOriginal": "2023:06:14 09:30:00",
		"EXIF:ExifImageWidth": 6000,
		"EXIF:ExifImageHeight": 4000,
		"EXIF:Make": "FUJIFILM"
	}]`)
	c := availableClient(fakeRunner(out, nil))

	res := c.Read(context.Background(), "/abs/path/photo.jpg")
	if len(res.Warnings) != 0 {
		t.Fatalf("warnings = %v, want none", res.Warnings)
	}
	if _, leaked := res.Tags["SourceFile"]; leaked {
		t.Error("SourceFile must be stripped before storage")
	}
	if res.Width != 6000 || res.Height != 4000 {
		t.Errorf("dimensions = %dx%d, want 6000x4000", res.Width, res.Height)
	}
	want := time.Date(2023, 6, 14, 9, 30, 0, 0, time.UTC)
	if res.TakenAt == nil || !res.TakenAt.Equal(want) {
		t.Errorf("TakenAt = %v, want %v", res.TakenAt, want)
	}
	if res.Tags["EXIF:Make"] != "FUJIFILM" {
		t.Errorf("tag lost: %v", res.Tags)
	}
}

func TestReadTakenAtPreferenceOrder(t *testing.T) {
	// DateTimeOriginal must win over CreateDate and ModifyDate.
	out := []byte(`[{
		"EXIF:ModifyDate": "2024:01:01 00:00:00",
		"EXIF:CreateDate": "2023:06:14 09:30:02",
		"EXIF:DateTimeOriginal": "2023:06:14 09:30:00"
	}]`)
	c := availableClient(fakeRunner(out, nil))

	res := c.Read(context.Background(), "photo.jpg")
	want := time.Date(2023, 6, 14, 9, 30, 0, 0, time.UTC)
	if res.TakenAt == nil || !res.TakenAt.Equal(want) {
		t.Errorf("TakenAt = %v, want DateTimeOriginal %v", res.TakenAt, want)
	}
}

func TestReadFallsBackAcrossNamespaces(t *testing.T) {
	out := []byte(`[{"XMP:DateTimeOriginal": "2022:12 bad", "QuickTime:CreateDate": "2022:03:04 05:06:07"}]`)
	c := availableClient(fakeRunner(out, nil))

	res := c.Read(context.Background(), "clip.mov")
	want := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	if res.TakenAt == nil || !res.TakenAt.Equal(want) {
		t.Errorf("TakenAt = %v, want %v", res.TakenAt, want)
	}
}

func TestReadInvocationFailureYieldsWarning(t *testing.T) {
	c := availableClient(fakeRunner(nil, errors.New("exit status 1")))

	res := c.Read(context.Background(), "photo.jpg")
	if len(res.Warnings) != 1 || res.Warnings[0] != WarnExifError {
		t.Errorf("warnings = %v, want [%s]", res.Warnings, WarnExifError)
	}
	if res.TakenAt != nil || res.Tags != nil {
		t.Error("failed read must not produce data")
	}
}

func TestReadMalformedJSONYieldsWarning(t *testing.T) {
	c := availableClient(fakeRunner([]byte("not json"), nil))

	res := c.Read(context.Background(), "photo.jpg")
	if len(res.Warnings) != 1 || res.Warnings[0] != WarnExifError {
		t.Errorf("warnings = %v, want [%s]", res.Warnings, WarnExifError)
	}
}

func TestReadMissingBinaryYieldsWarning(t *testing.T) {
	c := New("definitely-not-a-real-binary-name-12345")
	if c.Available() {
		t.Skip("unexpected binary on PATH")
	}
	res := c.Read(context.Background(), "photo.jpg")
	if len(res.Warnings) != 1 || res.Warnings[0] != WarnExifError {
		t.Errorf("warnings = %v, want [%s]", res.Warnings, WarnExifError)
	}
}

func TestParseExifTime(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2023:06:14 09:30:00", time.Date(2023, 6, 14, 9, 30, 0, 0, time.UTC), true},
		{"2023:06:14 09:30:00+02:00", time.Date(2023, 6, 14, 7, 30, 0, 0, time.UTC), true},
		{"2023:06:14", time.Date(2023, 6, 14, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"0000:00:00 00:00:00", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := parseExifTime(tc.raw)
		if ok != tc.ok {
			t.Errorf("parseExifTime(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("parseExifTime(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestMergeOverwritesAndUnionsNested(t *testing.T) {
	base := map[string]any{
		"a": 1,
		"nested": map[string]any{
			"keep": "yes",
			"both": "old",
		},
	}
	addition := map[string]any{
		"a": 2,
		"nested": map[string]any{
			"both": "new",
			"add":  "fresh",
		},
		"b": 3,
	}

	got := Merge(base, addition)

	want := map[string]any{
		"a": 2,
		"b": 3,
		"nested": map[string]any{
			"keep": "yes",
			"both": "new",
			"add":  "fresh",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %#v, want %#v", got, want)
	}

	// Inputs must be untouched.
	if base["a"] != 1 || base["nested"].(map[string]any)["both"] != "old" {
		t.Error("Merge mutated base")
	}
}

func TestMergeNilBase(t *testing.T) {
	got := Merge(nil, map[string]any{"x": 1})
	if got["x"] != 1 || len(got) != 1 {
		t.Errorf("Merge(nil, ...) = %#v", got)
	}
}
