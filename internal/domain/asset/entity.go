package asset

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the asset ingestion lifecycle
type Status string

const (
	StatusUploading  Status = "UPLOADING" // Upload bytes still arriving
	StatusQueued     Status = "QUEUED"    // Bytes confirmed, ingest job enqueued
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	// StatusDuplicate never survives: a merged-away asset record is
	// deleted, not kept as a tombstone. The constant exists for job
	// results and API payloads.
	StatusDuplicate     Status = "DUPLICATE"
	StatusMissingSource Status = "MISSING_SOURCE" // Source bytes vanished, needs re-upload
	StatusError         Status = "ERROR"          // Unexpected failure, recoverable via reprocess
)

// Warning codes accumulated during ingestion. The vocabulary is additive:
// codes are never removed, only appended to.
const (
	WarnMissingOriginal = "MISSING_ORIGINAL"
)

// Derivative variants generated for every asset.
const (
	VariantThumb256   = "thumb_256"
	VariantThumb1024  = "thumb_1024"
	VariantPreviewRaw = "preview_raw"
)

// DerivativeFailureWarning builds the per-variant warning code, e.g.
// DERIVATIVE_THUMB_256_FAILED.
func DerivativeFailureWarning(variant string) string {
	return "DERIVATIVE_" + strings.ToUpper(variant) + "_FAILED"
}

// Metadata is the structured metadata bag stored as JSONB.
type Metadata map[string]any

// Value implements driver.Valuer so sqlx can serialize Metadata to JSONB.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal asset metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner so sqlx can deserialize JSONB to Metadata.
func (m *Metadata) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case nil:
		return nil
	default:
		return fmt.Errorf("unexpected type for metadata: %T", src)
	}
	return json.Unmarshal(b, m)
}

// Asset is the canonical record of one physical photograph. The exact
// content hash is globally unique among live assets; the pixel hash plus
// pixel format pair is unique per owner among live assets.
type Asset struct {
	ID      uuid.UUID `db:"id"`
	OwnerID uuid.UUID `db:"owner_id"`

	SHA256      sql.NullString `db:"sha256"`
	PixelHash   sql.NullString `db:"pixel_hash"`
	PixelFormat sql.NullString `db:"pixel_format"`

	OriginalFilename string `db:"original_filename"`
	MimeType         string `db:"mime_type"`
	SizeBytes        int64  `db:"size_bytes"`

	Width   *int       `db:"width"`
	Height  *int       `db:"height"`
	TakenAt *time.Time `db:"taken_at"`

	StorageKey string `db:"storage_key"`
	Status     Status `db:"status"`

	LastError string   `db:"last_error"`
	Warnings  string   `db:"warnings"` // newline-joined warning codes
	Meta      Metadata `db:"metadata"`

	// ReferenceCount equals the number of live project links; it is
	// recomputed after every link change, never incremented ad hoc.
	ReferenceCount int `db:"reference_count"`

	QueuedAt            *time.Time `db:"queued_at"`
	ProcessingStartedAt *time.Time `db:"processing_started_at"`
	CompletedAt         *time.Time `db:"completed_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

// WarningList splits the stored newline-joined warnings.
func (a *Asset) WarningList() []string {
	return WarningsFromText(a.Warnings)
}

// SetWarnings stores warnings as newline-joined text, dropping empties.
func (a *Asset) SetWarnings(warnings []string) {
	a.Warnings = WarningsToText(warnings)
}

// IsTerminal reports whether the asset reached a terminal lifecycle state.
func (a *Asset) IsTerminal() bool {
	switch a.Status {
	case StatusReady, StatusMissingSource, StatusError:
		return true
	}
	return false
}

// CanReprocess reports whether an explicit reprocess request is allowed.
func (a *Asset) CanReprocess() bool {
	return a.Status == StatusReady || a.Status == StatusError
}

// WarningsToText joins warning codes with newlines, skipping empties.
func WarningsToText(warnings []string) string {
	filtered := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w != "" {
			filtered = append(filtered, w)
		}
	}
	return strings.Join(filtered, "\n")
}

// WarningsFromText splits newline-joined warning codes.
func WarningsFromText(data string) []string {
	if data == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(data, "\n") {
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// Derivative is one generated rendition of an asset, keyed by
// (asset, variant) so re-ingestion overwrites instead of duplicating.
type Derivative struct {
	AssetID    uuid.UUID `db:"asset_id"`
	Variant    string    `db:"variant"`
	Format     string    `db:"format"`
	Width      int       `db:"width"`
	Height     int       `db:"height"`
	StorageKey string    `db:"storage_key"`
	CreatedAt  time.Time `db:"created_at"`
}
