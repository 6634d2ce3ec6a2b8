package project

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

// Project groups assets for one shoot or delivery.
type Project struct {
	ID      uuid.UUID `db:"id"`
	OwnerID uuid.UUID `db:"owner_id"`
	Title   string    `db:"title"`
	Client  string    `db:"client"`
	Note    string    `db:"note"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Link connects an asset to a project. An asset appears in a project at
// most once; the link id is the stable handle per-project state hangs off.
type Link struct {
	ID        uuid.UUID  `db:"link_id"`
	ProjectID uuid.UUID  `db:"project_id"`
	AssetID   uuid.UUID  `db:"asset_id"`
	OwnerID   uuid.UUID  `db:"owner_id"`
	PairID    *uuid.UUID `db:"pair_id"`

	AddedAt   time.Time `db:"added_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ColorLabel is the closed set of culling color labels.
type ColorLabel string

const (
	ColorNone   ColorLabel = "None"
	ColorRed    ColorLabel = "Red"
	ColorGreen  ColorLabel = "Green"
	ColorBlue   ColorLabel = "Blue"
	ColorYellow ColorLabel = "Yellow"
	ColorPurple ColorLabel = "Purple"
)

// CoerceColorLabel maps unknown values to ColorNone instead of failing.
func CoerceColorLabel(value string) ColorLabel {
	switch ColorLabel(value) {
	case ColorRed, ColorGreen, ColorBlue, ColorYellow, ColorPurple:
		return ColorLabel(value)
	}
	return ColorNone
}

// ClampRating bounds a star rating to the 0..5 range.
func ClampRating(value int) int {
	if value < 0 {
		return 0
	}
	if value > 5 {
		return 5
	}
	return value
}

// MetadataState holds per-link culling state. It is created lazily the
// first time a link needs one, optionally seeded from a template so a
// merged duplicate keeps its ratings in newly reached projects.
type MetadataState struct {
	ID     uuid.UUID `db:"id"`
	LinkID uuid.UUID `db:"link_id"`

	Rating     int            `db:"rating"`
	ColorLabel ColorLabel     `db:"color_label"`
	Picked     bool           `db:"picked"`
	Rejected   bool           `db:"rejected"`
	Edits      asset.Metadata `db:"edits"`

	SourceProjectID *uuid.UUID `db:"source_project_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Pair couples the JPEG and RAW sides of one camera exposure within a
// project. Pairs are derived state, rebuilt by the reconciler.
type Pair struct {
	ID          uuid.UUID `db:"id"`
	ProjectID   uuid.UUID `db:"project_id"`
	Basename    string    `db:"basename"`
	JPEGAssetID uuid.UUID `db:"jpeg_asset_id"`
	RawAssetID  uuid.UUID `db:"raw_asset_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LinkedAsset is a link joined with its asset row, the unit the pairing
// reconciler works on.
type LinkedAsset struct {
	Link  Link
	Asset asset.Asset
}

// NormalizeBasename extracts the trimmed filename stem, or "" when the
// name carries no stem at all.
func NormalizeBasename(filename string) string {
	if filename == "" {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return strings.TrimSpace(stem)
}

// ExtensionKind classifies a filename as the jpeg or raw half of a
// potential pair. Anything else returns "".
func ExtensionKind(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	}
	if rawdecode.IsRawFilename(filename) {
		return "raw"
	}
	return ""
}
