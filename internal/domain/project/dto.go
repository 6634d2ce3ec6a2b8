package project

import (
	"time"

	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/domain/asset"
)

type CreateProjectRequest struct {
	Title  string `json:"title" validate:"required"`
	Client string `json:"client"`
	Note   string `json:"note"`
}

type UpdateProjectRequest struct {
	Title  string `json:"title" validate:"required"`
	Client string `json:"client"`
	Note   string `json:"note"`
}

type LinkRequest struct {
	AssetID string `json:"asset_id" validate:"required,uuid"`
}

type StateUpdateRequest struct {
	Rating     *int           `json:"rating" validate:"omitempty,min=0,max=5"`
	ColorLabel *string        `json:"color_label" validate:"omitempty,color_label"`
	Picked     *bool          `json:"picked"`
	Rejected   *bool          `json:"rejected"`
	Edits      asset.Metadata `json:"edits"`
}

type ProjectOut struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Client     string    `json:"client,omitempty"`
	Note       string    `json:"note,omitempty"`
	AssetCount int       `json:"asset_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewProjectOut builds the project payload.
func NewProjectOut(p *Project, assetCount int) *ProjectOut {
	return &ProjectOut{
		ID:         p.ID,
		Title:      p.Title,
		Client:     p.Client,
		Note:       p.Note,
		AssetCount: assetCount,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

type StateOut struct {
	Rating     int            `json:"rating"`
	ColorLabel ColorLabel     `json:"color_label"`
	Picked     bool           `json:"picked"`
	Rejected   bool           `json:"rejected"`
	Edits      asset.Metadata `json:"edits,omitempty"`
}

// NewStateOut builds the metadata state payload.
func NewStateOut(s *MetadataState) *StateOut {
	return &StateOut{
		Rating:     s.Rating,
		ColorLabel: s.ColorLabel,
		Picked:     s.Picked,
		Rejected:   s.Rejected,
		Edits:      s.Edits,
	}
}

type LinkedAssetOut struct {
	LinkID           uuid.UUID    `json:"link_id"`
	AssetID          uuid.UUID    `json:"asset_id"`
	OriginalFilename string       `json:"original_filename"`
	Status           asset.Status `json:"status"`
	Width            *int         `json:"width,omitempty"`
	Height           *int         `json:"height,omitempty"`
	TakenAt          *time.Time   `json:"taken_at,omitempty"`
	PairID           *uuid.UUID   `json:"pair_id,omitempty"`
	State            *StateOut    `json:"state,omitempty"`
	AddedAt          time.Time    `json:"added_at"`
}

// NewLinkedAssetOut builds one listing row.
func NewLinkedAssetOut(row *LinkedAsset, state *MetadataState) *LinkedAssetOut {
	out := &LinkedAssetOut{
		LinkID:           row.Link.ID,
		AssetID:          row.Asset.ID,
		OriginalFilename: row.Asset.OriginalFilename,
		Status:           row.Asset.Status,
		Width:            row.Asset.Width,
		Height:           row.Asset.Height,
		TakenAt:          row.Asset.TakenAt,
		PairID:           row.Link.PairID,
		AddedAt:          row.Link.AddedAt,
	}
	if state != nil {
		out.State = NewStateOut(state)
	}
	return out
}

type PairOut struct {
	ID          uuid.UUID `json:"id"`
	Basename    string    `json:"basename"`
	JPEGAssetID uuid.UUID `json:"jpeg_asset_id"`
	RawAssetID  uuid.UUID `json:"raw_asset_id"`
}

// NewPairOut builds the pair payload.
func NewPairOut(p *Pair) *PairOut {
	return &PairOut{
		ID:          p.ID,
		Basename:    p.Basename,
		JPEGAssetID: p.JPEGAssetID,
		RawAssetID:  p.RawAssetID,
	}
}
