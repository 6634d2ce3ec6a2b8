package asset

import (
	"time"

	"github.com/google/uuid"
)

// DerivativeOut describes one rendition in API payloads.
type DerivativeOut struct {
	Variant string `json:"variant"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	URL     string `json:"url"`
}

// DetailOut is the asset detail payload: lifecycle status plus the
// accumulated warning list, so a degraded READY asset stays identifiable.
type DetailOut struct {
	ID               uuid.UUID       `json:"id"`
	OriginalFilename string          `json:"original_filename"`
	MimeType         string          `json:"mime_type"`
	SizeBytes        int64           `json:"size_bytes"`
	Width            *int            `json:"width,omitempty"`
	Height           *int            `json:"height,omitempty"`
	TakenAt          *time.Time      `json:"taken_at,omitempty"`
	Status           Status          `json:"status"`
	LastError        string          `json:"last_error,omitempty"`
	Warnings         []string        `json:"warnings"`
	ReferenceCount   int             `json:"reference_count"`
	Derivatives      []DerivativeOut `json:"derivatives"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// NewDetailOut builds the detail payload for an asset.
func NewDetailOut(a *Asset, derivatives []*Derivative) *DetailOut {
	out := &DetailOut{
		ID:               a.ID,
		OriginalFilename: a.OriginalFilename,
		MimeType:         a.MimeType,
		SizeBytes:        a.SizeBytes,
		Width:            a.Width,
		Height:           a.Height,
		TakenAt:          a.TakenAt,
		Status:           a.Status,
		LastError:        a.LastError,
		Warnings:         a.WarningList(),
		ReferenceCount:   a.ReferenceCount,
		CreatedAt:        a.CreatedAt,
		CompletedAt:      a.CompletedAt,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, d := range derivatives {
		out.Derivatives = append(out.Derivatives, DerivativeOut{
			Variant: d.Variant,
			Format:  d.Format,
			Width:   d.Width,
			Height:  d.Height,
			URL:     "/v1/assets/" + a.ID.String() + "/derivatives/" + d.Variant,
		})
	}
	return out
}
