package asset

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository defines data access for assets and their derivatives.
type Repository interface {
	// Create adds a new asset record.
	Create(ctx context.Context, a *Asset) error

	// GetByID returns a single asset, nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Asset, error)

	// Update persists every mutable asset column.
	Update(ctx context.Context, a *Asset) error

	// Delete removes an asset by ID.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindBySHA256 returns the live asset owning an exact content hash,
	// excluding the given id. Nil when no collision exists.
	FindBySHA256(ctx context.Context, sha256 string, excludeID uuid.UUID) (*Asset, error)

	// FindOwnedBySHA256 is FindBySHA256 restricted to one owner's assets.
	// Upload-time dedup uses it so another user's identical bytes never
	// count as a duplicate of this user's upload.
	FindOwnedBySHA256(ctx context.Context, ownerID uuid.UUID, sha256 string, excludeID uuid.UUID) (*Asset, error)

	// FindByPixelHash returns the owner's live asset with the same decoded
	// pixel identity, excluding the given id.
	FindByPixelHash(ctx context.Context, ownerID uuid.UUID, pixelHash, pixelFormat string, excludeID uuid.UUID) (*Asset, error)

	// ResetForReprocess moves a READY/ERROR asset back to QUEUED.
	ResetForReprocess(ctx context.Context, id uuid.UUID, queuedAt time.Time) error

	// UpsertDerivative writes a rendition record, overwriting the previous
	// row for the same (asset, variant).
	UpsertDerivative(ctx context.Context, d *Derivative) error

	// GetDerivative returns one rendition record, nil when absent.
	GetDerivative(ctx context.Context, assetID uuid.UUID, variant string) (*Derivative, error)

	// ListDerivatives returns all rendition records for an asset.
	ListDerivatives(ctx context.Context, assetID uuid.UUID) ([]*Derivative, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates an asset repository.
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const selectCols = `id, owner_id, sha256, pixel_hash, pixel_format, original_filename,
	mime_type, size_bytes, width, height, taken_at, storage_key, status, last_error,
	warnings, metadata, reference_count, queued_at, processing_started_at, completed_at, created_at`

func (r *repository) Create(ctx context.Context, a *Asset) error {
	query := `
		INSERT INTO assets (id, owner_id, sha256, pixel_hash, pixel_format, original_filename,
			mime_type, size_bytes, width, height, taken_at, storage_key, status, last_error,
			warnings, metadata, reference_count, queued_at, processing_started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.SHA256, a.PixelHash, a.PixelFormat, a.OriginalFilename,
		a.MimeType, a.SizeBytes, a.Width, a.Height, a.TakenAt, a.StorageKey, a.Status, a.LastError,
		a.Warnings, a.Meta, a.ReferenceCount, a.QueuedAt, a.ProcessingStartedAt, a.CompletedAt, a.CreatedAt,
	)
	return err
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Asset, error) {
	var a Asset
	err := r.db.GetContext(ctx, &a, `SELECT `+selectCols+` FROM assets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) Update(ctx context.Context, a *Asset) error {
	query := `
		UPDATE assets
		SET sha256 = $2, pixel_hash = $3, pixel_format = $4, width = $5, height = $6,
		    taken_at = $7, storage_key = $8, status = $9, last_error = $10, warnings = $11,
		    metadata = $12, reference_count = $13, queued_at = $14,
		    processing_started_at = $15, completed_at = $16
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.SHA256, a.PixelHash, a.PixelFormat, a.Width, a.Height,
		a.TakenAt, a.StorageKey, a.Status, a.LastError, a.Warnings,
		a.Meta, a.ReferenceCount, a.QueuedAt,
		a.ProcessingStartedAt, a.CompletedAt,
	)
	return err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	return err
}

func (r *repository) FindBySHA256(ctx context.Context, sha256 string, excludeID uuid.UUID) (*Asset, error) {
	var a Asset
	err := r.db.GetContext(ctx, &a,
		`SELECT `+selectCols+` FROM assets WHERE sha256 = $1 AND id <> $2`,
		sha256, excludeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) FindOwnedBySHA256(ctx context.Context, ownerID uuid.UUID, sha256 string, excludeID uuid.UUID) (*Asset, error) {
	var a Asset
	err := r.db.GetContext(ctx, &a,
		`SELECT `+selectCols+` FROM assets WHERE owner_id = $1 AND sha256 = $2 AND id <> $3`,
		ownerID, sha256, excludeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) FindByPixelHash(ctx context.Context, ownerID uuid.UUID, pixelHash, pixelFormat string, excludeID uuid.UUID) (*Asset, error) {
	var a Asset
	err := r.db.GetContext(ctx, &a,
		`SELECT `+selectCols+` FROM assets
		 WHERE owner_id = $1 AND pixel_hash = $2 AND pixel_format = $3 AND id <> $4`,
		ownerID, pixelHash, pixelFormat, excludeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) ResetForReprocess(ctx context.Context, id uuid.UUID, queuedAt time.Time) error {
	query := `
		UPDATE assets
		SET status = $2, queued_at = $3, processing_started_at = NULL,
		    completed_at = NULL, last_error = ''
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, StatusQueued, queuedAt)
	return err
}

func (r *repository) UpsertDerivative(ctx context.Context, d *Derivative) error {
	query := `
		INSERT INTO derivatives (asset_id, variant, format, width, height, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset_id, variant)
		DO UPDATE SET format = EXCLUDED.format, width = EXCLUDED.width,
		              height = EXCLUDED.height, storage_key = EXCLUDED.storage_key
	`
	_, err := r.db.ExecContext(ctx, query,
		d.AssetID, d.Variant, d.Format, d.Width, d.Height, d.StorageKey, d.CreatedAt)
	return err
}

func (r *repository) GetDerivative(ctx context.Context, assetID uuid.UUID, variant string) (*Derivative, error) {
	var d Derivative
	err := r.db.GetContext(ctx, &d,
		`SELECT asset_id, variant, format, width, height, storage_key, created_at
		 FROM derivatives WHERE asset_id = $1 AND variant = $2`,
		assetID, variant)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *repository) ListDerivatives(ctx context.Context, assetID uuid.UUID) ([]*Derivative, error) {
	var list []*Derivative
	err := r.db.SelectContext(ctx, &list,
		`SELECT asset_id, variant, format, width, height, storage_key, created_at
		 FROM derivatives WHERE asset_id = $1 ORDER BY variant`,
		assetID)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The ingest pipeline treats a sha256 collision on commit as
// "someone else already owns this hash" and retries the duplicate path.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
