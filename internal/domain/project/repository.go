package project

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines data access for projects, links, per-link metadata
// states and pairs.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context, ownerID uuid.UUID) ([]*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id uuid.UUID) error

	// GetLink returns the link for (project, asset), nil when absent.
	GetLink(ctx context.Context, projectID, assetID uuid.UUID) (*Link, error)
	CreateLink(ctx context.Context, l *Link) error
	DeleteLink(ctx context.Context, linkID uuid.UUID) error
	CountLinks(ctx context.Context, projectID uuid.UUID) (int, error)

	// ListLinkedAssets returns every link of a project joined with its
	// asset row, the working set of the pairing reconciler.
	ListLinkedAssets(ctx context.Context, projectID uuid.UUID) ([]*LinkedAsset, error)

	// ListAssetIDs returns the distinct asset ids linked to a project.
	ListAssetIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)

	// RecomputeReferenceCount recounts the live links of an asset and
	// stores the result, floored at one. Returns the stored value.
	RecomputeReferenceCount(ctx context.Context, assetID uuid.UUID) (int, error)

	GetStateForLink(ctx context.Context, linkID uuid.UUID) (*MetadataState, error)
	CreateState(ctx context.Context, s *MetadataState) error
	UpdateState(ctx context.Context, s *MetadataState) error

	ListPairs(ctx context.Context, projectID uuid.UUID) ([]*Pair, error)
	CreatePair(ctx context.Context, p *Pair) error
	UpdatePair(ctx context.Context, p *Pair) error
	DeletePair(ctx context.Context, pairID uuid.UUID) error

	// SetLinkPair points a link at a pair, or clears it with nil.
	SetLinkPair(ctx context.Context, linkID uuid.UUID, pairID *uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates a project repository.
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateProject(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (id, owner_id, title, client, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.Title, p.Client, p.Note, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *repository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := r.db.GetContext(ctx, &p,
		`SELECT id, owner_id, title, client, note, created_at, updated_at
		 FROM projects WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]*Project, error) {
	var list []*Project
	err := r.db.SelectContext(ctx, &list,
		`SELECT id, owner_id, title, client, note, created_at, updated_at
		 FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) UpdateProject(ctx context.Context, p *Project) error {
	query := `
		UPDATE projects
		SET title = $2, client = $3, note = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Title, p.Client, p.Note, p.UpdatedAt)
	return err
}

func (r *repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}

const linkCols = `link_id, project_id, asset_id, owner_id, pair_id, added_at, updated_at`

func (r *repository) GetLink(ctx context.Context, projectID, assetID uuid.UUID) (*Link, error) {
	var l Link
	err := r.db.GetContext(ctx, &l,
		`SELECT `+linkCols+` FROM project_assets WHERE project_id = $1 AND asset_id = $2`,
		projectID, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *repository) CreateLink(ctx context.Context, l *Link) error {
	query := `
		INSERT INTO project_assets (link_id, project_id, asset_id, owner_id, pair_id, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.ProjectID, l.AssetID, l.OwnerID, l.PairID, l.AddedAt, l.UpdatedAt)
	return err
}

func (r *repository) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM project_assets WHERE link_id = $1`, linkID)
	return err
}

func (r *repository) CountLinks(ctx context.Context, projectID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM project_assets WHERE project_id = $1`, projectID)
	return count, err
}

func (r *repository) ListLinkedAssets(ctx context.Context, projectID uuid.UUID) ([]*LinkedAsset, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT pa.link_id, pa.project_id, pa.asset_id, pa.owner_id, pa.pair_id,
		       pa.added_at, pa.updated_at,
		       a.id, a.owner_id, a.sha256, a.pixel_hash, a.pixel_format,
		       a.original_filename, a.mime_type, a.size_bytes, a.width, a.height,
		       a.taken_at, a.storage_key, a.status, a.last_error, a.warnings,
		       a.metadata, a.reference_count, a.queued_at, a.processing_started_at,
		       a.completed_at, a.created_at
		FROM project_assets pa
		JOIN assets a ON a.id = pa.asset_id
		WHERE pa.project_id = $1
		ORDER BY pa.added_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*LinkedAsset
	for rows.Next() {
		var la LinkedAsset
		err := rows.Scan(
			&la.Link.ID, &la.Link.ProjectID, &la.Link.AssetID, &la.Link.OwnerID,
			&la.Link.PairID, &la.Link.AddedAt, &la.Link.UpdatedAt,
			&la.Asset.ID, &la.Asset.OwnerID, &la.Asset.SHA256, &la.Asset.PixelHash,
			&la.Asset.PixelFormat, &la.Asset.OriginalFilename, &la.Asset.MimeType,
			&la.Asset.SizeBytes, &la.Asset.Width, &la.Asset.Height, &la.Asset.TakenAt,
			&la.Asset.StorageKey, &la.Asset.Status, &la.Asset.LastError,
			&la.Asset.Warnings, &la.Asset.Meta, &la.Asset.ReferenceCount,
			&la.Asset.QueuedAt, &la.Asset.ProcessingStartedAt, &la.Asset.CompletedAt,
			&la.Asset.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		list = append(list, &la)
	}
	return list, rows.Err()
}

func (r *repository) ListAssetIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT asset_id FROM project_assets WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) RecomputeReferenceCount(ctx context.Context, assetID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE assets
		SET reference_count = GREATEST(
			(SELECT COUNT(*) FROM project_assets WHERE asset_id = $1), 1)
		WHERE id = $1
		RETURNING reference_count
	`, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

const stateCols = `id, link_id, rating, color_label, picked, rejected, edits,
	source_project_id, created_at, updated_at`

func (r *repository) GetStateForLink(ctx context.Context, linkID uuid.UUID) (*MetadataState, error) {
	var s MetadataState
	err := r.db.GetContext(ctx, &s,
		`SELECT `+stateCols+` FROM asset_metadata_states WHERE link_id = $1`, linkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *repository) CreateState(ctx context.Context, s *MetadataState) error {
	query := `
		INSERT INTO asset_metadata_states (id, link_id, rating, color_label, picked,
			rejected, edits, source_project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.LinkID, s.Rating, s.ColorLabel, s.Picked,
		s.Rejected, s.Edits, s.SourceProjectID, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *repository) UpdateState(ctx context.Context, s *MetadataState) error {
	query := `
		UPDATE asset_metadata_states
		SET rating = $2, color_label = $3, picked = $4, rejected = $5,
		    edits = $6, updated_at = $7
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Rating, s.ColorLabel, s.Picked, s.Rejected, s.Edits, s.UpdatedAt)
	return err
}

const pairCols = `id, project_id, basename, jpeg_asset_id, raw_asset_id, created_at, updated_at`

func (r *repository) ListPairs(ctx context.Context, projectID uuid.UUID) ([]*Pair, error) {
	var list []*Pair
	err := r.db.SelectContext(ctx, &list,
		`SELECT `+pairCols+` FROM project_asset_pairs WHERE project_id = $1 ORDER BY basename`,
		projectID)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) CreatePair(ctx context.Context, p *Pair) error {
	query := `
		INSERT INTO project_asset_pairs (id, project_id, basename, jpeg_asset_id,
			raw_asset_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.ProjectID, p.Basename, p.JPEGAssetID, p.RawAssetID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *repository) UpdatePair(ctx context.Context, p *Pair) error {
	query := `
		UPDATE project_asset_pairs
		SET basename = $2, jpeg_asset_id = $3, raw_asset_id = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Basename, p.JPEGAssetID, p.RawAssetID, p.UpdatedAt)
	return err
}

func (r *repository) DeletePair(ctx context.Context, pairID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM project_asset_pairs WHERE id = $1`, pairID)
	return err
}

func (r *repository) SetLinkPair(ctx context.Context, linkID uuid.UUID, pairID *uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE project_assets SET pair_id = $2, updated_at = NOW() WHERE link_id = $1`,
		linkID, pairID)
	return err
}
