package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/domain/project"
)

// MergeStore executes the relational half of a duplicate merge in a
// single transaction.
type MergeStore interface {
	// AdoptDuplicate re-links every project of duplicate onto canonical
	// (skipping projects that already hold it, carrying the per-link
	// metadata state as template), deletes the duplicate's links and row,
	// recomputes the canonical reference count floored at one and marks
	// the canonical READY. Returns the number of newly created links.
	AdoptDuplicate(ctx context.Context, duplicate, canonical *asset.Asset) (int, error)
}

type mergeStore struct {
	db *sqlx.DB
}

// NewMergeStore creates the transactional merge store.
func NewMergeStore(db *sqlx.DB) MergeStore {
	return &mergeStore{db: db}
}

// duplicateLink is one link of the duplicate joined with its optional
// metadata state, the template a replacement link inherits.
type duplicateLink struct {
	LinkID    uuid.UUID `db:"link_id"`
	ProjectID uuid.UUID `db:"project_id"`
	OwnerID   uuid.UUID `db:"owner_id"`

	Rating          sql.NullInt64  `db:"rating"`
	ColorLabel      sql.NullString `db:"color_label"`
	Picked          sql.NullBool   `db:"picked"`
	Rejected        sql.NullBool   `db:"rejected"`
	Edits           asset.Metadata `db:"edits"`
	SourceProjectID *uuid.UUID     `db:"source_project_id"`
	HasState        bool           `db:"has_state"`
}

func (s *mergeStore) AdoptDuplicate(ctx context.Context, duplicate, canonical *asset.Asset) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	var links []duplicateLink
	err = tx.SelectContext(ctx, &links, `
		SELECT pa.link_id, pa.project_id, pa.owner_id,
		       st.rating, st.color_label, st.picked, st.rejected, st.edits,
		       st.source_project_id, (st.id IS NOT NULL) AS has_state
		FROM project_assets pa
		LEFT JOIN asset_metadata_states st ON st.link_id = pa.link_id
		WHERE pa.asset_id = $1
	`, duplicate.ID)
	if err != nil {
		return 0, fmt.Errorf("load duplicate links: %w", err)
	}

	now := time.Now().UTC()
	created := 0
	for _, l := range links {
		var existing int
		err = tx.GetContext(ctx, &existing,
			`SELECT COUNT(*) FROM project_assets WHERE project_id = $1 AND asset_id = $2`,
			l.ProjectID, canonical.ID)
		if err != nil {
			return 0, fmt.Errorf("check existing link: %w", err)
		}
		if existing > 0 {
			continue
		}

		newLinkID := uuid.New()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_assets (link_id, project_id, asset_id, owner_id, added_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, newLinkID, l.ProjectID, canonical.ID, l.OwnerID, now, now)
		if err != nil {
			return 0, fmt.Errorf("create replacement link: %w", err)
		}

		rating := 0
		label := project.ColorNone
		picked := false
		rejected := false
		if l.HasState {
			rating = project.ClampRating(int(l.Rating.Int64))
			label = project.CoerceColorLabel(l.ColorLabel.String)
			picked = l.Picked.Bool
			rejected = l.Rejected.Bool
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO asset_metadata_states (id, link_id, rating, color_label, picked,
				rejected, edits, source_project_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, uuid.New(), newLinkID, rating, label, picked, rejected, l.Edits, l.SourceProjectID, now, now)
		if err != nil {
			return 0, fmt.Errorf("seed metadata state: %w", err)
		}
		created++
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM project_assets WHERE asset_id = $1`, duplicate.ID); err != nil {
		return 0, fmt.Errorf("delete duplicate links: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM assets WHERE id = $1`, duplicate.ID); err != nil {
		return 0, fmt.Errorf("delete duplicate asset: %w", err)
	}

	var refs int
	err = tx.GetContext(ctx, &refs, `
		UPDATE assets
		SET reference_count = GREATEST(
			(SELECT COUNT(*) FROM project_assets WHERE asset_id = $1), 1),
		    completed_at = COALESCE(completed_at, $2),
		    status = $3
		WHERE id = $1
		RETURNING reference_count
	`, canonical.ID, now, asset.StatusReady)
	if err != nil {
		return 0, fmt.Errorf("finalize canonical asset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge tx: %w", err)
	}

	canonical.ReferenceCount = refs
	canonical.Status = asset.StatusReady
	if canonical.CompletedAt == nil {
		canonical.CompletedAt = &now
	}
	return created, nil
}
