package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
)

// Merger folds a duplicate asset into its canonical twin: relational
// state moves in one transaction, then the duplicate's files go away.
type Merger struct {
	store MergeStore
	files *contentstore.Store
}

// NewMerger creates a merger.
func NewMerger(store MergeStore, files *contentstore.Store) *Merger {
	return &Merger{store: store, files: files}
}

// Merge adopts duplicate into canonical. Assets of different owners are
// never merged; the call reports false and the caller continues as if no
// duplicate existed. removeTemp controls whether the duplicate's staged
// upload is still around to clean up.
func (m *Merger) Merge(ctx context.Context, duplicate, canonical *asset.Asset, removeTemp bool) (bool, error) {
	if duplicate.OwnerID != canonical.OwnerID {
		log.Warn().
			Str("asset_id", duplicate.ID.String()).
			Str("existing_id", canonical.ID.String()).
			Msg("Dedup skipped, assets belong to different owners")
		return false, nil
	}

	created, err := m.store.AdoptDuplicate(ctx, duplicate, canonical)
	if err != nil {
		return false, fmt.Errorf("adopt duplicate: %w", err)
	}

	if removeTemp {
		m.files.RemoveTemp(duplicate.ID.String())
	}

	// Originals and derivatives are content-addressed by sha256. When both
	// sides carry the same hash the canonical's rows point at the very
	// files the duplicate would clean up, so they must stay.
	sharedContent := duplicate.SHA256.Valid && canonical.SHA256.Valid &&
		duplicate.SHA256.String == canonical.SHA256.String
	if !sharedContent {
		if duplicate.StorageKey != "" {
			if path, err := m.files.PathFor(duplicate.StorageKey); err == nil {
				m.files.RemoveOriginal(path)
			}
		}
		if duplicate.SHA256.Valid {
			m.files.RemoveDerivatives(duplicate.SHA256.String)
		}
	}

	log.Info().
		Str("asset_id", duplicate.ID.String()).
		Str("existing_id", canonical.ID.String()).
		Int("new_links", created).
		Int("total_refs", canonical.ReferenceCount).
		Msg("Duplicate merged into existing asset")
	return true, nil
}
