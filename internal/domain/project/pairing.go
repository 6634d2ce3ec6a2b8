package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SyncProjectPairs reconciles the pair set of a project from its current
// links. A basename qualifies when it has exactly one JPEG and one RAW
// member; ambiguous basenames are skipped. Existing pairs are updated in
// place so pair ids stay stable across renames and re-ingestion, dangling
// pair references are cleared and pairs without a qualifying basename are
// deleted. The whole pass is idempotent.
func (s *Service) SyncProjectPairs(ctx context.Context, projectID uuid.UUID) error {
	rows, err := s.repo.ListLinkedAssets(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list linked assets: %w", err)
	}

	type bucket struct {
		jpeg []*LinkedAsset
		raw  []*LinkedAsset
	}
	buckets := map[string]*bucket{}
	displayNames := map[string]string{}

	for _, row := range rows {
		kind := ExtensionKind(row.Asset.OriginalFilename)
		if kind == "" {
			continue
		}
		base := NormalizeBasename(row.Asset.OriginalFilename)
		if base == "" {
			continue
		}
		key := strings.ToLower(base)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			displayNames[key] = base
		}
		if kind == "jpeg" {
			b.jpeg = append(b.jpeg, row)
		} else {
			b.raw = append(b.raw, row)
		}
	}

	type target struct {
		jpeg *LinkedAsset
		raw  *LinkedAsset
	}
	targets := map[string]target{}
	for key, b := range buckets {
		switch {
		case len(b.jpeg) == 1 && len(b.raw) == 1:
			targets[key] = target{jpeg: b.jpeg[0], raw: b.raw[0]}
		case len(b.jpeg) > 1 || len(b.raw) > 1:
			log.Warn().
				Str("project_id", projectID.String()).
				Str("basename", displayNames[key]).
				Int("jpeg_count", len(b.jpeg)).
				Int("raw_count", len(b.raw)).
				Msg("Pairing skipped ambiguous basename")
		}
	}

	pairs, err := s.repo.ListPairs(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}

	if len(targets) == 0 {
		if len(pairs) == 0 {
			return nil
		}
		for _, row := range rows {
			if row.Link.PairID != nil {
				if err := s.repo.SetLinkPair(ctx, row.Link.ID, nil); err != nil {
					return fmt.Errorf("clear link pair: %w", err)
				}
			}
		}
		for _, pair := range pairs {
			if err := s.repo.DeletePair(ctx, pair.ID); err != nil {
				return fmt.Errorf("delete pair: %w", err)
			}
		}
		return nil
	}

	byKey := map[string]*Pair{}
	byAsset := map[uuid.UUID]*Pair{}
	for _, pair := range pairs {
		byKey[strings.ToLower(pair.Basename)] = pair
		byAsset[pair.JPEGAssetID] = pair
		byAsset[pair.RawAssetID] = pair
	}

	assetPair := map[uuid.UUID]uuid.UUID{}
	seen := map[uuid.UUID]bool{}
	now := time.Now().UTC()

	for key, t := range targets {
		pair := byKey[key]
		if pair == nil {
			pair = byAsset[t.jpeg.Asset.ID]
		}
		if pair == nil {
			pair = byAsset[t.raw.Asset.ID]
		}

		basename := displayNames[key]
		if basename == "" {
			basename = t.jpeg.Asset.OriginalFilename
		}

		if pair == nil {
			pair = &Pair{
				ID:          uuid.New(),
				ProjectID:   projectID,
				Basename:    basename,
				JPEGAssetID: t.jpeg.Asset.ID,
				RawAssetID:  t.raw.Asset.ID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.CreatePair(ctx, pair); err != nil {
				return fmt.Errorf("create pair: %w", err)
			}
			byKey[key] = pair
			byAsset[t.jpeg.Asset.ID] = pair
			byAsset[t.raw.Asset.ID] = pair
		} else {
			changed := false
			if pair.JPEGAssetID != t.jpeg.Asset.ID {
				delete(byAsset, pair.JPEGAssetID)
				pair.JPEGAssetID = t.jpeg.Asset.ID
				byAsset[t.jpeg.Asset.ID] = pair
				changed = true
			}
			if pair.RawAssetID != t.raw.Asset.ID {
				delete(byAsset, pair.RawAssetID)
				pair.RawAssetID = t.raw.Asset.ID
				byAsset[t.raw.Asset.ID] = pair
				changed = true
			}
			if pair.Basename != basename {
				delete(byKey, strings.ToLower(pair.Basename))
				pair.Basename = basename
				byKey[key] = pair
				changed = true
			}
			if changed {
				pair.UpdatedAt = now
				if err := s.repo.UpdatePair(ctx, pair); err != nil {
					return fmt.Errorf("update pair: %w", err)
				}
			}
		}

		assetPair[t.jpeg.Asset.ID] = pair.ID
		assetPair[t.raw.Asset.ID] = pair.ID
		seen[pair.ID] = true

		if t.jpeg.Link.PairID == nil || *t.jpeg.Link.PairID != pair.ID {
			pairID := pair.ID
			if err := s.repo.SetLinkPair(ctx, t.jpeg.Link.ID, &pairID); err != nil {
				return fmt.Errorf("set link pair: %w", err)
			}
		}
		if t.raw.Link.PairID == nil || *t.raw.Link.PairID != pair.ID {
			pairID := pair.ID
			if err := s.repo.SetLinkPair(ctx, t.raw.Link.ID, &pairID); err != nil {
				return fmt.Errorf("set link pair: %w", err)
			}
		}
	}

	for _, row := range rows {
		if _, paired := assetPair[row.Link.AssetID]; !paired && row.Link.PairID != nil {
			if err := s.repo.SetLinkPair(ctx, row.Link.ID, nil); err != nil {
				return fmt.Errorf("clear link pair: %w", err)
			}
		}
	}

	for _, pair := range pairs {
		if !seen[pair.ID] {
			if err := s.repo.DeletePair(ctx, pair.ID); err != nil {
				return fmt.Errorf("delete pair: %w", err)
			}
		}
	}

	return nil
}
