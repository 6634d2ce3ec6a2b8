package project

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/domain/asset"
)

// Service handles project business logic: CRUD, asset links with their
// per-link metadata states, and pair reconciliation.
type Service struct {
	repo Repository
}

// NewService creates a project service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateProject creates a project for an owner.
func (s *Service) CreateProject(ctx context.Context, ownerID uuid.UUID, title, client, note string) (*Project, error) {
	now := time.Now().UTC()
	p := &Project{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		Client:    client,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject returns a project owned by ownerID.
func (s *Service) GetProject(ctx context.Context, id, ownerID uuid.UUID) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// ListProjects returns all projects of an owner.
func (s *Service) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]*Project, error) {
	return s.repo.ListProjects(ctx, ownerID)
}

// CountAssets returns the number of assets linked to a project.
func (s *Service) CountAssets(ctx context.Context, projectID uuid.UUID) (int, error) {
	return s.repo.CountLinks(ctx, projectID)
}

// UpdateProject changes the descriptive fields of a project.
func (s *Service) UpdateProject(ctx context.Context, id, ownerID uuid.UUID, title, client, note string) (*Project, error) {
	p, err := s.GetProject(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	p.Title = title
	p.Client = client
	p.Note = note
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project while retaining its assets. Links go
// with the project, so every previously linked asset gets its reference
// count recomputed afterwards.
func (s *Service) DeleteProject(ctx context.Context, id, ownerID uuid.UUID) error {
	if _, err := s.GetProject(ctx, id, ownerID); err != nil {
		return err
	}
	assetIDs, err := s.repo.ListAssetIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("list project assets: %w", err)
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	for _, assetID := range assetIDs {
		if _, err := s.repo.RecomputeReferenceCount(ctx, assetID); err != nil {
			return fmt.Errorf("recompute reference count: %w", err)
		}
	}
	return nil
}

// LinkAsset links an asset into a project, creating its metadata state
// lazily. Linking an already linked asset is a no-op.
func (s *Service) LinkAsset(ctx context.Context, projectID, assetID, ownerID uuid.UUID) (*Link, error) {
	if _, err := s.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	link, created, err := s.Link(ctx, projectID, assetID, ownerID, nil, nil)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.SyncProjectPairs(ctx, projectID); err != nil {
			return nil, err
		}
	}
	return link, nil
}

// Link is the low-level idempotent link operation. The optional template
// seeds the fresh metadata state so merged duplicates keep their culling
// state in projects they reach for the first time.
func (s *Service) Link(ctx context.Context, projectID, assetID, ownerID uuid.UUID, template *MetadataState, sourceProjectID *uuid.UUID) (*Link, bool, error) {
	existing, err := s.repo.GetLink(ctx, projectID, assetID)
	if err != nil {
		return nil, false, fmt.Errorf("get link: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	link := &Link{
		ID:        uuid.New(),
		ProjectID: projectID,
		AssetID:   assetID,
		OwnerID:   ownerID,
		AddedAt:   now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateLink(ctx, link); err != nil {
		return nil, false, fmt.Errorf("create link: %w", err)
	}
	if _, err := s.EnsureState(ctx, link, template, sourceProjectID); err != nil {
		return nil, false, err
	}
	if _, err := s.repo.RecomputeReferenceCount(ctx, assetID); err != nil {
		return nil, false, fmt.Errorf("recompute reference count: %w", err)
	}
	return link, true, nil
}

// Unlink removes an asset from a project and recomputes the asset's
// reference count.
func (s *Service) Unlink(ctx context.Context, projectID, assetID, ownerID uuid.UUID) error {
	if _, err := s.GetProject(ctx, projectID, ownerID); err != nil {
		return err
	}
	link, err := s.repo.GetLink(ctx, projectID, assetID)
	if err != nil {
		return fmt.Errorf("get link: %w", err)
	}
	if link == nil {
		return ErrLinkNotFound
	}
	if err := s.repo.DeleteLink(ctx, link.ID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if _, err := s.repo.RecomputeReferenceCount(ctx, assetID); err != nil {
		return fmt.Errorf("recompute reference count: %w", err)
	}
	return s.SyncProjectPairs(ctx, projectID)
}

// EnsureState returns the metadata state of a link, creating it when
// missing. A template copies rating, label, flags and edits; unknown
// label values collapse to None and ratings clamp to 0..5.
func (s *Service) EnsureState(ctx context.Context, link *Link, template *MetadataState, sourceProjectID *uuid.UUID) (*MetadataState, error) {
	existing, err := s.repo.GetStateForLink(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("get metadata state: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	state := &MetadataState{
		ID:         uuid.New(),
		LinkID:     link.ID,
		ColorLabel: ColorNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if template != nil {
		state.Rating = ClampRating(template.Rating)
		state.ColorLabel = CoerceColorLabel(string(template.ColorLabel))
		state.Picked = template.Picked
		state.Rejected = template.Rejected
		state.Edits = template.Edits
		state.SourceProjectID = template.SourceProjectID
	}
	if sourceProjectID != nil {
		state.SourceProjectID = sourceProjectID
	}
	if err := s.repo.CreateState(ctx, state); err != nil {
		return nil, fmt.Errorf("create metadata state: %w", err)
	}
	return state, nil
}

// StateUpdate is a partial metadata state change; nil fields stay as is.
type StateUpdate struct {
	Rating     *int
	ColorLabel *string
	Picked     *bool
	Rejected   *bool
	Edits      asset.Metadata
}

// UpdateState applies a partial change to the state of (project, asset).
// Pick and reject are mutually exclusive: setting one clears the other.
func (s *Service) UpdateState(ctx context.Context, projectID, assetID, ownerID uuid.UUID, upd StateUpdate) (*MetadataState, error) {
	if _, err := s.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	link, err := s.repo.GetLink(ctx, projectID, assetID)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	state, err := s.EnsureState(ctx, link, nil, nil)
	if err != nil {
		return nil, err
	}

	if upd.Rating != nil {
		state.Rating = ClampRating(*upd.Rating)
	}
	if upd.ColorLabel != nil {
		state.ColorLabel = CoerceColorLabel(*upd.ColorLabel)
	}
	if upd.Picked != nil {
		state.Picked = *upd.Picked
		if state.Picked {
			state.Rejected = false
		}
	}
	if upd.Rejected != nil {
		state.Rejected = *upd.Rejected
		if state.Rejected {
			state.Picked = false
		}
	}
	if upd.Edits != nil {
		state.Edits = upd.Edits
	}
	state.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateState(ctx, state); err != nil {
		return nil, fmt.Errorf("update metadata state: %w", err)
	}
	return state, nil
}

// ListAssets returns the linked assets of a project after reconciling
// its pairs, so pair references in the listing are never stale.
func (s *Service) ListAssets(ctx context.Context, projectID, ownerID uuid.UUID) ([]*LinkedAsset, error) {
	if _, err := s.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	if err := s.SyncProjectPairs(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project_id", projectID.String()).Msg("Pair sync failed during listing")
	}
	return s.repo.ListLinkedAssets(ctx, projectID)
}

// ListPairs returns the reconciled pairs of a project.
func (s *Service) ListPairs(ctx context.Context, projectID, ownerID uuid.UUID) ([]*Pair, error) {
	if _, err := s.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	if err := s.SyncProjectPairs(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListPairs(ctx, projectID)
}
