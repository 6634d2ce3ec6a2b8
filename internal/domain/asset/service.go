package asset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Enqueuer pushes ingest jobs. Satisfied by the redis queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, assetID string) error
}

// Service handles asset business logic outside the ingest pipeline itself:
// lookups for the exposure surface and the explicit reprocess trigger.
type Service struct {
	repo  Repository
	queue Enqueuer
}

// NewService creates an asset service.
func NewService(repo Repository, queue Enqueuer) *Service {
	return &Service{repo: repo, queue: queue}
}

// GetByID returns an asset owned by ownerID.
func (s *Service) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*Asset, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	if a == nil {
		return nil, ErrAssetNotFound
	}
	if a.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return a, nil
}

// ListDerivatives returns the rendition records for an asset.
func (s *Service) ListDerivatives(ctx context.Context, id uuid.UUID) ([]*Derivative, error) {
	return s.repo.ListDerivatives(ctx, id)
}

// DerivativePath resolves the storage location of one rendition.
func (s *Service) DerivativePath(ctx context.Context, id uuid.UUID, variant string) (string, error) {
	d, err := s.repo.GetDerivative(ctx, id, variant)
	if err != nil {
		return "", fmt.Errorf("get derivative: %w", err)
	}
	if d == nil {
		return "", ErrDerivativeNotFound
	}
	return d.StorageKey, nil
}

// Reprocess resets a READY or ERROR asset back to QUEUED and enqueues a
// fresh ingest job. It only touches state fields; no pipeline logic runs
// here.
func (s *Service) Reprocess(ctx context.Context, id, ownerID uuid.UUID) (*Asset, error) {
	a, err := s.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !a.CanReprocess() {
		return nil, ErrNotReprocessable
	}

	now := time.Now().UTC()
	if err := s.repo.ResetForReprocess(ctx, id, now); err != nil {
		return nil, fmt.Errorf("reset asset for reprocess: %w", err)
	}
	a.Status = StatusQueued
	a.QueuedAt = &now
	a.ProcessingStartedAt = nil
	a.CompletedAt = nil
	a.LastError = ""

	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		return nil, fmt.Errorf("enqueue ingest job: %w", err)
	}

	log.Info().Str("asset_id", id.String()).Msg("Asset re-queued for processing")
	return a, nil
}
