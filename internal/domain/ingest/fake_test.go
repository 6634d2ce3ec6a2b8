package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

// fakeAssetRepo is an in-memory asset.Repository for pipeline tests.
// Update enforces the global sha256 unique constraint the way Postgres
// does. finalizeErr fires on the Update that writes READY; upsertErr
// fires on every UpsertDerivative.
type fakeAssetRepo struct {
	assets      map[uuid.UUID]*asset.Asset
	derivatives map[string]*asset.Derivative
	finalizeErr error
	upsertErr   error
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{
		assets:      make(map[uuid.UUID]*asset.Asset),
		derivatives: make(map[string]*asset.Derivative),
	}
}

func (f *fakeAssetRepo) add(a *asset.Asset) *asset.Asset {
	cp := *a
	f.assets[a.ID] = &cp
	return f.assets[a.ID]
}

func (f *fakeAssetRepo) Create(ctx context.Context, a *asset.Asset) error {
	cp := *a
	f.assets[a.ID] = &cp
	return nil
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	a, ok := f.assets[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAssetRepo) Update(ctx context.Context, a *asset.Asset) error {
	if f.finalizeErr != nil && a.Status == asset.StatusReady {
		err := f.finalizeErr
		f.finalizeErr = nil
		return err
	}
	if a.SHA256.Valid {
		for _, other := range f.assets {
			if other.ID != a.ID && other.SHA256.Valid && other.SHA256.String == a.SHA256.String {
				return &pq.Error{Code: "23505", Constraint: "assets_sha256_key"}
			}
		}
	}
	cp := *a
	f.assets[a.ID] = &cp
	return nil
}

func (f *fakeAssetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.assets, id)
	return nil
}

func (f *fakeAssetRepo) FindBySHA256(ctx context.Context, sha256 string, excludeID uuid.UUID) (*asset.Asset, error) {
	for _, a := range f.assets {
		if a.ID != excludeID && a.SHA256.Valid && a.SHA256.String == sha256 {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetRepo) FindOwnedBySHA256(ctx context.Context, ownerID uuid.UUID, sha256 string, excludeID uuid.UUID) (*asset.Asset, error) {
	a, err := f.FindBySHA256(ctx, sha256, excludeID)
	if err != nil || a == nil || a.OwnerID != ownerID {
		return nil, err
	}
	return a, nil
}

func (f *fakeAssetRepo) FindByPixelHash(ctx context.Context, ownerID uuid.UUID, pixelHash, pixelFormat string, excludeID uuid.UUID) (*asset.Asset, error) {
	for _, a := range f.assets {
		if a.ID == excludeID || a.OwnerID != ownerID {
			continue
		}
		if a.PixelHash.Valid && a.PixelHash.String == pixelHash &&
			a.PixelFormat.Valid && a.PixelFormat.String == pixelFormat {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetRepo) ResetForReprocess(ctx context.Context, id uuid.UUID, queuedAt time.Time) error {
	a, ok := f.assets[id]
	if !ok {
		return nil
	}
	a.Status = asset.StatusQueued
	a.QueuedAt = &queuedAt
	a.ProcessingStartedAt = nil
	a.CompletedAt = nil
	a.LastError = ""
	return nil
}

func (f *fakeAssetRepo) UpsertDerivative(ctx context.Context, d *asset.Derivative) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *d
	f.derivatives[d.AssetID.String()+"/"+d.Variant] = &cp
	return nil
}

func (f *fakeAssetRepo) GetDerivative(ctx context.Context, assetID uuid.UUID, variant string) (*asset.Derivative, error) {
	d, ok := f.derivatives[assetID.String()+"/"+variant]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeAssetRepo) ListDerivatives(ctx context.Context, assetID uuid.UUID) ([]*asset.Derivative, error) {
	var out []*asset.Derivative
	for _, d := range f.derivatives {
		if d.AssetID == assetID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeMergeStore records adopt calls and applies the canonical-side
// mutations the real transaction would.
type fakeMergeStore struct {
	created   int
	err       error
	calls     int
	duplicate *asset.Asset
	canonical *asset.Asset
}

func (f *fakeMergeStore) AdoptDuplicate(ctx context.Context, duplicate, canonical *asset.Asset) (int, error) {
	f.calls++
	f.duplicate = duplicate
	f.canonical = canonical
	if f.err != nil {
		return 0, f.err
	}
	canonical.Status = asset.StatusReady
	if canonical.ReferenceCount < 1 {
		canonical.ReferenceCount = 1
	}
	return f.created, nil
}

// fakeRawDecoder returns a canned result for every file.
type fakeRawDecoder struct {
	res *rawdecode.Result
	err error
}

func (f fakeRawDecoder) Available() bool { return true }

func (f fakeRawDecoder) Read(ctx context.Context, path string) (*rawdecode.Result, error) {
	return f.res, f.err
}

func newTestStore(t *testing.T) *contentstore.Store {
	t.Helper()
	root := t.TempDir()
	s, err := contentstore.New(root,
		filepath.Join(root, "uploads"),
		filepath.Join(root, "originals"),
		filepath.Join(root, "derivatives"))
	if err != nil {
		t.Fatalf("contentstore.New: %v", err)
	}
	return s
}
