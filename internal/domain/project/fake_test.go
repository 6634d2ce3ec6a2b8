package project

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/domain/asset"
)

// fakeRepo is an in-memory Repository for service and pairing tests.
type fakeRepo struct {
	projects map[uuid.UUID]*Project
	assets   map[uuid.UUID]*asset.Asset
	links    map[uuid.UUID]*Link
	states   map[uuid.UUID]*MetadataState // keyed by link id
	pairs    map[uuid.UUID]*Pair
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		projects: make(map[uuid.UUID]*Project),
		assets:   make(map[uuid.UUID]*asset.Asset),
		links:    make(map[uuid.UUID]*Link),
		states:   make(map[uuid.UUID]*MetadataState),
		pairs:    make(map[uuid.UUID]*Pair),
	}
}

func (f *fakeRepo) addAsset(ownerID uuid.UUID, filename string) *asset.Asset {
	a := &asset.Asset{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		OriginalFilename: filename,
		Status:           asset.StatusReady,
		ReferenceCount:   1,
	}
	f.assets[a.ID] = a
	return a
}

func (f *fakeRepo) CreateProject(ctx context.Context, p *Project) error {
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeRepo) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]*Project, error) {
	var out []*Project
	for _, p := range f.projects {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateProject(ctx context.Context, p *Project) error {
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteProject(ctx context.Context, id uuid.UUID) error {
	delete(f.projects, id)
	for linkID, l := range f.links {
		if l.ProjectID == id {
			delete(f.links, linkID)
			delete(f.states, linkID)
		}
	}
	for pairID, p := range f.pairs {
		if p.ProjectID == id {
			delete(f.pairs, pairID)
		}
	}
	return nil
}

func (f *fakeRepo) GetLink(ctx context.Context, projectID, assetID uuid.UUID) (*Link, error) {
	for _, l := range f.links {
		if l.ProjectID == projectID && l.AssetID == assetID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateLink(ctx context.Context, l *Link) error {
	cp := *l
	f.links[l.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	delete(f.links, linkID)
	delete(f.states, linkID)
	return nil
}

func (f *fakeRepo) CountLinks(ctx context.Context, projectID uuid.UUID) (int, error) {
	count := 0
	for _, l := range f.links {
		if l.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListLinkedAssets(ctx context.Context, projectID uuid.UUID) ([]*LinkedAsset, error) {
	var out []*LinkedAsset
	for _, l := range f.links {
		if l.ProjectID != projectID {
			continue
		}
		a, ok := f.assets[l.AssetID]
		if !ok {
			continue
		}
		out = append(out, &LinkedAsset{Link: *l, Asset: *a})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Link.ID.String(), out[j].Link.ID.String()) < 0
	})
	return out, nil
}

func (f *fakeRepo) ListAssetIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, l := range f.links {
		if l.ProjectID == projectID {
			out = append(out, l.AssetID)
		}
	}
	return out, nil
}

func (f *fakeRepo) RecomputeReferenceCount(ctx context.Context, assetID uuid.UUID) (int, error) {
	a, ok := f.assets[assetID]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, l := range f.links {
		if l.AssetID == assetID {
			count++
		}
	}
	if count < 1 {
		count = 1
	}
	a.ReferenceCount = count
	return count, nil
}

func (f *fakeRepo) GetStateForLink(ctx context.Context, linkID uuid.UUID) (*MetadataState, error) {
	s, ok := f.states[linkID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) CreateState(ctx context.Context, s *MetadataState) error {
	cp := *s
	f.states[s.LinkID] = &cp
	return nil
}

func (f *fakeRepo) UpdateState(ctx context.Context, s *MetadataState) error {
	cp := *s
	f.states[s.LinkID] = &cp
	return nil
}

func (f *fakeRepo) ListPairs(ctx context.Context, projectID uuid.UUID) ([]*Pair, error) {
	var out []*Pair
	for _, p := range f.pairs {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Basename < out[j].Basename
	})
	return out, nil
}

func (f *fakeRepo) CreatePair(ctx context.Context, p *Pair) error {
	cp := *p
	f.pairs[p.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdatePair(ctx context.Context, p *Pair) error {
	cp := *p
	f.pairs[p.ID] = &cp
	return nil
}

func (f *fakeRepo) DeletePair(ctx context.Context, pairID uuid.UUID) error {
	delete(f.pairs, pairID)
	for _, l := range f.links {
		if l.PairID != nil && *l.PairID == pairID {
			l.PairID = nil
		}
	}
	return nil
}

func (f *fakeRepo) SetLinkPair(ctx context.Context, linkID uuid.UUID, pairID *uuid.UUID) error {
	l, ok := f.links[linkID]
	if !ok {
		return nil
	}
	l.PairID = pairID
	return nil
}
