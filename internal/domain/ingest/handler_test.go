package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/middleware"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
)

// fakeQueue records enqueued job ids.
type fakeQueue struct {
	jobs []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, assetID string) error {
	f.jobs = append(f.jobs, assetID)
	return nil
}

func shaOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestHandler(repo *fakeAssetRepo, files *contentstore.Store, store *fakeMergeStore, q *fakeQueue) *Handler {
	return NewHandler(repo, nil, files, q, NewMerger(store, files), 1<<20)
}

func doUpload(t *testing.T, h *Handler, a *asset.Asset, token string, userID uuid.UUID, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPut, "/"+a.ID.String(), bytes.NewReader(body))
	r.Header.Set("X-Upload-Token", token)
	r.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	h.Routes(middleware.Identity).ServeHTTP(w, r)
	return w
}

func doComplete(t *testing.T, h *Handler, assetID, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"asset_id": assetID.String()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/complete", bytes.NewReader(payload))
	r.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	h.Routes(middleware.Identity).ServeHTTP(w, r)
	return w
}

func TestUploadCrossOwnerConflictKeepsBytes(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	h := newTestHandler(repo, files, &fakeMergeStore{}, &fakeQueue{})

	body := []byte("camera bytes shared across users")

	// Another user already owns these exact bytes.
	other := queuedAsset(uuid.New(), "IMG_0100.jpg")
	other.Status = asset.StatusReady
	other.SHA256 = sql.NullString{String: shaOf(body), Valid: true}
	repo.add(other)

	userID := uuid.New()
	a := queuedAsset(userID, "IMG_0100.jpg")
	a.Status = asset.StatusUploading
	repo.add(a)
	h.sessions[a.ID] = &uploadSession{token: "tok"}

	w := doUpload(t, h, a, "tok", userID, body)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}

	// The staged bytes are a valid upload; a foreign hash holder must not
	// destroy them or mark the session as a duplicate.
	if _, err := os.Stat(files.TempPath(a.ID.String())); err != nil {
		t.Error("temp upload must survive a cross-owner hash conflict")
	}
	if h.sessions[a.ID] == nil || h.sessions[a.ID].duplicateID != nil {
		t.Error("session must not record a cross-owner duplicate")
	}
	if repo.assets[a.ID].SHA256.Valid {
		t.Error("asset must not hold a hash it could not claim")
	}
}

func TestUploadOwnedDuplicateRemovesTemp(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	h := newTestHandler(repo, files, &fakeMergeStore{}, &fakeQueue{})

	userID := uuid.New()
	body := []byte("twice uploaded bytes")

	twin := queuedAsset(userID, "IMG_0101.jpg")
	twin.Status = asset.StatusReady
	twin.SHA256 = sql.NullString{String: shaOf(body), Valid: true}
	repo.add(twin)

	a := queuedAsset(userID, "IMG_0101_copy.jpg")
	a.Status = asset.StatusUploading
	repo.add(a)
	h.sessions[a.ID] = &uploadSession{token: "tok"}

	w := doUpload(t, h, a, "tok", userID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, err := os.Stat(files.TempPath(a.ID.String())); err == nil {
		t.Error("temp upload must be removed on an owned duplicate hit")
	}
	session := h.sessions[a.ID]
	if session.duplicateID == nil || *session.duplicateID != twin.ID {
		t.Errorf("session duplicate = %v, want %s", session.duplicateID, twin.ID)
	}
	if !session.tempRemoved {
		t.Error("session must record the temp removal for complete")
	}
}

func TestCompleteMergesOwnedDuplicate(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	store := &fakeMergeStore{created: 1}
	q := &fakeQueue{}
	h := newTestHandler(repo, files, store, q)

	userID := uuid.New()
	twin := queuedAsset(userID, "IMG_0102.jpg")
	twin.Status = asset.StatusReady
	twin.SHA256 = sql.NullString{String: "abab0102", Valid: true}
	repo.add(twin)

	a := queuedAsset(userID, "IMG_0102_copy.jpg")
	a.Status = asset.StatusUploading
	repo.add(a)
	twinID := twin.ID
	h.sessions[a.ID] = &uploadSession{token: "tok", duplicateID: &twinID, tempRemoved: true}

	w := doComplete(t, h, a.ID, userID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if store.calls != 1 {
		t.Errorf("merge store calls = %d", store.calls)
	}
	if len(q.jobs) != 0 {
		t.Errorf("merged upload must not be queued, got %v", q.jobs)
	}
}

func TestCompleteVanishedTwinReturnsNotFound(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	store := &fakeMergeStore{}
	q := &fakeQueue{}
	h := newTestHandler(repo, files, store, q)

	userID := uuid.New()
	a := queuedAsset(userID, "IMG_0103.jpg")
	a.Status = asset.StatusUploading
	repo.add(a)

	gone := uuid.New()
	h.sessions[a.ID] = &uploadSession{token: "tok", duplicateID: &gone, tempRemoved: true}

	w := doComplete(t, h, a.ID, userID)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if store.calls != 0 || len(q.jobs) != 0 {
		t.Error("a vanished twin must neither merge nor queue")
	}
}

func TestCompleteQueuesFreshUpload(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	q := &fakeQueue{}
	h := newTestHandler(repo, files, &fakeMergeStore{}, q)

	userID := uuid.New()
	a := queuedAsset(userID, "IMG_0104.jpg")
	a.Status = asset.StatusUploading
	repo.add(a)
	h.sessions[a.ID] = &uploadSession{token: "tok", sha256: "cdcd0104", bytes: 8}

	w := doComplete(t, h, a.ID, userID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(q.jobs) != 1 || q.jobs[0] != a.ID.String() {
		t.Errorf("queued jobs = %v, want [%s]", q.jobs, a.ID)
	}
	stored := repo.assets[a.ID]
	if stored.Status != asset.StatusQueued {
		t.Errorf("status = %s, want %s", stored.Status, asset.StatusQueued)
	}
	if stored.QueuedAt == nil {
		t.Error("queued_at must be stamped")
	}
}
