package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/exiftool"
	"github.com/arciva/arciva-backend/internal/pkg/imaging"
	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

func newTestPipeline(repo asset.Repository, files *contentstore.Store, store MergeStore, raw rawdecode.Decoder) *Pipeline {
	if raw == nil {
		raw = rawdecode.Unavailable{}
	}
	// The exiftool path points nowhere on purpose: extraction degrades to
	// warnings, which is exactly the no-tools environment tests run in.
	exif := exiftool.New("/nonexistent/exiftool")
	return NewPipeline(repo, NewMerger(store, files), files, imaging.NewRenderer(85), exif, raw)
}

func queuedAsset(owner uuid.UUID, filename string) *asset.Asset {
	now := time.Now().UTC()
	return &asset.Asset{
		ID:               uuid.New(),
		OwnerID:          owner,
		OriginalFilename: filename,
		MimeType:         "image/jpeg",
		SizeBytes:        1,
		Status:           asset.StatusQueued,
		ReferenceCount:   1,
		QueuedAt:         &now,
		CreatedAt:        now,
	}
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 120, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func stageUpload(t *testing.T, files *contentstore.Store, a *asset.Asset, data []byte) string {
	t.Helper()
	path := files.TempPath(a.ID.String())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("stage upload: %v", err)
	}
	return path
}

func hasWarning(t *testing.T, a *asset.Asset, code string) bool {
	t.Helper()
	for _, w := range a.WarningList() {
		if w == code {
			return true
		}
	}
	return false
}

func TestProcessMissingSource(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	p := newTestPipeline(repo, files, &fakeMergeStore{}, nil)

	owner := uuid.New()
	a := repo.add(queuedAsset(owner, "IMG_0001.jpg"))

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusMissingSource {
		t.Fatalf("expected MISSING_SOURCE, got %s", result.Status)
	}

	stored := repo.assets[a.ID]
	if stored.Status != asset.StatusMissingSource {
		t.Errorf("stored status = %s", stored.Status)
	}
	if stored.LastError != "missing_source" {
		t.Errorf("last error = %q", stored.LastError)
	}
	if !hasWarning(t, stored, asset.WarnMissingOriginal) {
		t.Errorf("warnings = %q, want %s", stored.Warnings, asset.WarnMissingOriginal)
	}
	if stored.CompletedAt == nil {
		t.Error("terminal state must set completed_at")
	}
}

func TestProcessJPEGToReady(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	p := newTestPipeline(repo, files, &fakeMergeStore{}, nil)

	owner := uuid.New()
	a := repo.add(queuedAsset(owner, "IMG_0002.jpg"))
	tempPath := stageUpload(t, files, a, jpegFixture(t, 100, 80))

	sha, err := HashFile(tempPath)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusReady {
		t.Fatalf("expected READY, got %s", result.Status)
	}

	stored := repo.assets[a.ID]
	if !stored.SHA256.Valid || stored.SHA256.String != sha {
		t.Errorf("sha256 = %+v, want %s", stored.SHA256, sha)
	}
	if !stored.PixelHash.Valid {
		t.Error("pixel hash must be recorded")
	}
	if !stored.PixelFormat.Valid || stored.PixelFormat.String != "jpeg" {
		t.Errorf("pixel format = %+v", stored.PixelFormat)
	}
	if stored.Width == nil || *stored.Width != 100 || stored.Height == nil || *stored.Height != 80 {
		t.Errorf("dimensions = %v x %v, want 100 x 80", stored.Width, stored.Height)
	}
	if stored.StorageKey == "" {
		t.Fatal("storage key not set")
	}

	originalPath, err := files.PathFor(stored.StorageKey)
	if err != nil {
		t.Fatalf("PathFor: %v", err)
	}
	if _, err := os.Stat(originalPath); err != nil {
		t.Error("committed original missing")
	}
	if _, err := os.Stat(tempPath); err == nil {
		t.Error("temp upload must be gone after commit")
	}

	for _, variant := range []string{asset.VariantThumb256, asset.VariantThumb1024} {
		if repo.derivatives[a.ID.String()+"/"+variant] == nil {
			t.Errorf("derivative record %s missing", variant)
		}
		if files.FindDerivative(sha, variant, "jpg") == "" {
			t.Errorf("derivative file %s missing", variant)
		}
	}

	// No tools installed: metadata degrades to warnings, nothing more.
	if !hasWarning(t, stored, exiftool.WarnExifUnavailable) {
		t.Errorf("warnings = %q, want %s", stored.Warnings, exiftool.WarnExifUnavailable)
	}
	if strings.Contains(stored.Warnings, "DERIVATIVE_") {
		t.Errorf("unexpected derivative failure: %q", stored.Warnings)
	}
	if stored.CompletedAt == nil || stored.ProcessingStartedAt == nil {
		t.Error("lifecycle timestamps missing")
	}
}

func TestProcessExactDuplicateUpload(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	store := &fakeMergeStore{created: 1}
	p := newTestPipeline(repo, files, store, nil)

	owner := uuid.New()
	data := jpegFixture(t, 64, 64)

	a := repo.add(queuedAsset(owner, "IMG_0003.jpg"))
	tempPath := stageUpload(t, files, a, data)
	sha, _ := HashFile(tempPath)

	canonical := queuedAsset(owner, "IMG_0003_copy.jpg")
	canonical.Status = asset.StatusReady
	canonical.SHA256 = sql.NullString{String: sha, Valid: true}
	repo.add(canonical)

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusDuplicate {
		t.Fatalf("expected DUPLICATE, got %s", result.Status)
	}
	if result.DuplicateOf == nil || *result.DuplicateOf != canonical.ID {
		t.Errorf("DuplicateOf = %v, want %s", result.DuplicateOf, canonical.ID)
	}
	if store.calls != 1 {
		t.Errorf("merge store calls = %d", store.calls)
	}
	if _, err := os.Stat(tempPath); err == nil {
		t.Error("duplicate's temp upload must be removed")
	}
}

func TestProcessRawPreviewFallsBackToSource(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)

	// The adapter hands back undecodable preview bytes: derivatives must
	// fall back to the source file, the preview is still stored verbatim.
	garbage := []byte("not a jpeg preview")
	raw := fakeRawDecoder{res: &rawdecode.Result{
		PreviewBytes:  garbage,
		PreviewSource: "thumbnail",
	}}
	p := newTestPipeline(repo, files, &fakeMergeStore{}, raw)

	owner := uuid.New()
	a := repo.add(queuedAsset(owner, "IMG_0010.cr2"))
	stageUpload(t, files, a, jpegFixture(t, 100, 80))

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusReady {
		t.Fatalf("expected READY, got %s", result.Status)
	}

	stored := repo.assets[a.ID]
	if strings.Contains(stored.Warnings, "DERIVATIVE_") {
		t.Errorf("source fallback must avoid derivative failures: %q", stored.Warnings)
	}
	if stored.PixelHash.Valid {
		t.Error("undecodable preview must leave pixel hash empty")
	}

	preview := repo.derivatives[a.ID.String()+"/"+asset.VariantPreviewRaw]
	if preview == nil {
		t.Fatal("preview_raw derivative missing")
	}
	if preview.Width != 100 || preview.Height != 80 {
		t.Errorf("preview dims = %dx%d, want asset dims 100x80", preview.Width, preview.Height)
	}
	previewPath, err := files.PathFor(preview.StorageKey)
	if err != nil {
		t.Fatalf("PathFor: %v", err)
	}
	got, err := os.ReadFile(previewPath)
	if err != nil {
		t.Fatalf("read preview: %v", err)
	}
	if !bytes.Equal(got, garbage) {
		t.Error("preview bytes must be stored verbatim")
	}
}

func TestProcessUndecodableSourceDegrades(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	p := newTestPipeline(repo, files, &fakeMergeStore{}, nil)

	owner := uuid.New()
	a := repo.add(queuedAsset(owner, "blob.jpg"))
	stageUpload(t, files, a, []byte("this is not an image"))

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusReady {
		t.Fatalf("undecodable source still finishes READY, got %s", result.Status)
	}

	stored := repo.assets[a.ID]
	for _, variant := range []string{asset.VariantThumb256, asset.VariantThumb1024} {
		if !hasWarning(t, stored, asset.DerivativeFailureWarning(variant)) {
			t.Errorf("warnings = %q, want %s failure", stored.Warnings, variant)
		}
	}
	if stored.Width != nil || stored.Height != nil {
		t.Error("dimensions must stay unknown")
	}
	if stored.PixelHash.Valid {
		t.Error("pixel hash must stay unset")
	}
	if stored.StorageKey == "" {
		t.Error("original must still be committed")
	}
}

func TestProcessDerivativePersistFailure(t *testing.T) {
	repo := newFakeAssetRepo()
	repo.upsertErr = errors.New("db down")
	files := newTestStore(t)
	p := newTestPipeline(repo, files, &fakeMergeStore{}, nil)

	owner := uuid.New()
	a := repo.add(queuedAsset(owner, "IMG_0005.jpg"))
	stageUpload(t, files, a, jpegFixture(t, 64, 64))

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusError {
		t.Fatalf("expected ERROR, got %s", result.Status)
	}

	stored := repo.assets[a.ID]
	if stored.Status != asset.StatusError {
		t.Errorf("stored status = %s", stored.Status)
	}
	if !strings.Contains(stored.LastError, "persist derivative thumb_256: db down") {
		t.Errorf("last error = %q", stored.LastError)
	}
	if !strings.HasPrefix(stored.LastError, "*") {
		t.Errorf("last error must carry the error type, got %q", stored.LastError)
	}
	if stored.CompletedAt == nil {
		t.Error("terminal state must set completed_at")
	}
}

func TestProcessFinalizeConflictMerges(t *testing.T) {
	repo := newFakeAssetRepo()
	repo.finalizeErr = &pq.Error{Code: "23505"}
	files := newTestStore(t)
	store := &fakeMergeStore{created: 1}
	p := newTestPipeline(repo, files, store, nil)

	owner := uuid.New()
	data := jpegFixture(t, 64, 64)

	// Re-ingest of a committed original: no temp file, so the early exact
	// dedup is skipped and the collision only surfaces on finalize.
	a := queuedAsset(owner, "IMG_0042.jpg")
	originalPath := files.OriginalPath("precommitted", ".jpg")
	if err := os.WriteFile(originalPath, data, 0o644); err != nil {
		t.Fatalf("write original: %v", err)
	}
	key, err := files.KeyFor(originalPath)
	if err != nil {
		t.Fatalf("KeyFor: %v", err)
	}
	a.StorageKey = key
	repo.add(a)

	sha, _ := HashFile(originalPath)
	canonical := queuedAsset(owner, "IMG_0042_copy.jpg")
	canonical.Status = asset.StatusReady
	canonical.SHA256 = sql.NullString{String: sha, Valid: true}
	repo.add(canonical)

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusDuplicate {
		t.Fatalf("expected DUPLICATE, got %s", result.Status)
	}
	if result.DuplicateOf == nil || *result.DuplicateOf != canonical.ID {
		t.Errorf("DuplicateOf = %v, want %s", result.DuplicateOf, canonical.ID)
	}
	if store.calls != 1 {
		t.Errorf("merge store calls = %d", store.calls)
	}

	// Loser and winner share the sha256, so the content-addressed files
	// belong to the canonical asset now: none of them may be cleaned up.
	if _, err := os.Stat(originalPath); err != nil {
		t.Error("canonical's original must survive the conflict merge")
	}
	if files.FindDerivative(sha, asset.VariantThumb256, "jpg") == "" {
		t.Error("canonical's derivatives must survive the conflict merge")
	}
}

func TestProcessPixelDuplicateMerges(t *testing.T) {
	repo := newFakeAssetRepo()
	files := newTestStore(t)
	store := &fakeMergeStore{created: 1}
	p := newTestPipeline(repo, files, store, nil)

	owner := uuid.New()
	data := jpegFixture(t, 64, 64)

	img, err := imaging.DecodeOriented(imaging.Source{Bytes: data})
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	canonical := queuedAsset(owner, "IMG_0007.jpg")
	canonical.Status = asset.StatusReady
	canonicalPath := files.OriginalPath("feed0001", ".jpg")
	if err := os.WriteFile(canonicalPath, data, 0o644); err != nil {
		t.Fatalf("write canonical original: %v", err)
	}
	key, err := files.KeyFor(canonicalPath)
	if err != nil {
		t.Fatalf("KeyFor: %v", err)
	}
	canonical.StorageKey = key
	canonical.SHA256 = sql.NullString{String: "feed0001", Valid: true}
	canonical.PixelHash = sql.NullString{String: PixelHash(img), Valid: true}
	canonical.PixelFormat = sql.NullString{String: "jpeg", Valid: true}
	repo.add(canonical)

	// Same decoded pixels, different bytes: trailing container noise after
	// the JPEG end marker changes the sha without changing the image.
	reexport := append(append([]byte{}, data...), []byte("export trailer")...)
	a := repo.add(queuedAsset(owner, "IMG_0007_export.jpg"))
	tempPath := stageUpload(t, files, a, reexport)
	sha, err := HashFile(tempPath)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	result, err := p.Process(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != asset.StatusDuplicate {
		t.Fatalf("expected DUPLICATE, got %s", result.Status)
	}
	if result.DuplicateOf == nil || *result.DuplicateOf != canonical.ID {
		t.Errorf("DuplicateOf = %v, want %s", result.DuplicateOf, canonical.ID)
	}
	if store.calls != 1 {
		t.Errorf("merge store calls = %d", store.calls)
	}

	// The loser's committed original goes, the canonical's copy stays.
	if _, err := os.Stat(files.OriginalPath(sha, ".jpg")); err == nil {
		t.Error("pixel duplicate's committed original must be removed")
	}
	if _, err := os.Stat(canonicalPath); err != nil {
		t.Error("canonical's original must survive a pixel merge")
	}
}

func TestPixelHashIsDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	if PixelHash(img) != PixelHash(img) {
		t.Error("same pixels must hash identically")
	}

	other := image.NewRGBA(image.Rect(0, 0, 8, 9))
	if PixelHash(img) == PixelHash(other) {
		t.Error("different dimensions must hash differently")
	}
}

func TestPixelFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"IMG_0001.JPG", "jpeg"},
		{"IMG_0001.jpeg", "jpeg"},
		{"IMG_0001.CR2", "raw"},
		{"img.nef", "raw"},
		{"scan.png", "png"},
		{"noext", "unknown"},
	}
	for _, tt := range tests {
		if got := PixelFormat(tt.filename); got != tt.want {
			t.Errorf("PixelFormat(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestFormatError(t *testing.T) {
	got := formatError(errors.New("boom"))
	if got != "*errors.errorString: boom" {
		t.Errorf("formatError = %q", got)
	}
}
