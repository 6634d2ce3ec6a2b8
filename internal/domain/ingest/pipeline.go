package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/exiftool"
	"github.com/arciva/arciva-backend/internal/pkg/imaging"
	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

// derivativePresets are the fixed renditions generated for every asset,
// longest edge in pixels.
var derivativePresets = []struct {
	Variant  string
	LongEdge int
}{
	{asset.VariantThumb256, 256},
	{asset.VariantThumb1024, 1024},
}

// JobResult summarizes one pipeline run.
type JobResult struct {
	Status      asset.Status
	DuplicateOf *uuid.UUID
}

// Pipeline runs the full ingestion of one asset: source resolution,
// hashing and dedup, original commit, metadata extraction, derivative
// generation and finalization.
type Pipeline struct {
	repo     asset.Repository
	merger   *Merger
	files    *contentstore.Store
	renderer *imaging.Renderer
	exif     *exiftool.Client
	raw      rawdecode.Decoder
}

// NewPipeline creates a pipeline.
func NewPipeline(repo asset.Repository, merger *Merger, files *contentstore.Store, renderer *imaging.Renderer, exif *exiftool.Client, raw rawdecode.Decoder) *Pipeline {
	return &Pipeline{
		repo:     repo,
		merger:   merger,
		files:    files,
		renderer: renderer,
		exif:     exif,
		raw:      raw,
	}
}

// Process ingests one asset to a terminal state. Stage-local problems
// degrade into warning codes; only this outermost layer ever writes the
// ERROR status.
func (p *Pipeline) Process(ctx context.Context, assetID uuid.UUID) (*JobResult, error) {
	a, err := p.repo.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if a == nil {
		log.Warn().Str("asset_id", assetID.String()).Msg("Ingest job for unknown asset")
		return nil, nil
	}

	log.Info().
		Str("asset_id", assetID.String()).
		Str("status", string(a.Status)).
		Int64("size", a.SizeBytes).
		Str("filename", a.OriginalFilename).
		Msg("Ingest started")

	now := time.Now().UTC()

	tempPath := p.files.TempPath(a.ID.String())
	tempExists := fileExists(tempPath)

	originalPath := ""
	if a.StorageKey != "" {
		if resolved, err := p.files.PathFor(a.StorageKey); err == nil && fileExists(resolved) {
			originalPath = resolved
		}
	}

	var sourcePath string
	switch {
	case tempExists:
		sourcePath = tempPath
	case originalPath != "":
		sourcePath = originalPath
	default:
		log.Error().
			Str("asset_id", assetID.String()).
			Str("temp", tempPath).
			Msg("Ingest source missing")
		a.Status = asset.StatusMissingSource
		a.CompletedAt = &now
		a.LastError = "missing_source"
		a.SetWarnings([]string{asset.WarnMissingOriginal})
		if err := p.repo.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("mark missing source: %w", err)
		}
		return &JobResult{Status: asset.StatusMissingSource}, nil
	}

	a.Status = asset.StatusProcessing
	a.ProcessingStartedAt = &now
	a.LastError = ""
	if err := p.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("claim asset: %w", err)
	}

	result, err := p.run(ctx, a, sourcePath, originalPath, tempExists)
	if err != nil {
		log.Error().Err(err).Str("asset_id", assetID.String()).Msg("Ingest failed")
		completed := time.Now().UTC()
		a.Status = asset.StatusError
		a.LastError = formatError(err)
		a.CompletedAt = &completed
		if uerr := p.repo.Update(ctx, a); uerr != nil {
			return nil, fmt.Errorf("mark error: %w", uerr)
		}
		return &JobResult{Status: asset.StatusError}, nil
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, a *asset.Asset, sourcePath, originalPath string, tempExists bool) (*JobResult, error) {
	sha, err := HashFile(sourcePath)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", a.ID.String()).
		Str("sha256", sha).
		Str("source", sourcePath).
		Msg("Source hashed")

	// Exact dedup runs only for fresh uploads; re-ingesting a committed
	// original would otherwise find itself.
	if tempExists {
		duplicate, err := p.repo.FindBySHA256(ctx, sha, a.ID)
		if err != nil {
			return nil, fmt.Errorf("find duplicate: %w", err)
		}
		if duplicate != nil {
			merged, err := p.merger.Merge(ctx, a, duplicate, true)
			if err != nil {
				return nil, err
			}
			if merged {
				dupID := duplicate.ID
				return &JobResult{Status: asset.StatusDuplicate, DuplicateOf: &dupID}, nil
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(a.OriginalFilename))
	if ext == "" && originalPath != "" {
		ext = strings.ToLower(filepath.Ext(originalPath))
	}
	if ext == "" {
		ext = ".bin"
	}

	if tempExists {
		dest, err := p.files.CommitOriginal(sourcePath, sha, ext)
		if err != nil {
			return nil, fmt.Errorf("commit original: %w", err)
		}
		sourcePath = dest
	}

	takenAt := a.TakenAt
	width := a.Width
	height := a.Height
	metadata := map[string]any(a.Meta)
	var warnings []string
	var rawResult *rawdecode.Result
	var previewBytes []byte

	if rawdecode.IsRawFilename(a.OriginalFilename) || rawdecode.IsRawFilename(sourcePath) {
		res, err := p.raw.Read(ctx, sourcePath)
		if err != nil {
			log.Error().Err(err).Str("asset_id", a.ID.String()).Msg("RAW reader failed")
			warnings = append(warnings, rawdecode.WarnPreviewError)
		} else {
			rawResult = res
			warnings = append(warnings, res.Warnings...)
			previewBytes = res.PreviewBytes
			if width == nil && res.PreviewWidth > 0 {
				width = intPtr(res.PreviewWidth)
			}
			if height == nil && res.PreviewHeight > 0 {
				height = intPtr(res.PreviewHeight)
			}
			if len(previewBytes) > 0 {
				log.Info().
					Str("asset_id", a.ID.String()).
					Int("preview_width", res.PreviewWidth).
					Int("preview_height", res.PreviewHeight).
					Str("preview_source", res.PreviewSource).
					Msg("RAW preview extracted")
			}
		}
	}

	exifRes := p.exif.Read(ctx, sourcePath)
	if exifRes.TakenAt != nil {
		takenAt = exifRes.TakenAt
	}
	if exifRes.Width > 0 {
		width = intPtr(exifRes.Width)
	}
	if exifRes.Height > 0 {
		height = intPtr(exifRes.Height)
	}
	if len(exifRes.Tags) > 0 {
		metadata = exifRes.Tags
	}
	warnings = append(warnings, exifRes.Warnings...)

	if takenAt == nil {
		warnings = append(warnings, exiftool.WarnExifUnavailable)
	}

	if rawResult != nil && len(rawResult.Metadata) > 0 {
		metadata = exiftool.Merge(metadata, rawResult.Metadata)
	}

	if (width == nil || height == nil) && len(previewBytes) > 0 {
		if w, h, err := imaging.Dimensions(imaging.Source{Bytes: previewBytes}); err == nil {
			width, height = intPtr(w), intPtr(h)
		} else {
			log.Warn().Err(err).Str("asset_id", a.ID.String()).Msg("Preview size probe failed")
		}
	}
	if (width == nil || height == nil) && fileExists(sourcePath) {
		if w, h, err := imaging.Dimensions(imaging.Source{Path: sourcePath}); err == nil {
			width, height = intPtr(w), intPtr(h)
		} else {
			log.Warn().Err(err).Str("asset_id", a.ID.String()).Msg("Source size probe failed")
		}
	}

	// Pixel-level dedup catches re-encodes of the same exposure. The
	// check is best effort and eventually consistent: two concurrent
	// ingests may both pass it, which a later run converges.
	pixelSrc := imaging.Source{Path: sourcePath}
	if len(previewBytes) > 0 {
		pixelSrc = imaging.Source{Bytes: previewBytes}
	}
	if img, err := imaging.DecodeOriented(pixelSrc); err == nil {
		a.PixelHash = sql.NullString{String: PixelHash(img), Valid: true}
		a.PixelFormat = sql.NullString{String: PixelFormat(a.OriginalFilename), Valid: true}

		duplicate, err := p.repo.FindByPixelHash(ctx, a.OwnerID, a.PixelHash.String, a.PixelFormat.String, a.ID)
		if err != nil {
			return nil, fmt.Errorf("find pixel duplicate: %w", err)
		}
		if duplicate != nil {
			a.SHA256 = sql.NullString{String: sha, Valid: true}
			if key, kerr := p.files.KeyFor(sourcePath); kerr == nil {
				a.StorageKey = key
			}
			merged, err := p.merger.Merge(ctx, a, duplicate, false)
			if err != nil {
				return nil, err
			}
			if merged {
				dupID := duplicate.ID
				return &JobResult{Status: asset.StatusDuplicate, DuplicateOf: &dupID}, nil
			}
		}
	} else {
		log.Warn().Err(err).Str("asset_id", a.ID.String()).Msg("Pixel hash decode failed")
	}

	now := time.Now().UTC()
	var derivativeFailures []string
	for _, preset := range derivativePresets {
		src := imaging.Source{Path: sourcePath}
		if len(previewBytes) > 0 {
			src = imaging.Source{Bytes: previewBytes}
		}
		blob, w, h, err := p.renderer.Render(src, preset.LongEdge)
		if err != nil && len(previewBytes) > 0 {
			log.Warn().Err(err).
				Str("asset_id", a.ID.String()).
				Str("variant", preset.Variant).
				Msg("Preview derivative failed, falling back to source")
			blob, w, h, err = p.renderer.Render(imaging.Source{Path: sourcePath}, preset.LongEdge)
		}
		if err != nil {
			log.Error().Err(err).
				Str("asset_id", a.ID.String()).
				Str("variant", preset.Variant).
				Msg("Derivative failed")
			derivativeFailures = append(derivativeFailures, asset.DerivativeFailureWarning(preset.Variant))
			continue
		}

		if err := p.storeDerivative(ctx, a.ID, sha, preset.Variant, blob, w, h, now); err != nil {
			return nil, err
		}
	}
	warnings = append(warnings, derivativeFailures...)

	if len(previewBytes) > 0 {
		pw, ph := previewDims(rawResult, previewBytes, width, height)
		if err := p.storeDerivative(ctx, a.ID, sha, asset.VariantPreviewRaw, previewBytes, pw, ph, now); err != nil {
			return nil, err
		}
	}

	a.SHA256 = sql.NullString{String: sha, Valid: true}
	key, err := p.files.KeyFor(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("store key for original: %w", err)
	}
	a.StorageKey = key
	a.Width = width
	a.Height = height
	a.TakenAt = takenAt
	a.Status = asset.StatusReady
	completed := time.Now().UTC()
	a.CompletedAt = &completed
	a.SetWarnings(warnings)
	a.Meta = metadata
	if a.ReferenceCount < 1 {
		a.ReferenceCount = 1
	}

	if err := p.repo.Update(ctx, a); err != nil {
		// A concurrent ingest of identical bytes won the sha256 unique
		// constraint. Fold this asset into the winner.
		if asset.IsUniqueViolation(err) {
			duplicate, ferr := p.repo.FindBySHA256(ctx, sha, a.ID)
			if ferr != nil {
				return nil, fmt.Errorf("find duplicate after conflict: %w", ferr)
			}
			if duplicate != nil {
				merged, merr := p.merger.Merge(ctx, a, duplicate, false)
				if merr != nil {
					return nil, merr
				}
				if merged {
					dupID := duplicate.ID
					return &JobResult{Status: asset.StatusDuplicate, DuplicateOf: &dupID}, nil
				}
			}
		}
		return nil, fmt.Errorf("finalize asset: %w", err)
	}

	log.Info().
		Str("asset_id", a.ID.String()).
		Str("sha256", sha).
		Strs("warnings", warnings).
		Msg("Ingest complete")
	return &JobResult{Status: asset.StatusReady}, nil
}

func (p *Pipeline) storeDerivative(ctx context.Context, assetID uuid.UUID, sha, variant string, blob []byte, width, height int, now time.Time) error {
	path, err := p.files.DerivativePath(sha, variant, "jpg")
	if err != nil {
		return fmt.Errorf("derivative path %s: %w", variant, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write derivative %s: %w", variant, err)
	}
	key, err := p.files.KeyFor(path)
	if err != nil {
		return fmt.Errorf("derivative key %s: %w", variant, err)
	}
	d := &asset.Derivative{
		AssetID:    assetID,
		Variant:    variant,
		Format:     "jpg",
		Width:      width,
		Height:     height,
		StorageKey: key,
		CreatedAt:  now,
	}
	if err := p.repo.UpsertDerivative(ctx, d); err != nil {
		return fmt.Errorf("persist derivative %s: %w", variant, err)
	}
	return nil
}

// previewDims picks the best known dimensions for the stored RAW preview,
// degrading from adapter-reported size to a decode probe to the asset's
// own dimensions, never below 1x1.
func previewDims(rawResult *rawdecode.Result, previewBytes []byte, width, height *int) (int, int) {
	if rawResult != nil && rawResult.PreviewWidth > 0 && rawResult.PreviewHeight > 0 {
		return rawResult.PreviewWidth, rawResult.PreviewHeight
	}
	if w, h, err := imaging.Dimensions(imaging.Source{Bytes: previewBytes}); err == nil && w > 0 && h > 0 {
		return w, h
	}
	w, h := 1, 1
	if width != nil && *width > 0 {
		w = *width
	}
	if height != nil && *height > 0 {
		h = *height
	}
	return w, h
}

// formatError renders the terminal error string stored on the asset.
func formatError(err error) string {
	return fmt.Sprintf("%T: %v", err, err)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func intPtr(v int) *int {
	return &v
}
