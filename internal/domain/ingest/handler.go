package ingest

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/domain/project"
	"github.com/arciva/arciva-backend/internal/middleware"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/response"
	"github.com/arciva/arciva-backend/internal/pkg/validator"
)

type InitRequest struct {
	Filename  string `json:"filename" validate:"required"`
	Mime      string `json:"mime" validate:"required"`
	SizeBytes int64  `json:"size_bytes" validate:"required,min=1"`
}

type InitResponse struct {
	AssetID     uuid.UUID `json:"asset_id"`
	UploadToken string    `json:"upload_token"`
	MaxBytes    int64     `json:"max_bytes"`
}

type CompleteRequest struct {
	AssetID string `json:"asset_id" validate:"required,uuid"`
}

// uploadSession tracks one in-flight upload between init and complete.
// Sessions live in process memory; an interrupted upload is retried from
// init.
type uploadSession struct {
	token       string
	sha256      string
	bytes       int64
	duplicateID *uuid.UUID
	tempRemoved bool
}

// Handler handles the upload HTTP flow feeding the pipeline.
type Handler struct {
	repo     asset.Repository
	projects *project.Service
	files    *contentstore.Store
	queue    asset.Enqueuer
	merger   *Merger
	maxBytes int64

	mu       sync.Mutex
	sessions map[uuid.UUID]*uploadSession
}

// NewHandler creates the upload handler.
func NewHandler(repo asset.Repository, projects *project.Service, files *contentstore.Store, queue asset.Enqueuer, merger *Merger, maxBytes int64) *Handler {
	return &Handler{
		repo:     repo,
		projects: projects,
		files:    files,
		queue:    queue,
		merger:   merger,
		maxBytes: maxBytes,
		sessions: make(map[uuid.UUID]*uploadSession),
	}
}

// Init handles POST /projects/{id}/uploads/init. The route lives on the
// project router, which owns the {id} parameter.
func (h *Handler) Init(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())

	if _, err := h.projects.GetProject(r.Context(), projectID, userID); err != nil {
		switch err {
		case project.ErrProjectNotFound:
			response.NotFound(w, "Project not found")
		case project.ErrNotOwner:
			response.Forbidden(w, "Not project owner")
		default:
			response.InternalError(w)
		}
		return
	}

	now := time.Now().UTC()
	a := &asset.Asset{
		ID:               uuid.New(),
		OwnerID:          userID,
		OriginalFilename: req.Filename,
		MimeType:         req.Mime,
		SizeBytes:        req.SizeBytes,
		Status:           asset.StatusUploading,
		ReferenceCount:   1,
		CreatedAt:        now,
	}
	if err := h.repo.Create(r.Context(), a); err != nil {
		response.InternalError(w)
		return
	}

	if _, _, err := h.projects.Link(r.Context(), projectID, a.ID, userID, nil, nil); err != nil {
		response.InternalError(w)
		return
	}

	token, err := newUploadToken()
	if err != nil {
		response.InternalError(w)
		return
	}

	h.mu.Lock()
	h.sessions[a.ID] = &uploadSession{token: token}
	h.mu.Unlock()

	log.Info().
		Str("project_id", projectID.String()).
		Str("asset_id", a.ID.String()).
		Str("filename", req.Filename).
		Int64("size", req.SizeBytes).
		Str("mime", req.Mime).
		Msg("Upload initialized")

	response.Created(w, InitResponse{
		AssetID:     a.ID,
		UploadToken: token,
		MaxBytes:    req.SizeBytes,
	})
}

// Upload handles PUT /uploads/{assetID}
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	h.mu.Lock()
	session := h.sessions[assetID]
	h.mu.Unlock()
	if session == nil || session.token != r.Header.Get("X-Upload-Token") {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid upload token")
		return
	}

	userID := middleware.GetUserID(r.Context())

	a, err := h.repo.GetByID(r.Context(), assetID)
	if err != nil {
		response.InternalError(w)
		return
	}
	if a == nil || a.OwnerID != userID {
		response.NotFound(w, "Asset not found")
		return
	}

	tempPath := h.files.TempPath(assetID.String())
	f, err := os.Create(tempPath)
	if err != nil {
		response.InternalError(w)
		return
	}

	hasher := sha256.New()
	buffered := bufio.NewWriterSize(f, 1<<20)
	total, err := io.Copy(io.MultiWriter(buffered, hasher), http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err == nil {
		err = buffered.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Upload exceeds the configured size limit")
		return
	}

	sha := hex.EncodeToString(hasher.Sum(nil))

	h.mu.Lock()
	session.sha256 = sha
	session.bytes = total
	session.duplicateID = nil
	session.tempRemoved = false
	h.mu.Unlock()

	// Dedup is owner-scoped here: another user's identical bytes are not
	// this user's duplicate.
	duplicate, err := h.repo.FindOwnedBySHA256(r.Context(), userID, sha, assetID)
	if err != nil {
		response.InternalError(w)
		return
	}
	if duplicate == nil {
		// Claim the hash now so a concurrent identical upload loses the
		// unique constraint instead of double-storing.
		a.SHA256 = sql.NullString{String: sha, Valid: true}
		if err := h.repo.Update(r.Context(), a); err != nil {
			if !asset.IsUniqueViolation(err) {
				response.InternalError(w)
				return
			}
			duplicate, err = h.repo.FindOwnedBySHA256(r.Context(), userID, sha, assetID)
			if err != nil {
				response.InternalError(w)
				return
			}
			if duplicate == nil {
				// The hash is held by another user. The constraint is
				// global, so this asset can never finalize; keep the
				// staged bytes and report the conflict instead of
				// quietly destroying a valid upload.
				log.Warn().
					Str("asset_id", assetID.String()).
					Str("sha256", sha).
					Msg("Content hash already claimed by another user")
				response.Error(w, http.StatusConflict, "CONTENT_CONFLICT", "Identical content is already stored by another user")
				return
			}
		}
	}

	if duplicate != nil {
		dupID := duplicate.ID
		h.mu.Lock()
		session.duplicateID = &dupID
		session.tempRemoved = true
		h.mu.Unlock()
		h.files.RemoveTemp(assetID.String())
		log.Info().
			Str("asset_id", assetID.String()).
			Str("existing_id", dupID.String()).
			Msg("Upload matched existing content hash")
	}

	response.OK(w, map[string]interface{}{
		"bytes":     total,
		"sha256":    sha,
		"duplicate": duplicate != nil,
	})
}

// Complete handles POST /uploads/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	h.mu.Lock()
	session := h.sessions[assetID]
	delete(h.sessions, assetID)
	h.mu.Unlock()
	if session == nil {
		response.BadRequest(w, "No upload in progress")
		return
	}

	userID := middleware.GetUserID(r.Context())

	a, err := h.repo.GetByID(r.Context(), assetID)
	if err != nil {
		response.InternalError(w)
		return
	}
	if a == nil || a.OwnerID != userID {
		response.NotFound(w, "Asset not found")
		return
	}

	if session.duplicateID != nil {
		// The upload-time lookup was owner-scoped, so the twin belongs to
		// this user; it only goes missing if it was deleted in between.
		existing, err := h.repo.GetByID(r.Context(), *session.duplicateID)
		if err != nil {
			response.InternalError(w)
			return
		}
		if existing == nil || existing.OwnerID != userID {
			response.NotFound(w, "Duplicate asset missing")
			return
		}
		merged, err := h.merger.Merge(r.Context(), a, existing, !session.tempRemoved)
		if err != nil {
			response.InternalError(w)
			return
		}
		if merged {
			response.OK(w, map[string]interface{}{
				"status":   asset.StatusDuplicate,
				"asset_id": existing.ID,
			})
			return
		}
		// The merger only refuses mismatched owners, which the scoped
		// lookup rules out; if it refuses anyway, run a full ingest.
	}

	now := time.Now().UTC()
	log.Info().
		Str("asset_id", a.ID.String()).
		Str("status", string(a.Status)).
		Msg("Upload complete, queueing ingest")

	a.Status = asset.StatusQueued
	a.QueuedAt = &now
	a.ProcessingStartedAt = nil
	a.CompletedAt = nil
	a.LastError = ""
	if err := h.repo.Update(r.Context(), a); err != nil {
		response.InternalError(w)
		return
	}

	if err := h.queue.Enqueue(r.Context(), a.ID.String()); err != nil {
		log.Error().Err(err).Str("asset_id", a.ID.String()).Msg("Enqueue failed")
		a.Status = asset.StatusError
		a.LastError = "enqueue_failed: " + err.Error()
		if uerr := h.repo.Update(r.Context(), a); uerr != nil {
			log.Error().Err(uerr).Str("asset_id", a.ID.String()).Msg("Failed to record enqueue error")
		}
		response.ServiceUnavailable(w, "Failed to enqueue ingest job")
		return
	}

	response.OK(w, map[string]interface{}{"status": asset.StatusQueued})
}

// Routes returns the upload routes mounted under /uploads. Init is not
// here: it hangs off the project router.
func (h *Handler) Routes(identity func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(identity)
	r.Put("/{assetID}", h.Upload)
	r.Post("/complete", h.Complete)
	return r
}

func newUploadToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
