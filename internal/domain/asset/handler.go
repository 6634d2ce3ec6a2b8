package asset

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/middleware"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/response"
)

// Handler handles asset HTTP requests
type Handler struct {
	service *Service
	store   *contentstore.Store
}

// NewHandler creates asset handler
func NewHandler(service *Service, store *contentstore.Store) *Handler {
	return &Handler{service: service, store: store}
}

// GetByID handles GET /assets/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	a, err := h.service.GetByID(r.Context(), id, userID)
	if err != nil {
		switch err {
		case ErrAssetNotFound:
			response.NotFound(w, "Asset not found")
		case ErrNotOwner:
			response.Forbidden(w, "Not asset owner")
		default:
			response.InternalError(w)
		}
		return
	}

	derivatives, err := h.service.ListDerivatives(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, NewDetailOut(a, derivatives))
}

// GetDerivative handles GET /assets/{id}/derivatives/{variant}
// and streams the rendition file itself.
func (h *Handler) GetDerivative(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}
	variant := chi.URLParam(r, "variant")

	userID := middleware.GetUserID(r.Context())

	if _, err := h.service.GetByID(r.Context(), id, userID); err != nil {
		switch err {
		case ErrAssetNotFound:
			response.NotFound(w, "Asset not found")
		case ErrNotOwner:
			response.Forbidden(w, "Not asset owner")
		default:
			response.InternalError(w)
		}
		return
	}

	key, err := h.service.DerivativePath(r.Context(), id, variant)
	if err != nil {
		if err == ErrDerivativeNotFound {
			response.NotFound(w, "Derivative not found")
		} else {
			response.InternalError(w)
		}
		return
	}

	path, err := h.store.PathFor(key)
	if err != nil {
		response.InternalError(w)
		return
	}

	http.ServeFile(w, r, path)
}

// Reprocess handles POST /assets/{id}/reprocess
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	a, err := h.service.Reprocess(r.Context(), id, userID)
	if err != nil {
		switch err {
		case ErrAssetNotFound:
			response.NotFound(w, "Asset not found")
		case ErrNotOwner:
			response.Forbidden(w, "Not asset owner")
		case ErrNotReprocessable:
			response.Conflict(w, "Asset is not in a reprocessable state")
		default:
			response.InternalError(w)
		}
		return
	}

	derivatives, err := h.service.ListDerivatives(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, NewDetailOut(a, derivatives))
}

// Routes returns asset routes
func (h *Handler) Routes(identity func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(identity)
	r.Get("/{id}", h.GetByID)
	r.Get("/{id}/derivatives/{variant}", h.GetDerivative)
	r.Post("/{id}/reprocess", h.Reprocess)
	return r
}
