package project

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/middleware"
	"github.com/arciva/arciva-backend/internal/pkg/response"
	"github.com/arciva/arciva-backend/internal/pkg/validator"
)

// Handler handles project HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates project handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /projects
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())

	p, err := h.service.CreateProject(r.Context(), userID, req.Title, req.Client, req.Note)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.Created(w, NewProjectOut(p, 0))
}

// List handles GET /projects
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	projects, err := h.service.ListProjects(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*ProjectOut, 0, len(projects))
	for _, p := range projects {
		count, err := h.service.CountAssets(r.Context(), p.ID)
		if err != nil {
			response.InternalError(w)
			return
		}
		items = append(items, NewProjectOut(p, count))
	}

	response.OK(w, items)
}

// GetByID handles GET /projects/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	p, err := h.service.GetProject(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	count, err := h.service.CountAssets(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, NewProjectOut(p, count))
}

// Update handles PATCH /projects/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	var req UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())

	p, err := h.service.UpdateProject(r.Context(), id, userID, req.Title, req.Client, req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	count, err := h.service.CountAssets(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, NewProjectOut(p, count))
}

// Delete handles DELETE /projects/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	if err := h.service.DeleteProject(r.Context(), id, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// ListAssets handles GET /projects/{id}/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	rows, err := h.service.ListAssets(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]*LinkedAssetOut, 0, len(rows))
	for _, row := range rows {
		state, err := h.service.EnsureState(r.Context(), &row.Link, nil, nil)
		if err != nil {
			response.InternalError(w)
			return
		}
		items = append(items, NewLinkedAssetOut(row, state))
	}

	response.OK(w, items)
}

// LinkAsset handles POST /projects/{id}/assets
func (h *Handler) LinkAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	var req LinkRequest
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

	userID := middleware.GetUserID(r.Context())

	link, err := h.service.LinkAsset(r.Context(), id, assetID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	response.Created(w, map[string]interface{}{
		"link_id":  link.ID,
		"asset_id": link.AssetID,
	})
}

// UnlinkAsset handles DELETE /projects/{id}/assets/{assetID}
func (h *Handler) UnlinkAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	if err := h.service.Unlink(r.Context(), id, assetID, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// UpdateState handles PATCH /projects/{id}/assets/{assetID}/state
func (h *Handler) UpdateState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		response.BadRequest(w, "Invalid asset ID")
		return
	}

	var req StateUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())

	state, err := h.service.UpdateState(r.Context(), id, assetID, userID, StateUpdate{
		Rating:     req.Rating,
		ColorLabel: req.ColorLabel,
		Picked:     req.Picked,
		Rejected:   req.Rejected,
		Edits:      req.Edits,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	response.OK(w, NewStateOut(state))
}

// ListPairs handles GET /projects/{id}/pairs
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid project ID")
		return
	}

	userID := middleware.GetUserID(r.Context())

	pairs, err := h.service.ListPairs(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]*PairOut, 0, len(pairs))
	for _, p := range pairs {
		items = append(items, NewPairOut(p))
	}

	response.OK(w, items)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case ErrProjectNotFound:
		response.NotFound(w, "Project not found")
	case ErrNotOwner:
		response.Forbidden(w, "Not project owner")
	case ErrLinkNotFound:
		response.NotFound(w, "Asset is not linked to this project")
	default:
		response.InternalError(w)
	}
}

// Routes returns project routes. uploadInit handles the upload
// initialization living under a project.
func (h *Handler) Routes(identity func(http.Handler) http.Handler, uploadInit http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(identity)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/assets", h.ListAssets)
	r.Post("/{id}/assets", h.LinkAsset)
	r.Delete("/{id}/assets/{assetID}", h.UnlinkAsset)
	r.Patch("/{id}/assets/{assetID}/state", h.UpdateState)
	r.Get("/{id}/pairs", h.ListPairs)
	r.Post("/{id}/uploads/init", uploadInit)
	return r
}
