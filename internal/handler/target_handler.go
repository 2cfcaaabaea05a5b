// Package handler provides HTTP handlers for the recon API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/pkg/response"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/service"
)

// TargetHandler handles target and recon-graph requests.
type TargetHandler struct {
	targets  service.TargetService
	findings repository.FindingRepository
	validate *validator.Validate
}

// NewTargetHandler creates a new target handler.
func NewTargetHandler(targets service.TargetService, findings repository.FindingRepository) *TargetHandler {
	return &TargetHandler{
		targets:  targets,
		findings: findings,
		validate: validator.New(),
	}
}

// Routes returns a chi router with target routes.
func (h *TargetHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/graph", h.Graph)
	r.Get("/{id}/findings", h.Findings)
	return r
}

// Create handles POST /api/targets
func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	target, err := h.targets.Create(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, target)
}

// Get handles GET /api/targets/{id}
func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, target)
}

// List handles GET /api/targets
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	targets, err := h.targets.List(r.Context(), limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, targets, &response.Meta{Total: int64(len(targets)), Limit: limit})
}

// Graph handles GET /api/targets/{id}/graph
func (h *TargetHandler) Graph(w http.ResponseWriter, r *http.Request) {
	status := models.ArtifactStatus(r.URL.Query().Get("status"))
	graph, err := h.targets.Graph(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, graph)
}

// Findings handles GET /api/targets/{id}/findings
func (h *TargetHandler) Findings(w http.ResponseWriter, r *http.Request) {
	// Ensure the target exists so a typo'd id reads as 404, not empty.
	if _, err := h.targets.Get(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	findings, err := h.findings.List(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("severity"), queryInt(r, "limit", 100))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, findings)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
