package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/pkg/response"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/service"
)

// PipelineHandler handles run and job requests.
type PipelineHandler struct {
	pipeline service.PipelineService
	runs     repository.RunRepository
	jobs     repository.JobRepository
	scans    repository.ScanRepository
	validate *validator.Validate
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(pipeline service.PipelineService, runs repository.RunRepository, jobs repository.JobRepository, scans repository.ScanRepository) *PipelineHandler {
	return &PipelineHandler{
		pipeline: pipeline,
		runs:     runs,
		jobs:     jobs,
		scans:    scans,
		validate: validator.New(),
	}
}

// Routes returns a chi router for pipeline, run and job routes, mounted
// at the API root.
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/pipeline/run", h.Trigger)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/runs/{id}/scans", h.ListRunScans)
	r.Post("/runs/{id}/discard", h.DiscardRun)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Post("/jobs/{id}/cancel", h.CancelJob)
	return r
}

// Trigger handles POST /api/pipeline/run
func (h *PipelineHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req service.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage(err.Error()))
		return
	}
	req.Actor = "api"

	res, err := h.pipeline.Trigger(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Accepted(w, res)
}

// ListRuns handles GET /api/runs
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("target_id"), queryInt(r, "limit", 50))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, runs)
}

// GetRun handles GET /api/runs/{id}
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	if run == nil {
		response.NotFound(w, "Run")
		return
	}
	response.OK(w, run)
}

// ListRunScans handles GET /api/runs/{id}/scans
func (h *PipelineHandler) ListRunScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.scans.List(r.Context(), "", chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, scans)
}

// DiscardRun handles POST /api/runs/{id}/discard
func (h *PipelineHandler) DiscardRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.pipeline.DiscardRun(r.Context(), chi.URLParam(r, "id"), "api")
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, run)
}

// ListJobs handles GET /api/jobs
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context(),
		r.URL.Query().Get("target_id"),
		models.JobStatus(r.URL.Query().Get("status")),
		queryInt(r, "limit", 100))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, jobs)
}

// GetJob handles GET /api/jobs/{id}
func (h *PipelineHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	if job == nil {
		response.NotFound(w, "Job")
		return
	}
	response.OK(w, job)
}

// CancelJobRequest is the optional body for job cancellation.
type CancelJobRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=2000"`
}

// CancelJob handles POST /api/jobs/{id}/cancel
func (h *PipelineHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req CancelJobRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
			return
		}
	}

	job, err := h.pipeline.CancelJob(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, job)
}
