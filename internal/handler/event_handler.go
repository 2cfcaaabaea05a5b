package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Good-Security/shadowpulse/internal/pkg/response"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

// EventHandler serves the run-event change feed.
type EventHandler struct {
	events repository.EventRepository
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events repository.EventRepository) *EventHandler {
	return &EventHandler{events: events}
}

// Routes returns a chi router with event routes.
func (h *EventHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /api/changes
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context(),
		r.URL.Query().Get("target_id"),
		r.URL.Query().Get("run_id"),
		queryInt(r, "limit", 100))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, events)
}
