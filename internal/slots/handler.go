package slots

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/observability/metrics"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// Handler serves the public availability endpoint.
type Handler struct {
	engine  *Engine
	metrics *metrics.SlotMetrics
	logger  *logging.Logger
}

func NewHandler(engine *Engine, m *metrics.SlotMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, metrics: m, logger: logger}
}

type slotResponse struct {
	Start string `json:"start"`
	Label string `json:"label"`
}

type eventResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"durationMin"`
	PriceCents  int64  `json:"priceCents"`
	Modality    string `json:"modality"`
}

type slotsResponse struct {
	Slots   []slotResponse `json:"slots"`
	Event   *eventResponse `json:"event,omitempty"`
	Message string         `json:"mensaje,omitempty"`
}

// GetSlots handles GET /slots/{professionalSlug}?eventTypeId=...&date=YYYY-MM-DD.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	slug := chi.URLParam(r, "professionalSlug")
	q := r.URL.Query()

	eventTypeID, err := uuid.Parse(q.Get("eventTypeId"))
	if err != nil {
		h.observe("bad_request", 0, started)
		http.Error(w, "eventTypeId is required", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Compute(r.Context(), slug, eventTypeID, q.Get("date"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDate):
			h.observe("bad_request", 0, started)
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		case errors.Is(err, ErrPastDate):
			h.observe("bad_request", 0, started)
			http.Error(w, "date is in the past", http.StatusBadRequest)
		case errors.Is(err, ErrNotFound):
			h.observe("not_found", 0, started)
			http.Error(w, "not found", http.StatusNotFound)
		default:
			h.observe("error", 0, started)
			h.logger.Error("slot computation failed", "error", err, "slug", slug)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	resp := slotsResponse{Slots: make([]slotResponse, 0, len(result.Slots)), Message: result.Message}
	for _, s := range result.Slots {
		resp.Slots = append(resp.Slots, slotResponse{
			Start: s.Start.Format(time.RFC3339),
			Label: s.Label,
		})
	}
	if result.Event != nil {
		resp.Event = &eventResponse{
			ID:          result.Event.ID.String(),
			Name:        result.Event.Name,
			DurationMin: result.Event.DurationMin,
			PriceCents:  result.Event.PriceCents,
			Modality:    string(result.Event.Modality),
		}
	}

	h.observe("ok", len(resp.Slots), started)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) observe(status string, slots int, started time.Time) {
	h.metrics.ObserveQuery(status, slots, time.Since(started).Seconds())
}
