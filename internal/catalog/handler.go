package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/http/middleware"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// Handler serves the professional's self-service catalog endpoints. All
// routes require the professional JWT; ownership is taken from the token,
// never from the payload.
type Handler struct {
	repo   *Repository
	logger *logging.Logger
}

func NewHandler(repo *Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

type eventTypeRequest struct {
	Name        string `json:"name"`
	DurationMin int    `json:"durationMin"`
	PriceCents  int64  `json:"priceCents"`
	Modality    string `json:"modality"`
	BufferMin   int    `json:"bufferMin"`
	LeadTimeMin int    `json:"leadTimeMin"`
	MaxPerDay   *int   `json:"maxPerDay,omitempty"`
}

// CreateEventType handles POST /me/event-types.
func (h *Handler) CreateEventType(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req eventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	event := &EventType{
		ProfessionalID: professionalID,
		Name:           req.Name,
		DurationMin:    req.DurationMin,
		PriceCents:     req.PriceCents,
		Modality:       Modality(req.Modality),
		BufferMin:      req.BufferMin,
		LeadTimeMin:    req.LeadTimeMin,
		MaxPerDay:      req.MaxPerDay,
		Active:         true,
	}
	if err := h.repo.CreateEventType(r.Context(), event); err != nil {
		if errors.Is(err, ErrInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("event type creation failed", "error", err, "professional_id", professionalID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(event)
}

// ListEventTypes handles GET /me/event-types.
func (h *Handler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	events, err := h.repo.ListEventTypes(r.Context(), professionalID)
	if err != nil {
		h.logger.Error("event type listing failed", "error", err, "professional_id", professionalID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []EventType{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

type blockRequest struct {
	EventTypeID string `json:"eventTypeId"`
	Weekday     int    `json:"weekday"`
	StartMin    int    `json:"startMin"`
	EndMin      int    `json:"endMin"`
}

// CreateBlock handles POST /me/availability-blocks.
func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	eventTypeID, err := uuid.Parse(req.EventTypeID)
	if err != nil {
		http.Error(w, "invalid eventTypeId", http.StatusBadRequest)
		return
	}

	// The event type must belong to the authenticated professional.
	event, err := h.repo.GetEventType(r.Context(), eventTypeID)
	if err != nil || event.ProfessionalID != professionalID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	block := &AvailabilityBlock{
		EventTypeID: eventTypeID,
		Weekday:     req.Weekday,
		StartMin:    req.StartMin,
		EndMin:      req.EndMin,
	}
	if err := h.repo.CreateBlock(r.Context(), professionalID, block); err != nil {
		switch {
		case errors.Is(err, ErrInvalid):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrOverlap):
			http.Error(w, "block overlaps an existing one", http.StatusConflict)
		default:
			h.logger.Error("block creation failed", "error", err, "professional_id", professionalID)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(block)
}

// DeleteBlock handles DELETE /me/availability-blocks/{blockID}.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	blockID, err := uuid.Parse(chi.URLParam(r, "blockID"))
	if err != nil {
		http.Error(w, "invalid block id", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteBlock(r.Context(), blockID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("block deletion failed", "error", err, "professional_id", professionalID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
