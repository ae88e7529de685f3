package professionals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/catalog"
	"github.com/turnia/turnia-platform/pkg/logging"
)

type eventLister interface {
	ListEventTypes(ctx context.Context, professionalID uuid.UUID) ([]catalog.EventType, error)
}

// Handler serves the public booking-page profile.
type Handler struct {
	repo   *Repository
	events eventLister
	logger *logging.Logger
}

func NewHandler(repo *Repository, events eventLister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, events: events, logger: logger}
}

type profileEventType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"durationMin"`
	PriceCents  int64  `json:"priceCents"`
	Modality    string `json:"modality"`
}

type profileResponse struct {
	Slug          string             `json:"slug"`
	Name          string             `json:"name"`
	PaymentMethod string             `json:"paymentMethod"`
	EventTypes    []profileEventType `json:"eventTypes"`
}

// GetProfile handles GET /professionals/{professionalSlug}: the public data
// a patient needs to pick an event type and start the slot search.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "professionalSlug")
	prof, err := h.repo.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("profile lookup failed", "error", err, "slug", slug)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !prof.Active {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	events, err := h.events.ListEventTypes(r.Context(), prof.ID)
	if err != nil {
		h.logger.Error("event type listing failed", "error", err, "slug", slug)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := profileResponse{
		Slug:          prof.Slug,
		Name:          prof.Name,
		PaymentMethod: string(prof.PaymentMethod),
		EventTypes:    make([]profileEventType, 0, len(events)),
	}
	for _, e := range events {
		resp.EventTypes = append(resp.EventTypes, profileEventType{
			ID:          e.ID.String(),
			Name:        e.Name,
			DurationMin: e.DurationMin,
			PriceCents:  e.PriceCents,
			Modality:    string(e.Modality),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
