package bookings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// Handler serves the patient-facing booking endpoints and the
// professional's magic-link actions.
type Handler struct {
	service *Service
	signer  *ActionSigner
	logger  *logging.Logger
}

func NewHandler(service *Service, signer *ActionSigner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, signer: signer, logger: logger}
}

type createBookingRequest struct {
	ProfessionalSlug string `json:"professionalSlug"`
	EventTypeID      string `json:"eventTypeId"`
	PatientName      string `json:"patientName"`
	PatientEmail     string `json:"patientEmail"`
	PatientPhone     string `json:"patientPhone,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Start            string `json:"startTime"`
}

type transferDetailsResponse struct {
	Alias  string `json:"alias,omitempty"`
	CBU    string `json:"cbu,omitempty"`
	Holder string `json:"holder,omitempty"`
}

type createBookingResponse struct {
	BookingID     string                   `json:"bookingId"`
	State         string                   `json:"state"`
	PaymentMethod string                   `json:"paymentMethod"`
	AmountCents   int64                    `json:"amountCents"`
	PreferenceID  string                   `json:"preferenceId,omitempty"`
	InitPoint     string                   `json:"initPoint,omitempty"`
	Transfer      *transferDetailsResponse `json:"transfer,omitempty"`
}

// CreateBooking handles POST /bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	eventTypeID, err := uuid.Parse(req.EventTypeID)
	if err != nil {
		http.Error(w, "invalid eventTypeId", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		http.Error(w, "start must be RFC 3339", http.StatusBadRequest)
		return
	}

	result, err := h.service.Create(r.Context(), &CreateRequest{
		ProfessionalSlug: req.ProfessionalSlug,
		EventTypeID:      eventTypeID,
		PatientName:      req.PatientName,
		PatientEmail:     req.PatientEmail,
		PatientPhone:     req.PatientPhone,
		Notes:            req.Notes,
		Start:            start,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := createBookingResponse{
		BookingID:     result.Booking.ID.String(),
		State:         string(result.Booking.State),
		PaymentMethod: string(result.Booking.PaymentMethod),
		AmountCents:   result.Booking.AmountCents,
		PreferenceID:  result.PreferenceID,
		InitPoint:     result.InitPoint,
	}
	if result.Transfer != nil {
		resp.Transfer = &transferDetailsResponse{
			Alias:  result.Transfer.Alias,
			CBU:    result.Transfer.CBU,
			Holder: result.Transfer.Holder,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

type statusResponse struct {
	State       string `json:"state"`
	MeetingLink string `json:"meetingLink,omitempty"`
}

// Status handles GET /bookings/{bookingID}/status, used by the payment
// return page to poll for confirmation.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	booking, err := h.service.Get(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := statusResponse{State: string(booking.State)}
	if booking.State == StateConfirmed {
		resp.MeetingLink = booking.MeetingLink
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type transferProofRequest struct {
	ProofURL string `json:"proofUrl"`
}

// AttachTransferProof handles POST /bookings/{bookingID}/transfer-proof.
func (h *Handler) AttachTransferProof(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req transferProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.service.AttachTransferProof(r.Context(), bookingID, req.ProofURL); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAction handles GET /booking-actions, the target of the magic links
// sent to the professional. Responds with a minimal HTML page because the
// link opens in a browser, not an API client.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bookingID, err := uuid.Parse(q.Get("bookingId"))
	if err != nil {
		h.writeActionPage(w, http.StatusBadRequest, "El enlace es inválido.")
		return
	}
	action := q.Get("action")
	if action != "confirm" && action != "reject" {
		h.writeActionPage(w, http.StatusBadRequest, "El enlace es inválido.")
		return
	}
	if !h.signer.Verify(bookingID, action, q.Get("token")) {
		h.writeActionPage(w, http.StatusForbidden, "El enlace es inválido o expiró.")
		return
	}

	var result *ActionResult
	if action == "confirm" {
		result, err = h.service.Confirm(r.Context(), bookingID)
	} else {
		result, err = h.service.Reject(r.Context(), bookingID)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeActionPage(w, http.StatusNotFound, "No encontramos esa reserva.")
		case errors.Is(err, ErrInvalidTransition):
			h.writeActionPage(w, http.StatusConflict, "La reserva todavía no está paga.")
		default:
			h.logger.Error("booking action failed", "error", err, "booking_id", bookingID, "action", action)
			h.writeActionPage(w, http.StatusInternalServerError, "No pudimos procesar la acción. Intentá de nuevo.")
		}
		return
	}

	switch {
	case result.AlreadyFinal && result.State == StateConfirmed:
		h.writeActionPage(w, http.StatusOK, "La reserva ya estaba confirmada.")
	case result.AlreadyFinal && result.State == StateCancelled:
		h.writeActionPage(w, http.StatusOK, "La reserva ya estaba cancelada.")
	case result.State == StateConfirmed:
		h.writeActionPage(w, http.StatusOK, "Turno confirmado. Le avisamos al paciente por email.")
	default:
		h.writeActionPage(w, http.StatusOK, "Turno rechazado. Le avisamos al paciente por email.")
	}
}

func (h *Handler) writeActionPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html><html lang="es"><head><meta charset="utf-8"><title>Turnia</title></head><body><p>%s</p></body></html>`, message)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound), errors.Is(err, professionals.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, "ese horario acaba de ser reservado", http.StatusConflict)
	case errors.Is(err, ErrRateLimited):
		http.Error(w, "demasiados intentos de reserva", http.StatusTooManyRequests)
	case errors.Is(err, ErrUpstream):
		http.Error(w, "el proveedor de pagos no está disponible", http.StatusBadGateway)
	default:
		h.logger.Error("booking request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
