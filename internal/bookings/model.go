// Package bookings manages the reservation lifecycle: creation, payment,
// professional confirmation and calendar-event materialization.
package bookings

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/professionals"
)

var (
	ErrNotFound          = errors.New("bookings: not found")
	ErrConflict          = errors.New("bookings: slot already taken")
	ErrInvalidTransition = errors.New("bookings: transition not allowed from current state")
	ErrValidation        = errors.New("bookings: invalid request")
)

// State is the lifecycle position of a booking. Bookings are never deleted,
// only moved to a terminal state.
type State string

const (
	StatePendingPayment State = "pending_payment"
	StatePaid           State = "paid"
	StateConfirmed      State = "confirmed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// CanTransition reports whether moving to next is legal.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatePendingPayment:
		return next == StatePaid || next == StateConfirmed || next == StateCancelled
	case StatePaid:
		return next == StateConfirmed || next == StateCancelled
	}
	return false
}

// Booking is one reservation instance.
type Booking struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID

	// EventTypeID becomes nil if the event type is later deleted; the
	// denormalized fields below keep the booking self-describing.
	EventTypeID *uuid.UUID
	EventName   string
	DurationMin int
	Virtual     bool

	PatientName  string
	PatientEmail string
	PatientPhone string
	Notes        string

	Start       time.Time
	AmountCents int64

	// PaymentMethod is a snapshot of the professional's method at creation.
	PaymentMethod professionals.PaymentMethod

	CalendarEventID  string
	MeetingLink      string
	TransferProofURL string
	MPPaymentID      string

	State       State
	CreatedAt   time.Time
	PaidAt      *time.Time
	ConfirmedAt *time.Time
}

// End is the exclusive end of the reserved interval.
func (b *Booking) End() time.Time {
	return b.Start.Add(time.Duration(b.DurationMin) * time.Minute)
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CreateRequest is the patient-facing booking creation payload.
type CreateRequest struct {
	ProfessionalSlug string    `json:"professionalSlug"`
	EventTypeID      uuid.UUID `json:"eventTypeId"`
	Start            time.Time `json:"startTime"`
	PatientName      string    `json:"patientName"`
	PatientEmail     string    `json:"patientEmail"`
	PatientPhone     string    `json:"patientPhone,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

// Validate checks the request's own fields; referential checks happen in
// the service.
func (r *CreateRequest) Validate(now time.Time) error {
	if strings.TrimSpace(r.ProfessionalSlug) == "" {
		return fmt.Errorf("%w: professional slug required", ErrValidation)
	}
	if r.EventTypeID == uuid.Nil {
		return fmt.Errorf("%w: event type required", ErrValidation)
	}
	if strings.TrimSpace(r.PatientName) == "" {
		return fmt.Errorf("%w: patient name required", ErrValidation)
	}
	if !emailRe.MatchString(r.PatientEmail) {
		return fmt.Errorf("%w: patient email is malformed", ErrValidation)
	}
	if !r.Start.After(now) {
		return fmt.Errorf("%w: start time must be in the future", ErrValidation)
	}
	return nil
}
