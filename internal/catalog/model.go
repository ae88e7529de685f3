// Package catalog defines bookable services and their weekly availability.
package catalog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrInvalid  = errors.New("catalog: invalid configuration")
	ErrOverlap  = errors.New("catalog: availability block overlaps an existing block")
)

// Modality distinguishes virtual consultations from in-person ones.
type Modality string

const (
	ModalityVirtual  Modality = "virtual"
	ModalityInPerson Modality = "presencial"
)

// EventType is a bookable service configured by a professional.
type EventType struct {
	ID             uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID `json:"professionalId"`
	Name           string    `json:"name"`
	DurationMin    int       `json:"durationMin"`
	PriceCents     int64     `json:"priceCents"`
	Modality       Modality  `json:"modality"`
	BufferMin      int       `json:"bufferMin"`
	LeadTimeMin    int       `json:"leadTimeMin"`
	MaxPerDay      *int      `json:"maxPerDay,omitempty"`
	Active         bool      `json:"active"`
}

// Validate checks the numeric constraints on an event type.
func (e *EventType) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if e.DurationMin <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalid)
	}
	if e.PriceCents < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalid)
	}
	if e.BufferMin < 0 || e.LeadTimeMin < 0 {
		return fmt.Errorf("%w: buffer and lead time cannot be negative", ErrInvalid)
	}
	if e.MaxPerDay != nil && *e.MaxPerDay < 0 {
		return fmt.Errorf("%w: max per day cannot be negative", ErrInvalid)
	}
	switch e.Modality {
	case ModalityVirtual, ModalityInPerson:
	default:
		return fmt.Errorf("%w: unknown modality %q", ErrInvalid, e.Modality)
	}
	return nil
}

// SlotStepMin is the spacing between consecutive slot starts within a block.
func (e *EventType) SlotStepMin() int {
	return e.DurationMin + e.BufferMin
}

// AvailabilityBlock is a recurring weekly window for one event type.
// Times are minutes since local midnight; weekday 0 is Sunday.
type AvailabilityBlock struct {
	ID          uuid.UUID `json:"id"`
	EventTypeID uuid.UUID `json:"eventTypeId"`
	Weekday     int       `json:"weekday"`
	StartMin    int       `json:"startMin"`
	EndMin      int       `json:"endMin"`
}

// Validate checks block bounds.
func (b *AvailabilityBlock) Validate() error {
	if b.Weekday < 0 || b.Weekday > 6 {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalid, b.Weekday)
	}
	if b.StartMin < 0 || b.EndMin > 24*60 {
		return fmt.Errorf("%w: block outside the day", ErrInvalid)
	}
	if b.StartMin >= b.EndMin {
		return fmt.Errorf("%w: block start must precede end", ErrInvalid)
	}
	return nil
}

// Overlaps reports half-open interval overlap with another block on the same weekday.
func (b *AvailabilityBlock) Overlaps(other *AvailabilityBlock) bool {
	if b.Weekday != other.Weekday {
		return false
	}
	return b.StartMin < other.EndMin && b.EndMin > other.StartMin
}
