// Package calendar integrates a professional's external calendar: free/busy
// lookup for slot computation and event materialization for confirmed
// bookings.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("calendar: professional has no calendar connected")

// Interval is a [Start, End) busy period.
type Interval struct {
	Start time.Time
	End   time.Time
}

// EventInput describes the event to materialize for a confirmed booking.
type EventInput struct {
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeName  string
	AttendeeEmail string
	AttendeePhone string
	Virtual       bool
	Notes         string
}

// EventResult is returned after creating an event.
type EventResult struct {
	EventID     string
	MeetingLink string
	HTMLLink    string
}

// Adapter is the calendar collaborator. The adapter owns token refresh;
// callers pass only a professional identifier.
type Adapter interface {
	FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]Interval, error)
	CreateEvent(ctx context.Context, professionalID uuid.UUID, input EventInput) (*EventResult, error)
	DeleteEvent(ctx context.Context, professionalID uuid.UUID, eventID string) error
}
