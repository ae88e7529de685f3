// Package slots computes offerable appointment start times for one
// professional, event type and calendar day. It reconciles the stored weekly
// availability, existing reservations, daily caps, lead-time cutoffs and the
// live calendar's busy periods into a single ordered candidate list.
package slots

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/calendar"
	"github.com/turnia/turnia-platform/internal/catalog"
	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// Argentina does not observe daylight saving, so a fixed offset is safe and
// avoids every tz-database conversion pitfall.
var ArgentinaTZ = time.FixedZone("-03", -3*60*60)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var (
	ErrInvalidDate = errors.New("slots: invalid date")
	ErrPastDate    = errors.New("slots: date is in the past")
	ErrNotFound    = errors.New("slots: professional or event type not found")
)

const capacityMessage = "No quedan turnos disponibles para ese día"

// Slot is one offerable start time.
type Slot struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
}

// Result is the outcome of a slot query. Message is set when the day is
// exhausted for a reason worth telling the patient (daily cap reached).
type Result struct {
	Slots   []Slot
	Event   *catalog.EventType
	Message string
}

type professionalDirectory interface {
	GetBySlug(ctx context.Context, slug string) (*professionals.Professional, error)
}

type eventCatalog interface {
	GetEventType(ctx context.Context, id uuid.UUID) (*catalog.EventType, error)
	ListBlocks(ctx context.Context, eventTypeID uuid.UUID, weekday int) ([]catalog.AvailabilityBlock, error)
}

type bookingReader interface {
	CountActiveOnDay(ctx context.Context, eventTypeID uuid.UUID, dayStart, dayEnd time.Time) (int, error)
	ListActiveStarts(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]time.Time, error)
}

type busyProvider interface {
	FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]calendar.Interval, error)
}

// Engine derives bookable slots. All collaborators are read-only.
type Engine struct {
	directory professionalDirectory
	catalog   eventCatalog
	bookings  bookingReader
	busy      busyProvider
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine wires the engine. busy may be nil when no calendar integration
// is configured at all.
func NewEngine(directory professionalDirectory, cat eventCatalog, bookings bookingReader, busy busyProvider, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		directory: directory,
		catalog:   cat,
		bookings:  bookings,
		busy:      busy,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test use only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Compute returns the offerable slots for one local calendar day.
func (e *Engine) Compute(ctx context.Context, slug string, eventTypeID uuid.UUID, date string) (*Result, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	now := e.now().In(ArgentinaTZ)
	today := midnight(now)
	if day.Before(today) {
		return nil, ErrPastDate
	}

	prof, err := e.directory.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, professionals.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("slots: load professional: %w", err)
	}
	if !prof.Active {
		return nil, ErrNotFound
	}

	event, err := e.catalog.GetEventType(ctx, eventTypeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("slots: load event type: %w", err)
	}
	if !event.Active || event.ProfessionalID != prof.ID {
		return nil, ErrNotFound
	}

	result := &Result{Event: event}
	dayEnd := day.AddDate(0, 0, 1)

	// Daily cap applies before any expansion work.
	if event.MaxPerDay != nil {
		count, err := e.bookings.CountActiveOnDay(ctx, event.ID, day, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("slots: count day bookings: %w", err)
		}
		if count >= *event.MaxPerDay {
			result.Message = capacityMessage
			return result, nil
		}
	}

	blocks, err := e.catalog.ListBlocks(ctx, event.ID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("slots: load blocks: %w", err)
	}
	candidates := expandBlocks(blocks, event.DurationMin, event.SlotStepMin(), day)
	if len(candidates) == 0 {
		return result, nil
	}

	if day.Equal(today) {
		cutoff := now.Add(time.Duration(event.LeadTimeMin) * time.Minute)
		candidates = filterAfter(candidates, cutoff)
		if len(candidates) == 0 {
			return result, nil
		}
	}

	candidates, err = e.dropReserved(ctx, prof.ID, candidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	if prof.CalendarConnected() && e.busy != nil {
		candidates = e.dropBusy(ctx, prof.ID, candidates, event.DurationMin)
		if len(candidates) == 0 {
			return result, nil
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	for _, start := range candidates {
		result.Slots = append(result.Slots, Slot{
			Start: start,
			Label: start.In(ArgentinaTZ).Format("15:04"),
		})
	}
	return result, nil
}

// dropReserved removes candidates whose exact start matches a non-cancelled
// booking. This covers the window between booking creation and calendar
// materialization, when a reservation exists only in the database.
func (e *Engine) dropReserved(ctx context.Context, professionalID uuid.UUID, candidates []time.Time) ([]time.Time, error) {
	from, to := span(candidates)
	taken, err := e.bookings.ListActiveStarts(ctx, professionalID, from, to.Add(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("slots: list reservations: %w", err)
	}
	if len(taken) == 0 {
		return candidates, nil
	}
	reserved := make(map[int64]struct{}, len(taken))
	for _, t := range taken {
		reserved[t.Unix()] = struct{}{}
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := reserved[c.Unix()]; !ok {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// dropBusy removes candidates overlapping the external calendar's busy
// periods. A calendar failure degrades to local information only.
func (e *Engine) dropBusy(ctx context.Context, professionalID uuid.UUID, candidates []time.Time, durationMin int) []time.Time {
	from, to := span(candidates)
	busy, err := e.busy.FreeBusy(ctx, professionalID, from, to.Add(time.Duration(durationMin)*time.Minute))
	if err != nil {
		e.logger.Warn("freebusy lookup failed, offering local availability only",
			"professional_id", professionalID, "error", err)
		return candidates
	}
	if len(busy) == 0 {
		return candidates
	}
	duration := time.Duration(durationMin) * time.Minute
	kept := candidates[:0]
	for _, c := range candidates {
		end := c.Add(duration)
		blocked := false
		for _, b := range busy {
			if c.Before(b.End) && end.After(b.Start) {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, c)
		}
	}
	return kept
}

// expandBlocks emits slot starts per block, spaced stepMin apart, while the
// full duration still fits inside the block. The buffer is dead time between
// consecutive slots of the same block only; it is not applied after the last
// slot nor across blocks.
func expandBlocks(blocks []catalog.AvailabilityBlock, durationMin, stepMin int, day time.Time) []time.Time {
	var starts []time.Time
	seen := make(map[int]struct{})
	for _, b := range blocks {
		for m := b.StartMin; m+durationMin <= b.EndMin; m += stepMin {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			starts = append(starts, day.Add(time.Duration(m)*time.Minute))
		}
	}
	return starts
}

func filterAfter(candidates []time.Time, cutoff time.Time) []time.Time {
	kept := candidates[:0]
	for _, c := range candidates {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	return kept
}

func span(candidates []time.Time) (time.Time, time.Time) {
	min, max := candidates[0], candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(min) {
			min = c
		}
		if c.After(max) {
			max = c
		}
	}
	return min, max
}

// parseDate validates YYYY-MM-DD and anchors it at local midnight.
func parseDate(date string) (time.Time, error) {
	if !dateRe.MatchString(date) {
		return time.Time{}, ErrInvalidDate
	}
	t, err := time.ParseInLocation("2006-01-02", date, ArgentinaTZ)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, ArgentinaTZ)
}
