package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeAdapter struct {
	freeBusyCalls int
	intervals     []Interval
	created       []EventInput
	deleted       []string
}

func (f *fakeAdapter) FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]Interval, error) {
	f.freeBusyCalls++
	return f.intervals, nil
}

func (f *fakeAdapter) CreateEvent(ctx context.Context, professionalID uuid.UUID, input EventInput) (*EventResult, error) {
	f.created = append(f.created, input)
	return &EventResult{EventID: "evt-1"}, nil
}

func (f *fakeAdapter) DeleteEvent(ctx context.Context, professionalID uuid.UUID, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

func newCacheUnderTest(t *testing.T, inner Adapter) Adapter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedAdapter(inner, client, time.Minute, nil)
}

func TestCachedFreeBusyHitsInnerOnce(t *testing.T) {
	busyStart := time.Date(2026, 9, 7, 14, 0, 0, 0, time.UTC)
	inner := &fakeAdapter{intervals: []Interval{{Start: busyStart, End: busyStart.Add(time.Hour)}}}
	cached := newCacheUnderTest(t, inner)

	profID := uuid.New()
	from := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)

	for i := 0; i < 3; i++ {
		intervals, err := cached.FreeBusy(context.Background(), profID, from, to)
		if err != nil {
			t.Fatalf("FreeBusy: %v", err)
		}
		if len(intervals) != 1 || !intervals[0].Start.Equal(busyStart) {
			t.Fatalf("unexpected intervals: %+v", intervals)
		}
	}
	if inner.freeBusyCalls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", inner.freeBusyCalls)
	}
}

func TestCreateEventInvalidatesCache(t *testing.T) {
	inner := &fakeAdapter{}
	cached := newCacheUnderTest(t, inner)

	profID := uuid.New()
	from := time.Now().UTC().Truncate(time.Second)
	to := from.Add(4 * time.Hour)

	if _, err := cached.FreeBusy(context.Background(), profID, from, to); err != nil {
		t.Fatalf("FreeBusy: %v", err)
	}
	if _, err := cached.CreateEvent(context.Background(), profID, EventInput{Title: "Consulta"}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if _, err := cached.FreeBusy(context.Background(), profID, from, to); err != nil {
		t.Fatalf("FreeBusy: %v", err)
	}
	if inner.freeBusyCalls != 2 {
		t.Fatalf("expected cache invalidation to force 2 upstream calls, got %d", inner.freeBusyCalls)
	}
}

func TestNilClientReturnsInner(t *testing.T) {
	inner := &fakeAdapter{}
	if got := NewCachedAdapter(inner, nil, time.Minute, nil); got != inner {
		t.Fatal("expected inner adapter when redis is absent")
	}
}
