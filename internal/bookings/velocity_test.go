package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, max int) (*VelocityLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVelocityLimiter(client, max, time.Hour, nil), mr
}

func TestVelocityLimiterAllowsUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "juan@example.com")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	ok, err := limiter.Allow(ctx, "juan@example.com")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("fourth attempt should be blocked")
	}
}

func TestVelocityLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	if ok, _ := limiter.Allow(ctx, "juan@example.com"); !ok {
		t.Fatal("first attempt should be allowed")
	}
	if ok, _ := limiter.Allow(ctx, "ana@example.com"); !ok {
		t.Fatal("other patients must not be affected")
	}
}

func TestVelocityLimiterWindowExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	ctx := context.Background()

	limiter.Allow(ctx, "juan@example.com")
	if ok, _ := limiter.Allow(ctx, "juan@example.com"); ok {
		t.Fatal("second attempt inside the window should be blocked")
	}

	mr.FastForward(2 * time.Hour)
	if ok, _ := limiter.Allow(ctx, "juan@example.com"); !ok {
		t.Fatal("attempt after window expiry should be allowed")
	}
}

func TestVelocityLimiterDisabled(t *testing.T) {
	limiter := NewVelocityLimiter(nil, 0, time.Hour, nil)
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(context.Background(), "juan@example.com")
		if err != nil || !ok {
			t.Fatalf("disabled limiter must always allow: %v %v", ok, err)
		}
	}
}

// A counter that lost its TTL (an Expire call that never landed) would
// rate-limit the patient forever. Allow repairs it on the next attempt.
func TestVelocityLimiterRepairsMissingTTL(t *testing.T) {
	limiter, mr := newTestLimiter(t, 5)
	ctx := context.Background()

	mr.Set("velocity:booking:juan@example.com", "2")
	if mr.TTL("velocity:booking:juan@example.com") != 0 {
		t.Fatal("test setup: key must start without TTL")
	}

	ok, err := limiter.Allow(ctx, "juan@example.com")
	if err != nil || !ok {
		t.Fatalf("Allow: %v %v", ok, err)
	}
	if mr.TTL("velocity:booking:juan@example.com") <= 0 {
		t.Fatal("expected TTL to be restored on the persisted counter")
	}
}

func TestVelocityLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewVelocityLimiter(client, 1, time.Hour, nil)
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "juan@example.com")
	if err == nil {
		t.Fatal("expected error from closed redis")
	}
	if !ok {
		t.Fatal("redis failure must fail open")
	}
}
