package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turnia/turnia-platform/pkg/logging"
)

// CachedAdapter memoizes FreeBusy responses for a short TTL. Slot queries for
// a popular professional otherwise hit the calendar API once per page load;
// bounded staleness is acceptable because the local reservation filter still
// applies. Writes are never cached and invalidate the professional's entries.
type CachedAdapter struct {
	inner  Adapter
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedAdapter wraps an adapter with a redis cache. A nil client returns
// the inner adapter unchanged.
func NewCachedAdapter(inner Adapter, client *redis.Client, ttl time.Duration, logger *logging.Logger) Adapter {
	if client == nil {
		return inner
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedAdapter{inner: inner, client: client, ttl: ttl, logger: logger}
}

func freeBusyKey(professionalID uuid.UUID, timeMin, timeMax time.Time) string {
	return fmt.Sprintf("freebusy:%s:%d:%d", professionalID, timeMin.Unix(), timeMax.Unix())
}

func (c *CachedAdapter) FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]Interval, error) {
	key := freeBusyKey(professionalID, timeMin, timeMax)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached []Interval
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	intervals, err := c.inner.FreeBusy(ctx, professionalID, timeMin, timeMax)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(intervals); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("freebusy cache write failed", "error", err)
		}
	}
	return intervals, nil
}

func (c *CachedAdapter) CreateEvent(ctx context.Context, professionalID uuid.UUID, input EventInput) (*EventResult, error) {
	result, err := c.inner.CreateEvent(ctx, professionalID, input)
	if err == nil {
		c.invalidate(ctx, professionalID)
	}
	return result, err
}

func (c *CachedAdapter) DeleteEvent(ctx context.Context, professionalID uuid.UUID, eventID string) error {
	err := c.inner.DeleteEvent(ctx, professionalID, eventID)
	if err == nil {
		c.invalidate(ctx, professionalID)
	}
	return err
}

func (c *CachedAdapter) invalidate(ctx context.Context, professionalID uuid.UUID) {
	pattern := fmt.Sprintf("freebusy:%s:*", professionalID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("freebusy cache invalidation failed", "error", err)
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("freebusy cache scan failed", "error", err)
	}
}

var _ Adapter = (*CachedAdapter)(nil)
