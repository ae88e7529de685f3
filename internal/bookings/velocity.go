package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turnia/turnia-platform/pkg/logging"
)

// VelocityLimiter caps how many bookings a patient can open inside a sliding
// window, keyed by email. Redis outages fail open: availability beats fraud
// protection for a booking flow.
type VelocityLimiter struct {
	redis  *redis.Client
	logger *logging.Logger

	maxAttempts int
	window      time.Duration
}

// NewVelocityLimiter creates a limiter. maxAttempts <= 0 disables limiting.
func NewVelocityLimiter(redisClient *redis.Client, maxAttempts int, window time.Duration, logger *logging.Logger) *VelocityLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityLimiter{
		redis:       redisClient,
		logger:      logger,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow increments the attempt counter for key and reports whether the
// attempt is within the limit.
func (v *VelocityLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if v.maxAttempts <= 0 || v.redis == nil {
		return true, nil
	}

	redisKey := fmt.Sprintf("velocity:booking:%s", key)
	count, err := v.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("bookings: velocity check: %w", err)
	}
	if count == 1 {
		if err := v.redis.Expire(ctx, redisKey, v.window).Err(); err != nil {
			// Without a TTL the counter would limit this patient forever.
			// Drop it and fail open.
			v.logger.Error("velocity expire failed", "key", key, "error", err)
			v.redis.Del(ctx, redisKey)
			return true, fmt.Errorf("bookings: velocity expire: %w", err)
		}
	} else if ttl, err := v.redis.TTL(ctx, redisKey).Result(); err == nil && ttl < 0 {
		// A counter that survived a lost Expire call. Repair it.
		v.redis.Expire(ctx, redisKey, v.window)
	}

	if int(count) > v.maxAttempts {
		v.logger.Warn("booking velocity exceeded",
			"key", key, "count", count, "max", v.maxAttempts)
		return false, nil
	}
	return true, nil
}

// Reset clears the attempt counter for key.
func (v *VelocityLimiter) Reset(ctx context.Context, key string) error {
	if v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, fmt.Sprintf("velocity:booking:%s", key)).Err()
}
