package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/util"
)

const ipRateLimitPrefix = "ip_rate_limit:"

// RateLimitCache implements windowed counters keyed by source address. The
// window is anchored at the first request: later requests within it never
// extend the reset.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// IncrementIPCounter counts requests from a source address for an operation
// within the current window.
func (c *RateLimitCache) IncrementIPCounter(sourceAddr, operation string, window time.Duration) (int, error) {
	key := fmt.Sprintf("%s%s:%s", ipRateLimitPrefix, operation, sourceAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int64("count", count))
	return int(count), nil
}
