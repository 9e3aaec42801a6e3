package service

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/config"
)

// Shared fixtures for the service tests. Redis-backed caches run against
// miniredis; Kafka and Elasticsearch stay nil so event emission is log-only.

func newServiceRedis(t *testing.T) (*miniredis.Miniredis, *client.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return mr, client.NewRedisClientFromExisting(rdb, &config.RedisConfig{})
}

func serviceTestConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{
			UserBuckets:  256,
			EventBuckets: 64,
		},
		OTP: config.OTPConfig{
			Length:      6,
			Expiry:      5 * time.Minute,
			MaxAttempts: 3,
		},
		Lockout: config.LockoutConfig{
			Threshold: 5,
			Window:    30 * time.Minute,
			Duration:  30 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			LoginLimit:      10,
			LoginWindow:     15 * time.Minute,
			BiometricLimit:  15,
			BiometricWindow: 15 * time.Minute,
		},
		Token: config.TokenConfig{
			Secret:     "test-secret",
			Issuer:     "waste-auth-service",
			AccessTTL:  time.Hour,
			RefreshTTL: 720 * time.Hour,
		},
		Biometric: config.BiometricConfig{
			ChallengeTTL:      5 * time.Minute,
			MaxFailedAttempts: 5,
			MaxDevicesPerUser: 5,
		},
		Notify: config.NotifyConfig{
			QueueSize:  16,
			Workers:    1,
			MaxRetries: 0,
			RetryBase:  time.Millisecond,
		},
	}
}

func testEmitter() *SecurityEventEmitter {
	return NewSecurityEventEmitter(nil, nil, nil)
}
