package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/util"
)

const (
	loginAttemptPrefix = "login_attempts:"
	accountLockPrefix  = "account_lock:"
)

// LockoutCache tracks consecutive login failures and account locks. The
// failure counter and the lock share the lockout window; a successful login
// clears the counter, an admin unlock clears both.
type LockoutCache struct {
	client *client.RedisClient
}

func NewLockoutCache(client *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: client}
}

// IncrementFailures bumps the consecutive-failure counter. The window is
// anchored at the first failure; the count decays on its own once it passes.
func (c *LockoutCache) IncrementFailures(username string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginAttemptPrefix + username

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment login failures",
			zap.String("username", username),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment login failures: %w", err)
	}

	util.Debug("Login failure recorded",
		zap.String("username", username),
		zap.Int64("count", count))
	return int(count), nil
}

func (c *LockoutCache) GetFailureCount(username string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginAttemptPrefix + username

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if strings.HasPrefix(err.Error(), "key not found") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get login failure count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid failure count format: %w", err)
	}

	return count, nil
}

// ResetFailures clears the counter after a successful authentication.
func (c *LockoutCache) ResetFailures(username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginAttemptPrefix+username); err != nil {
		util.Error("Failed to reset login failures",
			zap.String("username", username),
			zap.Error(err))
		return fmt.Errorf("failed to reset login failures: %w", err)
	}

	util.Debug("Login failures reset", zap.String("username", username))
	return nil
}

// LockAccount sets the lock marker. The lock expires on its own after the
// configured duration.
func (c *LockoutCache) LockAccount(username string, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := accountLockPrefix + username
	if err := c.client.Set(ctx, key, "locked", duration); err != nil {
		util.Error("Failed to lock account",
			zap.String("username", username),
			zap.Duration("duration", duration),
			zap.Error(err))
		return fmt.Errorf("failed to lock account: %w", err)
	}

	util.Warn("Account locked",
		zap.String("username", username),
		zap.Duration("duration", duration))
	return nil
}

func (c *LockoutCache) IsLocked(username string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := c.client.Exists(ctx, accountLockPrefix+username)
	if err != nil {
		util.Error("Failed to check account lock",
			zap.String("username", username),
			zap.Error(err))
		return false, fmt.Errorf("failed to check account lock: %w", err)
	}

	return locked, nil
}

// GetLockTTL returns how long the lock has left, 0 when not locked.
func (c *LockoutCache) GetLockTTL(username string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, accountLockPrefix+username)
	if err != nil {
		return 0, fmt.Errorf("failed to get account lock TTL: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Unlock removes the lock and the failure counter. Used by the admin unlock
// operation.
func (c *LockoutCache) Unlock(username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys := []string{
		accountLockPrefix + username,
		loginAttemptPrefix + username,
	}

	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to unlock account",
			zap.String("username", username),
			zap.Error(err))
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	util.Info("Account unlocked", zap.String("username", username))
	return nil
}
