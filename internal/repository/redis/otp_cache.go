package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/util"
)

const (
	otpPrefix        = "otp:"
	otpAttemptPrefix = "otp_attempts:"
	otpLockPrefix    = "otp_lock:"
)

// OTPCache keeps pending OTP records and their attempt counters. Records
// expire with their TTL; failed attempts never extend the original window.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

func otpKey(channel, purpose, identifier string) string {
	return otpPrefix + channel + ":" + purpose + ":" + identifier
}

// SetRecord stores the hashed OTP record, replacing any pending one for the
// same channel/purpose/identifier. The previous attempt counter is cleared so
// a fresh code starts with a fresh budget.
func (c *OTPCache) SetRecord(channel, purpose, identifier string, record *models.OTPRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	key := otpKey(channel, purpose, identifier)
	if err := c.client.Set(ctx, key, string(payload), ttl); err != nil {
		util.Error("Failed to set OTP record in cache",
			zap.String("channel", channel),
			zap.String("purpose", purpose),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set OTP record in cache: %w", err)
	}

	if err := c.client.Del(ctx, otpAttemptPrefix+channel+":"+purpose+":"+identifier); err != nil {
		util.Warn("Failed to reset OTP attempt counter",
			zap.String("channel", channel),
			zap.Error(err))
	}

	util.Debug("OTP record cached",
		zap.String("channel", channel),
		zap.String("purpose", purpose),
		zap.Duration("ttl", ttl))
	return nil
}

// GetRecord returns the pending record, or (nil, nil) when none exists.
func (c *OTPCache) GetRecord(channel, purpose, identifier string) (*models.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := otpKey(channel, purpose, identifier)

	payload, err := c.client.Get(ctx, key)
	if err != nil {
		if strings.HasPrefix(err.Error(), "key not found") {
			return nil, nil
		}
		util.Error("Failed to get OTP record from cache",
			zap.String("channel", channel),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP record from cache: %w", err)
	}

	var record models.OTPRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
	}

	return &record, nil
}

func (c *OTPCache) DeleteRecord(channel, purpose, identifier string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys := []string{
		otpKey(channel, purpose, identifier),
		otpAttemptPrefix + channel + ":" + purpose + ":" + identifier,
	}

	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete OTP record from cache",
			zap.String("channel", channel),
			zap.Error(err))
		return fmt.Errorf("failed to delete OTP record from cache: %w", err)
	}

	util.Debug("OTP record deleted",
		zap.String("channel", channel),
		zap.String("purpose", purpose))
	return nil
}

// IncrementAttempts bumps the failed-verification counter. The counter key
// carries its own TTL matching the OTP window.
func (c *OTPCache) IncrementAttempts(channel, purpose, identifier string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := otpAttemptPrefix + channel + ":" + purpose + ":" + identifier

	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("channel", channel),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	util.Debug("OTP attempts incremented",
		zap.String("channel", channel),
		zap.Int64("count", count))
	return int(count), nil
}

func (c *OTPCache) GetAttemptCount(channel, purpose, identifier string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := otpAttemptPrefix + channel + ":" + purpose + ":" + identifier

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if strings.HasPrefix(err.Error(), "key not found") {
			return 0, nil // No attempts yet
		}
		return 0, fmt.Errorf("failed to get OTP attempt count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}

	return count, nil
}

// GetRecordTTL returns the remaining life of a pending record. The service
// uses it to keep the attempt counter aligned with the record's window.
func (c *OTPCache) GetRecordTTL(channel, purpose, identifier string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, otpKey(channel, purpose, identifier))
	if err != nil {
		util.Error("Failed to get OTP record TTL",
			zap.String("channel", channel),
			zap.Error(err))
		return 0, fmt.Errorf("failed to get OTP record TTL: %w", err)
	}

	return ttl, nil
}

// SetResendLock blocks a new send for the identifier until the lock expires.
func (c *OTPCache) SetResendLock(channel, purpose, identifier string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := otpLockPrefix + channel + ":" + purpose + ":" + identifier

	acquired, err := c.client.SetNX(ctx, key, "locked", ttl)
	if err != nil {
		util.Error("Failed to set OTP resend lock",
			zap.String("channel", channel),
			zap.Error(err))
		return false, fmt.Errorf("failed to set OTP resend lock: %w", err)
	}

	return acquired, nil
}
