package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/util"
)

const refreshTokenPrefix = "refresh_token:"

// RefreshTokenRecord is what the cache stores for an outstanding refresh
// token. Only the SHA-256 of the opaque token is used as the key, so a cache
// dump never exposes usable tokens.
type RefreshTokenRecord struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	DeviceID  string    `json:"device_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCache holds single-use refresh tokens. Consume is atomic: GETDEL
// guarantees a token redeems exactly once even under concurrent requests.
type TokenCache struct {
	client *client.RedisClient
}

func NewTokenCache(client *client.RedisClient) *TokenCache {
	return &TokenCache{client: client}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store saves a refresh token record under the hash of the opaque token.
func (c *TokenCache) Store(token string, record *RefreshTokenRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token record: %w", err)
	}

	key := refreshTokenPrefix + hashToken(token)
	if err := c.client.Set(ctx, key, string(payload), ttl); err != nil {
		util.Error("Failed to store refresh token",
			zap.String("user_id", record.UserID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	util.Debug("Refresh token stored",
		zap.String("user_id", record.UserID),
		zap.Duration("ttl", ttl))
	return nil
}

// Consume atomically retrieves and deletes the record for a token. Returns
// (nil, nil) when the token is unknown, already used, or expired.
func (c *TokenCache) Consume(token string) (*RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := refreshTokenPrefix + hashToken(token)

	payload, found, err := c.client.GetDel(ctx, key)
	if err != nil {
		util.Error("Failed to consume refresh token", zap.Error(err))
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !found {
		return nil, nil
	}

	var record RefreshTokenRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token record: %w", err)
	}

	util.Debug("Refresh token consumed", zap.String("user_id", record.UserID))
	return &record, nil
}

// Revoke deletes a token without returning it, used on logout.
func (c *TokenCache) Revoke(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, refreshTokenPrefix+hashToken(token)); err != nil {
		util.Error("Failed to revoke refresh token", zap.Error(err))
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	util.Debug("Refresh token revoked")
	return nil
}
