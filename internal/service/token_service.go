package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/models"
	redisrepo "waste-auth-service/internal/repository/redis"
	"waste-auth-service/internal/util"
)

// AccessClaims is the JWT payload for access tokens.
type AccessClaims struct {
	Username string `json:"username"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is what a completed login hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenService issues short-lived JWT access tokens and rotating single-use
// refresh tokens. Refresh tokens are opaque random strings held server-side;
// redeeming one atomically invalidates it and mints a replacement pair.
type TokenService struct {
	tokens *redisrepo.TokenCache
	config *config.Config
	secret []byte
}

func NewTokenService(tokens *redisrepo.TokenCache, cfg *config.Config) *TokenService {
	return &TokenService{
		tokens: tokens,
		config: cfg,
		secret: []byte(cfg.Token.Secret),
	}
}

// Issue mints a fresh access/refresh pair for an authenticated user.
func (s *TokenService) Issue(user *models.User, deviceID string) (*TokenPair, error) {
	now := time.Now().UTC()

	claims := AccessClaims{
		Username: user.Username,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Token.Issuer,
			Subject:   user.UserID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Token.AccessTTL)),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.generateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	record := &redisrepo.RefreshTokenRecord{
		UserID:    user.UserID,
		Username:  user.Username,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.Token.RefreshTTL),
	}
	if err := s.tokens.Store(refreshToken, record, s.config.Token.RefreshTTL); err != nil {
		return nil, err
	}

	util.Debug("Token pair issued",
		zap.String("user_id", user.UserID),
		zap.Duration("access_ttl", s.config.Token.AccessTTL))

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.config.Token.AccessTTL.Seconds()),
	}, nil
}

// Refresh redeems a refresh token for a new pair. The old token is consumed
// atomically; a second redemption of the same token fails.
func (s *TokenService) Refresh(refreshToken string) (*TokenPair, *redisrepo.RefreshTokenRecord, error) {
	if refreshToken == "" {
		return nil, nil, fmt.Errorf("%w: refresh token is required", ErrValidation)
	}

	record, err := s.tokens.Consume(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, ErrInvalidRefreshToken
	}

	user := &models.User{
		UserID:   record.UserID,
		Username: record.Username,
	}

	pair, err := s.Issue(user, record.DeviceID)
	if err != nil {
		return nil, nil, err
	}

	util.Info("Refresh token rotated", zap.String("user_id", record.UserID))
	return pair, record, nil
}

// Revoke invalidates a refresh token on logout. Logout is idempotent:
// revoking an unknown or absent token is not an error.
func (s *TokenService) Revoke(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Revoke(refreshToken)
}

// Validate parses and verifies an access token.
func (s *TokenService) Validate(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.config.Token.Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return claims, nil
}

func (s *TokenService) generateOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
