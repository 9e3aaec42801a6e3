package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/hashing"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/notify"
	redisrepo "waste-auth-service/internal/repository/redis"
	"waste-auth-service/internal/util"
)

// OTPService issues and verifies one-time passcodes. A new code replaces any
// pending one for the same (channel, purpose, identifier); verification burns
// the code on success and enforces a fixed attempt budget on failure.
type OTPService struct {
	cache   *redisrepo.OTPCache
	hasher  *hashing.Hasher
	gateway *notify.Gateway
	events  *SecurityEventEmitter
	config  *config.Config
}

func NewOTPService(
	cache *redisrepo.OTPCache,
	hasher *hashing.Hasher,
	gateway *notify.Gateway,
	events *SecurityEventEmitter,
	cfg *config.Config,
) *OTPService {
	return &OTPService{
		cache:   cache,
		hasher:  hasher,
		gateway: gateway,
		events:  events,
		config:  cfg,
	}
}

// Send generates a fresh code, stores its hash, and dispatches the
// notification. The identifier must already be normalized.
func (s *OTPService) Send(ctx context.Context, channel, purpose, identifier string) (time.Duration, error) {
	if identifier == "" {
		return 0, fmt.Errorf("%w: identifier is required", ErrValidation)
	}
	if channel != models.OTPChannelSMS && channel != models.OTPChannelEmail {
		return 0, fmt.Errorf("%w: unsupported channel %q", ErrValidation, channel)
	}
	switch purpose {
	case models.OTPPurposeVerification, models.OTPPurposePasswordReset, models.OTPPurposeGeneric:
	default:
		return 0, fmt.Errorf("%w: unsupported purpose %q", ErrValidation, purpose)
	}

	if interval := s.config.OTP.ResendInterval; interval > 0 {
		acquired, err := s.cache.SetResendLock(channel, purpose, identifier, interval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			return 0, fmt.Errorf("%w: a code was sent recently", ErrRateLimited)
		}
	}

	code, err := s.generateCode()
	if err != nil {
		return 0, fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashed, err := s.hasher.HashOTP(code)
	if err != nil {
		return 0, fmt.Errorf("failed to hash OTP: %w", err)
	}

	record := &models.OTPRecord{
		CodeHash:      hashed.Hash,
		CodeSalt:      hashed.Salt,
		HashAlgorithm: hashed.Algorithm,
		PepperVersion: hashed.PepperVersion,
		Channel:       channel,
		Purpose:       purpose,
		CreatedAt:     time.Now().UTC(),
	}

	expiry := s.config.OTP.Expiry
	if err := s.cache.SetRecord(channel, purpose, identifier, record, expiry); err != nil {
		return 0, err
	}

	msg := notify.RenderOTP(channel, identifier, purpose, code, int(expiry.Minutes()))
	if err := s.gateway.Send(ctx, msg); err != nil {
		// The record is already stored; delivery failures surface to the
		// caller so the client can retry.
		util.Error("Failed to dispatch OTP notification",
			zap.String("channel", channel),
			zap.String("purpose", purpose),
			zap.Error(err))
		return 0, fmt.Errorf("failed to dispatch OTP: %w", err)
	}

	util.Info("OTP issued",
		zap.String("channel", channel),
		zap.String("purpose", purpose),
		zap.Duration("expiry", expiry))
	return expiry, nil
}

// Verify checks a submitted code against the pending record. On a wrong code
// it reports how many attempts remain in the budget. The budget is enforced
// with a companion counter whose TTL tracks the record's original remaining
// window, so failed attempts never extend it.
func (s *OTPService) Verify(channel, purpose, identifier, code string) (int, error) {
	if identifier == "" || code == "" {
		return 0, fmt.Errorf("%w: identifier and code are required", ErrValidation)
	}

	record, err := s.cache.GetRecord(channel, purpose, identifier)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, ErrOTPNotFound
	}

	attempts, err := s.cache.GetAttemptCount(channel, purpose, identifier)
	if err != nil {
		return 0, err
	}
	if attempts >= s.config.OTP.MaxAttempts {
		// Stale record past its budget; burn it.
		_ = s.cache.DeleteRecord(channel, purpose, identifier)
		return 0, ErrOTPAttemptsExceeded
	}

	hashed := &hashing.HashResult{
		Hash:          record.CodeHash,
		Salt:          record.CodeSalt,
		PepperVersion: record.PepperVersion,
		Algorithm:     record.HashAlgorithm,
	}

	valid, err := s.hasher.VerifyOTP(code, hashed)
	if err != nil {
		return 0, fmt.Errorf("failed to verify OTP: %w", err)
	}

	if !valid {
		remaining, ttlErr := s.cache.GetRecordTTL(channel, purpose, identifier)
		if ttlErr != nil || remaining <= 0 {
			remaining = s.config.OTP.Expiry
		}

		count, incErr := s.cache.IncrementAttempts(channel, purpose, identifier, remaining)
		if incErr != nil {
			return 0, incErr
		}

		if count >= s.config.OTP.MaxAttempts {
			_ = s.cache.DeleteRecord(channel, purpose, identifier)
			s.events.Emit(models.SecurityEvent{
				EventType: models.EventOTPAttemptsExhaust,
				Username:  identifier,
				Reason:    "otp attempt budget exhausted",
			})
			return 0, ErrOTPAttemptsExceeded
		}

		left := s.config.OTP.MaxAttempts - count
		util.Warn("OTP verification failed",
			zap.String("channel", channel),
			zap.String("purpose", purpose),
			zap.Int("attempts", count),
			zap.Int("remaining", left))
		return left, ErrOTPInvalid
	}

	// Success burns the code: a verified OTP can never be replayed.
	if err := s.cache.DeleteRecord(channel, purpose, identifier); err != nil {
		return 0, err
	}

	util.Info("OTP verified",
		zap.String("channel", channel),
		zap.String("purpose", purpose))
	return 0, nil
}

func (s *OTPService) generateCode() (string, error) {
	length := s.config.OTP.Length
	if length <= 0 {
		length = 6
	}

	max := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
