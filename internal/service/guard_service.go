package service

import (
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/models"
	redisrepo "waste-auth-service/internal/repository/redis"
	"waste-auth-service/internal/util"
)

// GuardService enforces the login security policy: per-username lockout after
// consecutive failures and fixed-window rate limits per source address.
type GuardService struct {
	lockouts *redisrepo.LockoutCache
	limits   *redisrepo.RateLimitCache
	events   *SecurityEventEmitter
	config   *config.Config
}

func NewGuardService(
	lockouts *redisrepo.LockoutCache,
	limits *redisrepo.RateLimitCache,
	events *SecurityEventEmitter,
	cfg *config.Config,
) *GuardService {
	return &GuardService{
		lockouts: lockouts,
		limits:   limits,
		events:   events,
		config:   cfg,
	}
}

// CheckLoginAllowed gates a login attempt before credentials are examined.
// Order matters: the rate limit is counted first so hammering a locked
// account still burns the caller's budget.
func (s *GuardService) CheckLoginAllowed(username, sourceAddr string) error {
	count, err := s.limits.IncrementIPCounter(sourceAddr, "login", s.config.RateLimit.LoginWindow)
	if err != nil {
		return err
	}
	if count > s.config.RateLimit.LoginLimit {
		s.events.Emit(models.SecurityEvent{
			EventType:     models.EventRateLimited,
			Username:      username,
			SourceAddress: sourceAddr,
			Reason:        "login rate limit exceeded",
		})
		return ErrRateLimited
	}

	locked, err := s.lockouts.IsLocked(username)
	if err != nil {
		return err
	}
	if locked {
		return ErrAccountLocked
	}

	return nil
}

// CheckBiometricAllowed gates a challenge-protocol call per source address.
func (s *GuardService) CheckBiometricAllowed(sourceAddr string) error {
	count, err := s.limits.IncrementIPCounter(sourceAddr, "biometric", s.config.RateLimit.BiometricWindow)
	if err != nil {
		return err
	}
	if count > s.config.RateLimit.BiometricLimit {
		s.events.Emit(models.SecurityEvent{
			EventType:     models.EventRateLimited,
			SourceAddress: sourceAddr,
			Reason:        "biometric rate limit exceeded",
		})
		return ErrRateLimited
	}
	return nil
}

// RecordFailure bumps the consecutive-failure counter and locks the account
// when the threshold is reached. Returns whether this failure locked it.
func (s *GuardService) RecordFailure(username, sourceAddr string) (bool, error) {
	count, err := s.lockouts.IncrementFailures(username, s.config.Lockout.Window)
	if err != nil {
		return false, err
	}

	s.events.Emit(models.SecurityEvent{
		EventType:     models.EventLoginFailed,
		Username:      username,
		SourceAddress: sourceAddr,
		Reason:        "invalid credentials",
	})

	if count < s.config.Lockout.Threshold {
		return false, nil
	}

	if err := s.lockouts.LockAccount(username, s.config.Lockout.Duration); err != nil {
		return false, err
	}

	s.events.Emit(models.SecurityEvent{
		EventType:     models.EventAccountLocked,
		Username:      username,
		SourceAddress: sourceAddr,
		Reason:        "failure threshold reached",
	})

	util.Warn("Account locked after repeated failures",
		zap.String("username", username),
		zap.Int("failures", count),
		zap.Duration("duration", s.config.Lockout.Duration))
	return true, nil
}

// RecordSuccess clears the failure counter after a successful authentication.
func (s *GuardService) RecordSuccess(username, sourceAddr string) error {
	if err := s.lockouts.ResetFailures(username); err != nil {
		return err
	}
	s.events.Emit(models.SecurityEvent{
		EventType:     models.EventLoginSucceeded,
		Username:      username,
		SourceAddress: sourceAddr,
	})
	return nil
}

// IsLocked reports the current lock state without counting an attempt.
func (s *GuardService) IsLocked(username string) (bool, time.Duration, error) {
	locked, err := s.lockouts.IsLocked(username)
	if err != nil {
		return false, 0, err
	}
	if !locked {
		return false, 0, nil
	}
	ttl, err := s.lockouts.GetLockTTL(username)
	if err != nil {
		return true, 0, err
	}
	return true, ttl, nil
}

// Unlock is the administrative override: it removes the lock and the counter.
func (s *GuardService) Unlock(username, adminID string) error {
	if err := s.lockouts.Unlock(username); err != nil {
		return err
	}

	s.events.Emit(models.SecurityEvent{
		EventType: models.EventAccountUnlocked,
		Username:  username,
		Reason:    "unlocked by " + adminID,
	})

	util.Info("Account unlocked by administrator",
		zap.String("username", username),
		zap.String("admin_id", adminID))
	return nil
}
