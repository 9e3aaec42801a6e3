package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/encryption"
	"waste-auth-service/internal/hashing"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/repository/scylla"
	"waste-auth-service/internal/util"
)

// LoginAuditSink records password/OTP login attempts. Satisfied by the
// ClickHouse audit repository.
type LoginAuditSink interface {
	InsertLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// LoginStart is the response to a successful password check: the login is
// pending until the delivered OTP is verified.
type LoginStart struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	OTPSent bool   `json:"otp_sent"`
}

// LoginResult is a completed authentication.
type LoginResult struct {
	Tokens *TokenPair   `json:"tokens"`
	User   *models.User `json:"-"`
}

// AuthService orchestrates the two-step login: password check, then OTP
// confirmation. All failure paths count toward the lockout policy and leave
// an audit row.
type AuthService struct {
	users      scylla.UserRepository
	hasher     *hashing.Hasher
	otp        *OTPService
	guard      *GuardService
	tokens     *TokenService
	encryption *encryption.EncryptionManager
	audit      LoginAuditSink
	config     *config.Config
}

func NewAuthService(
	users scylla.UserRepository,
	hasher *hashing.Hasher,
	otp *OTPService,
	guard *GuardService,
	tokens *TokenService,
	enc *encryption.EncryptionManager,
	audit LoginAuditSink,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		users:      users,
		hasher:     hasher,
		otp:        otp,
		guard:      guard,
		tokens:     tokens,
		encryption: enc,
		audit:      audit,
		config:     cfg,
	}
}

// PasswordLogin validates the first factor and dispatches a login OTP. The
// error for a wrong password and an unknown username is identical.
func (s *AuthService) PasswordLogin(ctx context.Context, username, password, sourceAddr string) (*LoginStart, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	if err := s.guard.CheckLoginAllowed(username, sourceAddr); err != nil {
		return nil, err
	}

	user, err := s.users.GetByUsername(username)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			// Unknown usernames still burn a failure so enumeration costs
			// the same as guessing passwords.
			s.recordAttempt(ctx, username, "", sourceAddr, false, "unknown username")
			if _, gerr := s.guard.RecordFailure(username, sourceAddr); gerr != nil {
				util.Error("Failed to record login failure", zap.Error(gerr))
			}
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.CanAuthenticate() {
		s.recordAttempt(ctx, username, user.UserID, sourceAddr, false, "account status "+user.Status)
		return nil, ErrForbidden
	}

	var stored hashing.HashResult
	if err := json.Unmarshal([]byte(user.PasswordHash), &stored); err != nil {
		util.Error("Stored password hash unreadable",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return nil, ErrInternal
	}

	valid, err := s.hasher.VerifyPassword(password, &stored)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		s.recordAttempt(ctx, username, user.UserID, sourceAddr, false, "wrong password")
		locked, gerr := s.guard.RecordFailure(username, sourceAddr)
		if gerr != nil {
			util.Error("Failed to record login failure", zap.Error(gerr))
		}
		if locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	channel, identifier, err := s.otpDestination(ctx, user)
	if err != nil {
		return nil, err
	}

	if _, err := s.otp.Send(ctx, channel, models.OTPPurposeGeneric, identifier); err != nil {
		return nil, err
	}

	util.Info("Password accepted, OTP dispatched",
		zap.String("user_id", user.UserID),
		zap.String("channel", channel))

	return &LoginStart{
		UserID:  user.UserID,
		Channel: channel,
		OTPSent: true,
	}, nil
}

// CompleteLogin verifies the second factor and issues tokens.
func (s *AuthService) CompleteLogin(ctx context.Context, username, code, sourceAddr string) (*LoginResult, error) {
	if username == "" || code == "" {
		return nil, fmt.Errorf("%w: username and code are required", ErrValidation)
	}

	// A lock placed after the password step still blocks completion; the OTP
	// alone never authenticates a locked account.
	locked, _, err := s.guard.IsLocked(username)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetByUsername(username)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.CanAuthenticate() {
		return nil, ErrForbidden
	}

	channel, identifier, err := s.otpDestination(ctx, user)
	if err != nil {
		return nil, err
	}

	if _, err := s.otp.Verify(channel, models.OTPPurposeGeneric, identifier, code); err != nil {
		if errors.Is(err, ErrOTPInvalid) || errors.Is(err, ErrOTPAttemptsExceeded) {
			s.recordAttempt(ctx, username, user.UserID, sourceAddr, false, "otp rejected")
			if _, gerr := s.guard.RecordFailure(username, sourceAddr); gerr != nil {
				util.Error("Failed to record login failure", zap.Error(gerr))
			}
		}
		return nil, err
	}

	return s.finishLogin(ctx, user, "", sourceAddr)
}

// CompleteBiometricLogin issues tokens after a successful challenge
// verification. The biometric service has already authenticated the user.
func (s *AuthService) CompleteBiometricLogin(ctx context.Context, user *models.User, deviceID, sourceAddr string) (*LoginResult, error) {
	return s.finishLogin(ctx, user, deviceID, sourceAddr)
}

func (s *AuthService) finishLogin(ctx context.Context, user *models.User, deviceID, sourceAddr string) (*LoginResult, error) {
	if err := s.guard.RecordSuccess(user.Username, sourceAddr); err != nil {
		util.Error("Failed to reset failure counter", zap.Error(err))
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(user.UserID, now); err != nil {
		util.Error("Failed to update last login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	pair, err := s.tokens.Issue(user, deviceID)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, user.Username, user.UserID, sourceAddr, true, "")

	util.Info("Login completed",
		zap.String("user_id", user.UserID),
		zap.String("username", user.Username))

	return &LoginResult{
		Tokens: pair,
		User:   user,
	}, nil
}

// Logout revokes the presented refresh token. Access tokens expire on their
// own.
func (s *AuthService) Logout(refreshToken string) error {
	return s.tokens.Revoke(refreshToken)
}

// otpDestination picks the delivery channel for a user: SMS to the decrypted
// phone when one is on file, otherwise email.
func (s *AuthService) otpDestination(ctx context.Context, user *models.User) (channel, identifier string, err error) {
	if len(user.PhoneEncrypted) > 0 {
		var enc encryption.EncryptedData
		if err := json.Unmarshal(user.PhoneEncrypted, &enc); err != nil {
			return "", "", fmt.Errorf("stored phone unreadable: %w", err)
		}
		phone, err := s.encryption.DecryptField(ctx, &enc)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt phone: %w", err)
		}
		return models.OTPChannelSMS, phone, nil
	}

	if user.Email != "" {
		return models.OTPChannelEmail, util.NormalizeEmail(user.Email), nil
	}

	return "", "", fmt.Errorf("%w: no contact method on file", ErrValidation)
}

func (s *AuthService) recordAttempt(ctx context.Context, username, userID, sourceAddr string, success bool, reason string) {
	if s.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.audit.InsertLoginAttempt(ctx, &models.LoginAttempt{
		Username:      username,
		UserID:        userID,
		SourceAddress: sourceAddr,
		Success:       success,
		FailureReason: reason,
	})
	if err != nil {
		util.Error("Failed to record login attempt", zap.Error(err))
	}
}
