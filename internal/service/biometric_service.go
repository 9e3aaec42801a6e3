package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/repository/scylla"
	"waste-auth-service/internal/util"
)

// Field bounds enforced at registration.
const (
	maxDeviceIDLen    = 128
	maxDeviceNameLen  = 100
	maxPublicKeyLen   = 2048
	maxCredentialLen  = 256
	maxFingerprintLen = 256
)

// DeviceRegistration is the validated input for registering a device
// credential. The device ID is chosen by the client; registering the same ID
// again for the same user replaces the stored credential in place.
type DeviceRegistration struct {
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	DeviceType        string `json:"device_type"`
	PublicKey         string `json:"public_key"`
	CredentialID      string `json:"credential_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// ChallengeIssue is the response to a challenge initiation.
type ChallengeIssue struct {
	Challenge string    `json:"challenge"`
	UserID    string    `json:"user_id"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeVerification carries everything the client submits to prove
// possession of a registered credential.
type ChallengeVerification struct {
	DeviceID          string
	CredentialID      string
	Challenge         string
	Signature         string
	DeviceFingerprint string
}

// AuditSink records biometric verification attempts. Satisfied by the
// ClickHouse audit repository; tests substitute an in-memory fake.
type AuditSink interface {
	InsertBiometricAttempt(ctx context.Context, attempt *models.BiometricLoginAttempt) error
}

// BiometricService implements the device registry and the challenge-response
// protocol. Challenges are single-use: any verification attempt consumes the
// pending challenge whether or not the proof checks out.
type BiometricService struct {
	devices scylla.BiometricDeviceRepository
	users   scylla.UserRepository
	audit   AuditSink
	events  *SecurityEventEmitter
	config  *config.Config
}

func NewBiometricService(
	devices scylla.BiometricDeviceRepository,
	users scylla.UserRepository,
	audit AuditSink,
	events *SecurityEventEmitter,
	cfg *config.Config,
) *BiometricService {
	return &BiometricService{
		devices: devices,
		users:   users,
		audit:   audit,
		events:  events,
		config:  cfg,
	}
}

// Register stores a device credential for an active user. Re-registering a
// device ID the user already owns updates the row in place and resets its
// failure count; a device ID or credential ID held by anyone else is a
// conflict. Each user may hold a bounded number of active devices.
func (s *BiometricService) Register(userID string, reg *DeviceRegistration) (*models.BiometricDevice, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !user.CanAuthenticate() {
		return nil, ErrForbidden
	}

	existing, err := s.devices.GetByDeviceID(reg.DeviceID)
	if err != nil && !errors.Is(err, scylla.ErrDeviceNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, ErrConflict
		}
		return s.reRegister(userID, existing, reg)
	}

	// The credential ID must be unique across the platform.
	if holder, err := s.devices.GetByCredentialID(reg.CredentialID); err == nil && holder != nil {
		return nil, ErrConflict
	} else if err != nil && !errors.Is(err, scylla.ErrDeviceNotFound) {
		return nil, err
	}

	active, err := s.devices.CountActive(userID)
	if err != nil {
		return nil, err
	}
	if active >= s.config.Biometric.MaxDevicesPerUser {
		return nil, ErrLimitExceeded
	}

	device := &models.BiometricDevice{
		UserID:            userID,
		DeviceID:          reg.DeviceID,
		DeviceName:        reg.DeviceName,
		DeviceType:        reg.DeviceType,
		PublicKey:         reg.PublicKey,
		CredentialID:      reg.CredentialID,
		DeviceFingerprint: reg.DeviceFingerprint,
		IsActive:          true,
		MaxFailedAttempts: s.config.Biometric.MaxFailedAttempts,
	}

	if err := s.devices.Create(device); err != nil {
		return nil, err
	}

	return device, nil
}

// reRegister replaces the stored credential on a device row the user already
// owns. The failure count is reset and the device reactivated, so the
// update-in-place path counts against the active-device cap when the row was
// dormant.
func (s *BiometricService) reRegister(userID string, existing *models.BiometricDevice, reg *DeviceRegistration) (*models.BiometricDevice, error) {
	if holder, err := s.devices.GetByCredentialID(reg.CredentialID); err == nil && holder != nil {
		if holder.DeviceID != existing.DeviceID {
			return nil, ErrConflict
		}
	} else if err != nil && !errors.Is(err, scylla.ErrDeviceNotFound) {
		return nil, err
	}

	if !existing.IsActive {
		active, err := s.devices.CountActive(userID)
		if err != nil {
			return nil, err
		}
		if active >= s.config.Biometric.MaxDevicesPerUser {
			return nil, ErrLimitExceeded
		}
	}

	previousCredentialID := existing.CredentialID
	existing.DeviceName = reg.DeviceName
	existing.DeviceType = reg.DeviceType
	existing.PublicKey = reg.PublicKey
	existing.CredentialID = reg.CredentialID
	existing.DeviceFingerprint = reg.DeviceFingerprint
	existing.IsActive = true
	existing.FailedAttempts = 0
	existing.Challenge = ""
	existing.ChallengeExpires = nil

	if err := s.devices.Update(existing, previousCredentialID); err != nil {
		return nil, err
	}

	util.Info("Biometric device re-registered",
		zap.String("user_id", userID),
		zap.String("device_id", existing.DeviceID))
	return existing, nil
}

func validateRegistration(reg *DeviceRegistration) error {
	switch {
	case reg.DeviceID == "":
		return fmt.Errorf("%w: device ID is required", ErrValidation)
	case reg.DeviceName == "":
		return fmt.Errorf("%w: device name is required", ErrValidation)
	case reg.PublicKey == "":
		return fmt.Errorf("%w: public key is required", ErrValidation)
	case reg.CredentialID == "":
		return fmt.Errorf("%w: credential ID is required", ErrValidation)
	case reg.DeviceFingerprint == "":
		return fmt.Errorf("%w: device fingerprint is required", ErrValidation)
	}

	if reg.DeviceType != models.DevicePlatformIOS && reg.DeviceType != models.DevicePlatformAndroid {
		return fmt.Errorf("%w: unsupported device type %q", ErrValidation, reg.DeviceType)
	}

	switch {
	case len(reg.DeviceID) > maxDeviceIDLen:
		return fmt.Errorf("%w: device ID exceeds %d characters", ErrValidation, maxDeviceIDLen)
	case len(reg.DeviceName) > maxDeviceNameLen:
		return fmt.Errorf("%w: device name exceeds %d characters", ErrValidation, maxDeviceNameLen)
	case len(reg.PublicKey) > maxPublicKeyLen:
		return fmt.Errorf("%w: public key exceeds %d characters", ErrValidation, maxPublicKeyLen)
	case len(reg.CredentialID) > maxCredentialLen:
		return fmt.Errorf("%w: credential ID exceeds %d characters", ErrValidation, maxCredentialLen)
	case len(reg.DeviceFingerprint) > maxFingerprintLen:
		return fmt.Errorf("%w: device fingerprint exceeds %d characters", ErrValidation, maxFingerprintLen)
	}

	return nil
}

// InitChallenge issues a fresh random challenge for the device named by the
// {device ID, credential ID} pair. Any unconsumed previous challenge is
// overwritten. A pair that matches no registered device is indistinguishable
// from bad credentials.
func (s *BiometricService) InitChallenge(deviceID, credentialID string) (*ChallengeIssue, error) {
	device, err := s.resolveDevice(deviceID, credentialID)
	if err != nil {
		return nil, err
	}
	if _, err := s.usableOwner(device); err != nil {
		return nil, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	challenge := base64.RawURLEncoding.EncodeToString(buf)
	ttl := s.config.Biometric.ChallengeTTL
	expires := time.Now().UTC().Add(ttl)

	if err := s.devices.SetChallenge(device.UserID, device.DeviceID, challenge, expires); err != nil {
		return nil, err
	}

	util.Debug("Biometric challenge issued",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.DeviceID))

	return &ChallengeIssue{
		Challenge: challenge,
		UserID:    device.UserID,
		ExpiresIn: int(ttl.Seconds()),
		ExpiresAt: expires,
	}, nil
}

// VerifyChallenge checks the submitted challenge, device fingerprint, and
// signature against the stored device state. Success resets the device's
// failure count and returns the device with its owner; every failure past
// device resolution consumes the pending challenge, bumps the failure count,
// and deactivates the device at the threshold.
func (s *BiometricService) VerifyChallenge(ctx context.Context, ver *ChallengeVerification, sourceAddr string) (*models.User, *models.BiometricDevice, error) {
	if ver.Signature == "" || ver.Challenge == "" {
		return nil, nil, fmt.Errorf("%w: challenge and signature are required", ErrValidation)
	}

	device, err := s.resolveDevice(ver.DeviceID, ver.CredentialID)
	if err != nil {
		// No row to reference: the audit trail records the attempt without
		// naming a device or user.
		s.recordAttempt(ctx, "", "", sourceAddr, false, "unknown credential")
		return nil, nil, err
	}

	user, err := s.usableOwner(device)
	if err != nil {
		s.recordAttempt(ctx, device.DeviceID, device.UserID, sourceAddr, false, err.Error())
		return nil, nil, err
	}

	now := time.Now().UTC()
	if !device.HasLiveChallenge(now) {
		return nil, nil, s.failAttempt(ctx, device, sourceAddr,
			models.EventChallengeFailed, "challenge missing or expired", ErrInvalidChallenge)
	}
	if subtle.ConstantTimeCompare([]byte(ver.Challenge), []byte(device.Challenge)) != 1 {
		return nil, nil, s.failAttempt(ctx, device, sourceAddr,
			models.EventChallengeFailed, "challenge mismatch", ErrInvalidChallenge)
	}

	if ver.DeviceFingerprint != device.DeviceFingerprint {
		return nil, nil, s.failAttempt(ctx, device, sourceAddr,
			models.EventSignatureRejected, "device fingerprint mismatch", ErrVerificationFailed)
	}

	if !s.verifySignature(device, ver.Signature) {
		return nil, nil, s.failAttempt(ctx, device, sourceAddr,
			models.EventSignatureRejected, "signature rejected", ErrVerificationFailed)
	}

	if err := s.devices.MarkVerified(device.UserID, device.DeviceID, sourceAddr, now); err != nil {
		return nil, nil, err
	}
	device.FailedAttempts = 0
	device.Challenge = ""
	device.ChallengeExpires = nil
	device.LastVerifiedAt = &now

	s.recordAttempt(ctx, device.DeviceID, device.UserID, sourceAddr, true, "")
	util.Info("Biometric verification succeeded",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.DeviceID))
	return user, device, nil
}

// ListDevices returns every device row for the user, active or not.
func (s *BiometricService) ListDevices(userID string) ([]*models.BiometricDevice, error) {
	return s.devices.ListByUser(userID)
}

// Revoke deactivates a device credential permanently.
func (s *BiometricService) Revoke(userID, deviceID string) error {
	device, err := s.devices.Get(userID, deviceID)
	if err != nil {
		if errors.Is(err, scylla.ErrDeviceNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.devices.SetActive(userID, device.DeviceID, false); err != nil {
		return err
	}

	s.events.Emit(models.SecurityEvent{
		EventType: models.EventDeviceRevoked,
		UserID:    userID,
		DeviceID:  deviceID,
		Reason:    "revoked by owner",
	})
	return nil
}

// resolveDevice maps the submitted {device ID, credential ID} pair to a
// registered row. Unknown pairs collapse into one denial so callers cannot
// probe which half was wrong.
func (s *BiometricService) resolveDevice(deviceID, credentialID string) (*models.BiometricDevice, error) {
	if deviceID == "" || credentialID == "" {
		return nil, fmt.Errorf("%w: device ID and credential ID are required", ErrValidation)
	}

	device, err := s.devices.GetByCredentialID(credentialID)
	if err != nil {
		if errors.Is(err, scylla.ErrDeviceNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if device.DeviceID != deviceID {
		return nil, ErrInvalidCredentials
	}

	return device, nil
}

// usableOwner gates a resolved device on its own state and its owner's.
func (s *BiometricService) usableOwner(device *models.BiometricDevice) (*models.User, error) {
	if !device.IsActive || device.IsLocked() {
		return nil, ErrDeviceLocked
	}
	if device.IsExpired(time.Now().UTC()) {
		return nil, ErrForbidden
	}

	user, err := s.users.GetByID(device.UserID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !user.CanAuthenticate() {
		return nil, ErrForbidden
	}

	return user, nil
}

// failAttempt is the shared failure path for every rejected proof: the
// pending challenge is consumed, the failure count bumped, and the attempt
// audited. Reaching the failure threshold deactivates the device and
// overrides the sentinel.
func (s *BiometricService) failAttempt(ctx context.Context, device *models.BiometricDevice, sourceAddr, eventType, reason string, sentinel error) error {
	if err := s.devices.SetChallenge(device.UserID, device.DeviceID, "", time.Now().UTC()); err != nil {
		util.Error("Failed to clear consumed challenge",
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
	}

	deactivated, err := s.devices.RecordFailure(device)
	if err != nil {
		return err
	}

	s.recordAttempt(ctx, device.DeviceID, device.UserID, sourceAddr, false, reason)
	s.events.Emit(models.SecurityEvent{
		EventType:     eventType,
		UserID:        device.UserID,
		DeviceID:      device.DeviceID,
		SourceAddress: sourceAddr,
		Reason:        reason,
	})

	if deactivated {
		s.events.Emit(models.SecurityEvent{
			EventType:     models.EventDeviceLocked,
			UserID:        device.UserID,
			DeviceID:      device.DeviceID,
			SourceAddress: sourceAddr,
			Reason:        "device failure threshold reached",
		})
		return ErrDeviceLocked
	}

	return sentinel
}

// verifySignature checks the base64 signature over the pending challenge.
// When the stored public key parses as an Ed25519 key the check is
// cryptographic; otherwise only the signature's shape is validated, which
// keeps registration open to credential formats the server cannot verify
// locally (platform attestation happens upstream for those).
func (s *BiometricService) verifySignature(device *models.BiometricDevice, signature string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		if sig, err = base64.StdEncoding.DecodeString(signature); err != nil {
			return false
		}
	}

	pub, err := base64.RawURLEncoding.DecodeString(device.PublicKey)
	if err != nil {
		pub, err = base64.StdEncoding.DecodeString(device.PublicKey)
	}
	if err == nil && len(pub) == ed25519.PublicKeySize {
		return ed25519.Verify(ed25519.PublicKey(pub), []byte(device.Challenge), sig)
	}

	return len(sig) >= ed25519.SignatureSize
}

func (s *BiometricService) recordAttempt(ctx context.Context, deviceID, userID, sourceAddr string, success bool, reason string) {
	if s.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.audit.InsertBiometricAttempt(ctx, &models.BiometricLoginAttempt{
		DeviceID:      deviceID,
		UserID:        userID,
		SourceAddress: sourceAddr,
		Success:       success,
		FailureReason: reason,
	})
	if err != nil {
		util.Error("Failed to record biometric attempt", zap.Error(err))
	}
}
