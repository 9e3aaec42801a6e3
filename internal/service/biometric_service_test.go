package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/models"
	"waste-auth-service/internal/repository/scylla"
)

// In-memory stand-ins for the durable repositories.

type fakeUserRepo struct {
	byID       map[string]*models.User
	byUsername map[string]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{
		byID:       make(map[string]*models.User),
		byUsername: make(map[string]*models.User),
	}
	for _, u := range users {
		r.byID[u.UserID] = u
		r.byUsername[u.Username] = u
	}
	return r
}

func (r *fakeUserRepo) Create(user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	r.byID[user.UserID] = user
	r.byUsername[user.Username] = user
	return nil
}

func (r *fakeUserRepo) GetByID(userID string) (*models.User, error) {
	user, ok := r.byID[userID]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByUsername(username string) (*models.User, error) {
	user, ok := r.byUsername[username]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) UpdateLastLogin(userID string, at time.Time) error {
	if user, ok := r.byID[userID]; ok {
		user.LastLogin = &at
	}
	return nil
}

func (r *fakeUserRepo) UpdateStatus(userID, status string) error {
	if user, ok := r.byID[userID]; ok {
		user.Status = status
	}
	return nil
}

type fakeDeviceRepo struct {
	devices map[string]*models.BiometricDevice
	byCred  map[string]*models.BiometricDevice
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{
		devices: make(map[string]*models.BiometricDevice),
		byCred:  make(map[string]*models.BiometricDevice),
	}
}

func deviceKey(userID, deviceID string) string { return userID + "/" + deviceID }

func (r *fakeDeviceRepo) Create(device *models.BiometricDevice) error {
	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	device.CreatedAt = time.Now().UTC()
	r.devices[deviceKey(device.UserID, device.DeviceID)] = device
	r.byCred[device.CredentialID] = device
	return nil
}

func (r *fakeDeviceRepo) Update(device *models.BiometricDevice, previousCredentialID string) error {
	if previousCredentialID != "" && previousCredentialID != device.CredentialID {
		delete(r.byCred, previousCredentialID)
	}
	r.devices[deviceKey(device.UserID, device.DeviceID)] = device
	r.byCred[device.CredentialID] = device
	return nil
}

func (r *fakeDeviceRepo) Get(userID, deviceID string) (*models.BiometricDevice, error) {
	device, ok := r.devices[deviceKey(userID, deviceID)]
	if !ok {
		return nil, scylla.ErrDeviceNotFound
	}
	return device, nil
}

func (r *fakeDeviceRepo) GetByCredentialID(credentialID string) (*models.BiometricDevice, error) {
	device, ok := r.byCred[credentialID]
	if !ok {
		return nil, scylla.ErrDeviceNotFound
	}
	return device, nil
}

func (r *fakeDeviceRepo) GetByDeviceID(deviceID string) (*models.BiometricDevice, error) {
	for _, d := range r.devices {
		if d.DeviceID == deviceID {
			return d, nil
		}
	}
	return nil, scylla.ErrDeviceNotFound
}

func (r *fakeDeviceRepo) ListByUser(userID string) ([]*models.BiometricDevice, error) {
	var out []*models.BiometricDevice
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) CountActive(userID string) (int, error) {
	count := 0
	for _, d := range r.devices {
		if d.UserID == userID && d.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeDeviceRepo) SetChallenge(userID, deviceID, challenge string, expires time.Time) error {
	device, err := r.Get(userID, deviceID)
	if err != nil {
		return err
	}
	device.Challenge = challenge
	device.ChallengeExpires = &expires
	return nil
}

func (r *fakeDeviceRepo) RecordFailure(device *models.BiometricDevice) (bool, error) {
	device.FailedAttempts++
	if device.FailedAttempts >= device.MaxFailedAttempts {
		device.IsActive = false
		return true, nil
	}
	return false, nil
}

func (r *fakeDeviceRepo) MarkVerified(userID, deviceID, sourceAddr string, at time.Time) error {
	device, err := r.Get(userID, deviceID)
	if err != nil {
		return err
	}
	device.FailedAttempts = 0
	device.Challenge = ""
	device.ChallengeExpires = nil
	device.LastVerifiedAt = &at
	device.LastUsedAt = &at
	device.LastSourceAddr = sourceAddr
	return nil
}

func (r *fakeDeviceRepo) SetActive(userID, deviceID string, active bool) error {
	device, err := r.Get(userID, deviceID)
	if err != nil {
		return err
	}
	device.IsActive = active
	return nil
}

type fakeAuditSink struct {
	attempts []*models.BiometricLoginAttempt
}

func (s *fakeAuditSink) InsertBiometricAttempt(_ context.Context, attempt *models.BiometricLoginAttempt) error {
	s.attempts = append(s.attempts, attempt)
	return nil
}

type biometricFixture struct {
	svc     *BiometricService
	users   *fakeUserRepo
	devices *fakeDeviceRepo
	audit   *fakeAuditSink
	user    *models.User
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
}

func newBiometricFixture(t *testing.T) *biometricFixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	user := &models.User{
		UserID:   "user-1",
		Username: "resident01",
		Status:   models.UserStatusActive,
	}

	users := newFakeUserRepo(user)
	devices := newFakeDeviceRepo()
	audit := &fakeAuditSink{}

	return &biometricFixture{
		svc:     NewBiometricService(devices, users, audit, testEmitter(), serviceTestConfig()),
		users:   users,
		devices: devices,
		audit:   audit,
		user:    user,
		pub:     pub,
		priv:    priv,
	}
}

func (fx *biometricFixture) registration(id string) *DeviceRegistration {
	return &DeviceRegistration{
		DeviceID:          "device-" + id,
		DeviceName:        "Pixel 9",
		DeviceType:        models.DevicePlatformAndroid,
		PublicKey:         base64.RawURLEncoding.EncodeToString(fx.pub),
		CredentialID:      "cred-" + id,
		DeviceFingerprint: "fp-" + id,
	}
}

func (fx *biometricFixture) sign(challenge string) string {
	sig := ed25519.Sign(fx.priv, []byte(challenge))
	return base64.RawURLEncoding.EncodeToString(sig)
}

// verify submits a proof built from the device's stored identity, signing the
// given challenge.
func (fx *biometricFixture) verify(ctx context.Context, device *models.BiometricDevice, challenge string) (*models.User, *models.BiometricDevice, error) {
	return fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
		DeviceID:          device.DeviceID,
		CredentialID:      device.CredentialID,
		Challenge:         challenge,
		Signature:         fx.sign(challenge),
		DeviceFingerprint: device.DeviceFingerprint,
	}, "203.0.113.10")
}

func TestBiometricRegister(t *testing.T) {
	fx := newBiometricFixture(t)

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)
	// The client-chosen device ID is kept verbatim.
	assert.Equal(t, "device-1", device.DeviceID)
	assert.True(t, device.IsActive)
	assert.Equal(t, 5, device.MaxFailedAttempts)
}

func TestBiometricRegisterValidation(t *testing.T) {
	fx := newBiometricFixture(t)

	cases := map[string]func(*DeviceRegistration){
		"missing device id":     func(r *DeviceRegistration) { r.DeviceID = "" },
		"missing device name":   func(r *DeviceRegistration) { r.DeviceName = "" },
		"missing public key":    func(r *DeviceRegistration) { r.PublicKey = "" },
		"missing credential id": func(r *DeviceRegistration) { r.CredentialID = "" },
		"missing fingerprint":   func(r *DeviceRegistration) { r.DeviceFingerprint = "" },
		"unsupported type":      func(r *DeviceRegistration) { r.DeviceType = "smartwatch" },
		"device id too long":    func(r *DeviceRegistration) { r.DeviceID = strings.Repeat("x", 129) },
		"device name too long":  func(r *DeviceRegistration) { r.DeviceName = strings.Repeat("x", 101) },
		"fingerprint too long":  func(r *DeviceRegistration) { r.DeviceFingerprint = strings.Repeat("x", 257) },
	}
	for name, mutate := range cases {
		reg := fx.registration("1")
		mutate(reg)
		_, err := fx.svc.Register("user-1", reg)
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	_, err := fx.svc.Register("ghost-user", fx.registration("1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBiometricRegisterInactiveUser(t *testing.T) {
	fx := newBiometricFixture(t)
	fx.user.Status = models.UserStatusAccessRevoked

	_, err := fx.svc.Register("user-1", fx.registration("1"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBiometricRegisterDeviceCap(t *testing.T) {
	fx := newBiometricFixture(t)

	for i := 0; i < 5; i++ {
		_, err := fx.svc.Register("user-1", fx.registration(string(rune('a'+i))))
		require.NoError(t, err)
	}

	_, err := fx.svc.Register("user-1", fx.registration("overflow"))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// Revoking one device frees a slot.
	devices, err := fx.svc.ListDevices("user-1")
	require.NoError(t, err)
	require.NoError(t, fx.svc.Revoke("user-1", devices[0].DeviceID))

	_, err = fx.svc.Register("user-1", fx.registration("overflow"))
	assert.NoError(t, err)
}

func TestBiometricRegisterUpdatesInPlace(t *testing.T) {
	fx := newBiometricFixture(t)

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)
	device.FailedAttempts = 3

	reg := fx.registration("1")
	reg.DeviceName = "Pixel 9 Pro"
	reg.CredentialID = "cred-rotated"

	again, err := fx.svc.Register("user-1", reg)
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, again.DeviceID)
	assert.Equal(t, "Pixel 9 Pro", again.DeviceName)
	assert.Equal(t, "cred-rotated", again.CredentialID)
	// Re-registration starts the device with a clean slate.
	assert.Equal(t, 0, again.FailedAttempts)

	// The old credential no longer resolves; the new one does.
	_, err = fx.devices.GetByCredentialID("cred-1")
	assert.ErrorIs(t, err, scylla.ErrDeviceNotFound)
	stored, err := fx.devices.GetByCredentialID("cred-rotated")
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, stored.DeviceID)
}

func TestBiometricRegisterForeignDeviceID(t *testing.T) {
	fx := newBiometricFixture(t)

	_, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	require.NoError(t, fx.users.Create(&models.User{
		UserID:   "user-2",
		Username: "resident02",
		Status:   models.UserStatusActive,
	}))

	// Same device ID, different owner.
	reg := fx.registration("1")
	reg.CredentialID = "cred-other"
	_, err = fx.svc.Register("user-2", reg)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBiometricRegisterDuplicateCredential(t *testing.T) {
	fx := newBiometricFixture(t)

	_, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	// A different device may not claim an existing credential ID, neither for
	// the same user nor for anyone else.
	reg := fx.registration("2")
	reg.CredentialID = "cred-1"
	_, err = fx.svc.Register("user-1", reg)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, fx.users.Create(&models.User{
		UserID:   "user-2",
		Username: "resident02",
		Status:   models.UserStatusActive,
	}))
	_, err = fx.svc.Register("user-2", fx.registration("1"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBiometricChallengeRoundTrip(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)
	require.NotEmpty(t, issue.Challenge)
	assert.Equal(t, "user-1", issue.UserID)
	assert.Equal(t, 300, issue.ExpiresIn)
	assert.True(t, issue.ExpiresAt.After(time.Now()))

	user, verified, err := fx.verify(ctx, device, issue.Challenge)
	require.NoError(t, err)
	assert.Equal(t, "resident01", user.Username)
	assert.Equal(t, device.DeviceID, verified.DeviceID)

	require.NotEmpty(t, fx.audit.attempts)
	assert.True(t, fx.audit.attempts[len(fx.audit.attempts)-1].Success)

	// The challenge was consumed; replaying the same proof fails.
	_, _, err = fx.verify(ctx, device, issue.Challenge)
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestBiometricUnknownCredential(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	_, err := fx.svc.InitChallenge("device-ghost", "cred-ghost")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
		DeviceID:          "device-ghost",
		CredentialID:      "cred-ghost",
		Challenge:         "anything",
		Signature:         fx.sign("anything"),
		DeviceFingerprint: "fp-ghost",
	}, "203.0.113.10")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// The attempt is audited without naming a device or user.
	require.NotEmpty(t, fx.audit.attempts)
	last := fx.audit.attempts[len(fx.audit.attempts)-1]
	assert.False(t, last.Success)
	assert.Empty(t, last.DeviceID)
	assert.Empty(t, last.UserID)
}

func TestBiometricMismatchedDevicePair(t *testing.T) {
	fx := newBiometricFixture(t)

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	// A real credential paired with the wrong device ID is denied the same
	// way as an unknown credential.
	_, err = fx.svc.InitChallenge("device-other", device.CredentialID)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBiometricChallengeMismatchCountsFailure(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	_, err = fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	_, _, err = fx.verify(ctx, device, "not-the-issued-challenge")
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	stored, err := fx.devices.Get("user-1", device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
}

func TestBiometricExpiredChallengeCountsFailure(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	// Force the challenge into the past.
	expired := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, fx.devices.SetChallenge("user-1", device.DeviceID, issue.Challenge, expired))

	_, _, err = fx.verify(ctx, device, issue.Challenge)
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	// A dead challenge costs an attempt like any other failed proof.
	stored, err := fx.devices.Get("user-1", device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
}

func TestBiometricFingerprintMismatch(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	_, _, err = fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
		DeviceID:          device.DeviceID,
		CredentialID:      device.CredentialID,
		Challenge:         issue.Challenge,
		Signature:         fx.sign(issue.Challenge),
		DeviceFingerprint: "fp-spoofed",
	}, "203.0.113.10")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// Treated exactly like a wrong challenge: counted and consumed.
	stored, err := fx.devices.Get("user-1", device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
	assert.Empty(t, stored.Challenge)
}

func TestBiometricBadSignatureConsumesChallenge(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	_, _, err = fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
		DeviceID:          device.DeviceID,
		CredentialID:      device.CredentialID,
		Challenge:         issue.Challenge,
		Signature:         fx.sign("some other payload"),
		DeviceFingerprint: device.DeviceFingerprint,
	}, "203.0.113.10")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// Even the correct proof is useless until a fresh challenge exists.
	_, _, err = fx.verify(ctx, device, issue.Challenge)
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestBiometricDeviceDeactivatesAtThreshold(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
		require.NoError(t, err)

		_, _, err = fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
			DeviceID:          device.DeviceID,
			CredentialID:      device.CredentialID,
			Challenge:         issue.Challenge,
			Signature:         fx.sign("wrong-" + issue.Challenge),
			DeviceFingerprint: device.DeviceFingerprint,
		}, "203.0.113.10")
		assert.ErrorIs(t, err, ErrVerificationFailed)
	}

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	_, _, err = fx.svc.VerifyChallenge(ctx, &ChallengeVerification{
		DeviceID:          device.DeviceID,
		CredentialID:      device.CredentialID,
		Challenge:         issue.Challenge,
		Signature:         fx.sign("wrong-" + issue.Challenge),
		DeviceFingerprint: device.DeviceFingerprint,
	}, "203.0.113.10")
	assert.ErrorIs(t, err, ErrDeviceLocked)

	// The deactivated device rejects everything, including new challenges.
	_, err = fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	assert.ErrorIs(t, err, ErrDeviceLocked)
}

func TestBiometricSuccessResetsFailureCount(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
		require.NoError(t, err)
		_, _, err = fx.verify(ctx, device, "not-the-issued-challenge")
		assert.ErrorIs(t, err, ErrInvalidChallenge)
	}

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)
	_, _, err = fx.verify(ctx, device, issue.Challenge)
	require.NoError(t, err)

	stored, err := fx.devices.Get("user-1", device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)
}

func TestBiometricRevokedDeviceCannotVerify(t *testing.T) {
	fx := newBiometricFixture(t)
	ctx := context.Background()

	device, err := fx.svc.Register("user-1", fx.registration("1"))
	require.NoError(t, err)

	issue, err := fx.svc.InitChallenge(device.DeviceID, device.CredentialID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Revoke("user-1", device.DeviceID))

	_, _, err = fx.verify(ctx, device, issue.Challenge)
	assert.ErrorIs(t, err, ErrDeviceLocked)
}
