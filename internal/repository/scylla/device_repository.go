package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-auth-service/internal/bucketing"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/util"
)

var (
	ErrDeviceNotFound = errors.New("biometric device not found")
)

// BiometricDeviceRepository is the durable store for registered device
// credentials. One row per (user, device); lookup tables map credential IDs
// and device IDs back to their owning row.
type BiometricDeviceRepository interface {
	Create(device *models.BiometricDevice) error
	Update(device *models.BiometricDevice, previousCredentialID string) error
	Get(userID, deviceID string) (*models.BiometricDevice, error)
	GetByCredentialID(credentialID string) (*models.BiometricDevice, error)
	GetByDeviceID(deviceID string) (*models.BiometricDevice, error)
	ListByUser(userID string) ([]*models.BiometricDevice, error)
	CountActive(userID string) (int, error)
	SetChallenge(userID, deviceID, challenge string, expires time.Time) error
	RecordFailure(device *models.BiometricDevice) (deactivated bool, err error)
	MarkVerified(userID, deviceID, sourceAddr string, at time.Time) error
	SetActive(userID, deviceID string, active bool) error
}

type ScyllaDeviceRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewDeviceRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *ScyllaDeviceRepository {
	return &ScyllaDeviceRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *ScyllaDeviceRepository) Create(device *models.BiometricDevice) error {
	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	device.UserBucket = r.buckets.GetUserBucket(device.UserID)
	device.CreatedAt = time.Now().UTC()

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateDevice.Statement(),
		device.UserBucket, device.UserID, device.DeviceID, device.DeviceName,
		device.DeviceType, device.PublicKey, device.CredentialID,
		device.DeviceFingerprint, device.IsActive, device.IsTrusted,
		device.FailedAttempts, device.MaxFailedAttempts, device.Challenge,
		device.ChallengeExpires, device.LastUsedAt, device.LastVerifiedAt,
		device.LastSourceAddr, device.ExpiresAt, device.CreatedAt, device.UpdatedAt)

	batch.Query(r.client.Prepared.CreateCredentialLookup.Statement(),
		device.CredentialID, device.UserBucket, device.UserID, device.DeviceID)

	batch.Query(r.client.Prepared.CreateDeviceLookup.Statement(),
		device.DeviceID, device.UserBucket, device.UserID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create biometric device",
			zap.String("user_id", device.UserID),
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to create biometric device: %w", err)
	}

	util.Info("Biometric device registered",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.DeviceID),
		zap.String("device_type", device.DeviceType))
	return nil
}

// Update rewrites the registration fields of an existing row. When the
// credential ID changed, the stale lookup entry is replaced in the same
// batch.
func (r *ScyllaDeviceRepository) Update(device *models.BiometricDevice, previousCredentialID string) error {
	bucket := r.buckets.GetUserBucket(device.UserID)
	now := time.Now().UTC()
	device.UpdatedAt = &now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.UpdateDeviceRegistration.Statement(),
		device.DeviceName, device.DeviceType, device.PublicKey, device.CredentialID,
		device.DeviceFingerprint, device.IsActive, device.FailedAttempts,
		device.Challenge, device.ChallengeExpires, device.UpdatedAt,
		bucket, device.UserID, device.DeviceID)

	if previousCredentialID != "" && previousCredentialID != device.CredentialID {
		batch.Query(r.client.Prepared.DeleteCredentialLookup.Statement(),
			previousCredentialID)
		batch.Query(r.client.Prepared.CreateCredentialLookup.Statement(),
			device.CredentialID, bucket, device.UserID, device.DeviceID)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to update biometric device",
			zap.String("user_id", device.UserID),
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to update biometric device: %w", err)
	}

	util.Info("Biometric device registration updated",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.DeviceID))
	return nil
}

func (r *ScyllaDeviceRepository) Get(userID, deviceID string) (*models.BiometricDevice, error) {
	bucket := r.buckets.GetUserBucket(userID)
	return r.get(bucket, userID, deviceID)
}

func (r *ScyllaDeviceRepository) get(bucket int, userID, deviceID string) (*models.BiometricDevice, error) {
	device := &models.BiometricDevice{}

	query := r.client.Prepared.GetDevice.Bind(bucket, userID, deviceID)

	err := r.client.ScanWithRetry(query, r.scanDest(device)...)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrDeviceNotFound
		}
		util.Error("Failed to get biometric device",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get biometric device: %w", err)
	}

	return device, nil
}

func (r *ScyllaDeviceRepository) GetByCredentialID(credentialID string) (*models.BiometricDevice, error) {
	var bucket int
	var userID, deviceID string

	query := r.client.Prepared.GetCredentialLookup.Bind(credentialID)
	if err := r.client.ScanWithRetry(query, &bucket, &userID, &deviceID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrDeviceNotFound
		}
		util.Error("Failed to resolve credential ID",
			zap.String("credential_id", credentialID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve credential ID: %w", err)
	}

	return r.get(bucket, userID, deviceID)
}

func (r *ScyllaDeviceRepository) GetByDeviceID(deviceID string) (*models.BiometricDevice, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetDeviceLookup.Bind(deviceID)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrDeviceNotFound
		}
		util.Error("Failed to resolve device ID",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve device ID: %w", err)
	}

	return r.get(bucket, userID, deviceID)
}

func (r *ScyllaDeviceRepository) ListByUser(userID string) ([]*models.BiometricDevice, error) {
	bucket := r.buckets.GetUserBucket(userID)

	iter := r.client.Prepared.GetDevicesByUser.Bind(bucket, userID).Iter()

	var devices []*models.BiometricDevice
	for {
		device := &models.BiometricDevice{}
		if !iter.Scan(r.scanDest(device)...) {
			break
		}
		devices = append(devices, device)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list biometric devices",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list biometric devices: %w", err)
	}

	return devices, nil
}

func (r *ScyllaDeviceRepository) CountActive(userID string) (int, error) {
	devices, err := r.ListByUser(userID)
	if err != nil {
		return 0, err
	}

	count := 0
	now := time.Now().UTC()
	for _, d := range devices {
		if d.IsActive && !d.IsExpired(now) {
			count++
		}
	}
	return count, nil
}

func (r *ScyllaDeviceRepository) SetChallenge(userID, deviceID, challenge string, expires time.Time) error {
	bucket := r.buckets.GetUserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateDeviceChallenge.Bind(
		challenge, expires, now, bucket, userID, deviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to set device challenge",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to set device challenge: %w", err)
	}

	return nil
}

// RecordFailure increments the failure count on the row and deactivates the
// device once the threshold is reached. Returns whether the device was
// deactivated by this failure.
func (r *ScyllaDeviceRepository) RecordFailure(device *models.BiometricDevice) (bool, error) {
	bucket := r.buckets.GetUserBucket(device.UserID)
	now := time.Now().UTC()

	failures := device.FailedAttempts + 1
	active := device.IsActive
	deactivated := false
	if failures >= device.MaxFailedAttempts {
		active = false
		deactivated = true
	}

	query := r.client.Prepared.UpdateDeviceFailures.Bind(
		failures, active, now, bucket, device.UserID, device.DeviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to record device failure",
			zap.String("user_id", device.UserID),
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
		return false, fmt.Errorf("failed to record device failure: %w", err)
	}

	device.FailedAttempts = failures
	device.IsActive = active

	if deactivated {
		util.Warn("Biometric device deactivated after repeated failures",
			zap.String("user_id", device.UserID),
			zap.String("device_id", device.DeviceID),
			zap.Int("failed_attempts", failures))
	}

	return deactivated, nil
}

// MarkVerified clears the consumed challenge, resets the failure count, and
// stamps the verification.
func (r *ScyllaDeviceRepository) MarkVerified(userID, deviceID, sourceAddr string, at time.Time) error {
	bucket := r.buckets.GetUserBucket(userID)

	query := r.client.Prepared.UpdateDeviceVerified.Bind(
		0, "", nil, at, at, sourceAddr, at, bucket, userID, deviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to mark device verified",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to mark device verified: %w", err)
	}

	return nil
}

func (r *ScyllaDeviceRepository) SetActive(userID, deviceID string, active bool) error {
	bucket := r.buckets.GetUserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateDeviceActive.Bind(active, now, bucket, userID, deviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update device active flag",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Bool("active", active),
			zap.Error(err))
		return fmt.Errorf("failed to update device active flag: %w", err)
	}

	util.Info("Biometric device active flag updated",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Bool("active", active))
	return nil
}

func (r *ScyllaDeviceRepository) scanDest(d *models.BiometricDevice) []interface{} {
	return []interface{}{
		&d.UserBucket, &d.UserID, &d.DeviceID, &d.DeviceName, &d.DeviceType,
		&d.PublicKey, &d.CredentialID, &d.DeviceFingerprint, &d.IsActive,
		&d.IsTrusted, &d.FailedAttempts, &d.MaxFailedAttempts, &d.Challenge,
		&d.ChallengeExpires, &d.LastUsedAt, &d.LastVerifiedAt,
		&d.LastSourceAddr, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt,
	}
}
