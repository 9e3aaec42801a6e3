package models

import "time"

// Device platform values accepted at registration.
const (
	DevicePlatformIOS     = "ios"
	DevicePlatformAndroid = "android"
)

// BiometricDevice is a registered device credential owned by exactly one user.
// At most one live challenge exists per device; issuing a new one overwrites
// any unconsumed predecessor.
type BiometricDevice struct {
	UserBucket        int        `db:"user_bucket"`
	UserID            string     `db:"user_id"`
	DeviceID          string     `db:"device_id"`
	DeviceName        string     `db:"device_name"`
	DeviceType        string     `db:"device_type"`
	PublicKey         string     `db:"public_key"`
	CredentialID      string     `db:"credential_id"`
	DeviceFingerprint string     `db:"device_fingerprint"`
	IsActive          bool       `db:"is_active"`
	IsTrusted         bool       `db:"is_trusted"`
	FailedAttempts    int        `db:"failed_attempts"`
	MaxFailedAttempts int        `db:"max_failed_attempts"`
	Challenge         string     `db:"challenge"`
	ChallengeExpires  *time.Time `db:"challenge_expires"`
	LastUsedAt        *time.Time `db:"last_used_at"`
	LastVerifiedAt    *time.Time `db:"last_verified_at"`
	LastSourceAddr    string     `db:"last_source_addr"`
	ExpiresAt         *time.Time `db:"expires_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         *time.Time `db:"updated_at"`
}

// IsLocked reports whether failed attempts reached the device threshold.
func (d *BiometricDevice) IsLocked() bool {
	return d.FailedAttempts >= d.MaxFailedAttempts
}

// IsExpired reports whether the credential passed its optional expiry.
func (d *BiometricDevice) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// HasLiveChallenge reports whether an unconsumed, unexpired challenge exists.
func (d *BiometricDevice) HasLiveChallenge(now time.Time) bool {
	return d.Challenge != "" && d.ChallengeExpires != nil && now.Before(*d.ChallengeExpires)
}
