package models

import "time"

// Security event types emitted to Kafka and indexed into Elasticsearch.
const (
	EventAccountLocked      = "account_locked"
	EventAccountUnlocked    = "account_unlocked"
	EventLoginFailed        = "login_failed"
	EventLoginSucceeded     = "login_succeeded"
	EventRateLimited        = "rate_limited"
	EventOTPAttemptsExhaust = "otp_attempts_exhausted"
	EventChallengeFailed    = "biometric_challenge_failed"
	EventSignatureRejected  = "biometric_signature_rejected"
	EventDeviceLocked       = "biometric_device_locked"
	EventDeviceRevoked      = "biometric_device_revoked"
)

type SecurityEvent struct {
	EventID       string    `json:"event_id"`
	EventBucket   int       `json:"event_bucket"`
	EventType     string    `json:"event_type"`
	Username      string    `json:"username,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	EventTime     time.Time `json:"event_time"`
}
