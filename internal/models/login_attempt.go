package models

import "time"

// LoginAttempt is an immutable audit row for a password/OTP login attempt.
// Rows are only ever inserted.
type LoginAttempt struct {
	AttemptID     string    `db:"attempt_id"`
	EventBucket   int       `db:"event_bucket"`
	Username      string    `db:"username"`
	UserID        string    `db:"user_id"`
	SourceAddress string    `db:"source_address"`
	Success       bool      `db:"success"`
	FailureReason string    `db:"failure_reason"`
	AttemptedAt   time.Time `db:"attempted_at"`
}

// BiometricLoginAttempt is an immutable audit row for a challenge-response
// verification call. Device and user references are empty when lookup failed.
type BiometricLoginAttempt struct {
	AttemptID     string    `db:"attempt_id"`
	EventBucket   int       `db:"event_bucket"`
	DeviceID      string    `db:"device_id"`
	UserID        string    `db:"user_id"`
	SourceAddress string    `db:"source_address"`
	Success       bool      `db:"success"`
	FailureReason string    `db:"failure_reason"`
	AttemptedAt   time.Time `db:"attempted_at"`
}
