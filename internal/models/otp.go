package models

import "time"

// OTP channels and purposes. A record is keyed by (channel, purpose,
// normalized identifier); at most one live record exists per key.
const (
	OTPChannelSMS   = "sms"
	OTPChannelEmail = "email"

	OTPPurposeVerification  = "verification"
	OTPPurposePasswordReset = "password_reset"
	OTPPurposeGeneric       = "generic"
)

// OTPRecord is the JSON payload stored in the keyed store. The code itself is
// never stored; only its argon2 hash. Expiry is enforced by the store TTL and
// the attempt count lives in a companion counter key so increments stay atomic.
type OTPRecord struct {
	CodeHash      string    `json:"code_hash"`
	CodeSalt      string    `json:"code_salt"`
	HashAlgorithm string    `json:"hash_algorithm"`
	PepperVersion int       `json:"pepper_version"`
	Channel       string    `json:"channel"`
	Purpose       string    `json:"purpose"`
	CreatedAt     time.Time `json:"created_at"`
}
