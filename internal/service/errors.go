package service

import "errors"

// Sentinel errors returned by the service layer. Handlers map these onto
// HTTP status codes; messages stay generic so responses never leak whether
// an account or code exists.
var (
	ErrValidation          = errors.New("invalid input")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account temporarily locked")
	ErrRateLimited         = errors.New("too many requests")
	ErrOTPNotFound         = errors.New("no pending verification code")
	ErrOTPInvalid          = errors.New("verification code is incorrect")
	ErrOTPAttemptsExceeded = errors.New("verification attempts exhausted")
	ErrConflict            = errors.New("resource already exists")
	ErrForbidden           = errors.New("operation not permitted")
	ErrNotFound            = errors.New("resource not found")
	ErrLimitExceeded       = errors.New("device limit reached")
	ErrInvalidChallenge    = errors.New("challenge missing or expired")
	ErrVerificationFailed  = errors.New("signature verification failed")
	ErrDeviceLocked        = errors.New("device deactivated after repeated failures")
	ErrInvalidRefreshToken = errors.New("refresh token invalid or already used")
	ErrInternal            = errors.New("internal error")
)
