package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/service"
)

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrValidation, http.StatusBadRequest},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrOTPInvalid, http.StatusUnauthorized},
		{service.ErrOTPNotFound, http.StatusUnauthorized},
		{service.ErrInvalidRefreshToken, http.StatusUnauthorized},
		{service.ErrInvalidChallenge, http.StatusUnauthorized},
		{service.ErrVerificationFailed, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrDeviceLocked, http.StatusForbidden},
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrConflict, http.StatusConflict},
		{service.ErrAccountLocked, http.StatusLocked},
		{service.ErrOTPAttemptsExceeded, http.StatusLocked},
		{service.ErrRateLimited, http.StatusTooManyRequests},
		{service.ErrLimitExceeded, http.StatusUnprocessableEntity},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, getStatusCode(tt.err))
		})
	}
}

func TestGetStatusCodeUnwrapsErrors(t *testing.T) {
	wrapped := fmt.Errorf("%w: username is required", service.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, getStatusCode(wrapped))

	doubly := fmt.Errorf("handler: %w", wrapped)
	assert.Equal(t, http.StatusBadRequest, getStatusCode(doubly))
}

func TestResponseEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithJSON(rec, http.StatusOK, successResponse(map[string]interface{}{"verified": true}, "Code verified"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Code verified", resp.Message)
	assert.Empty(t, resp.Error)
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithError(rec, http.StatusLocked, service.ErrAccountLocked, "Login failed")

	assert.Equal(t, http.StatusLocked, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, service.ErrAccountLocked.Error(), resp.Error)
	assert.Equal(t, "Login failed", resp.Message)
	assert.Nil(t, resp.Data)
}
