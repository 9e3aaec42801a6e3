package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/models"
	redisrepo "waste-auth-service/internal/repository/redis"
)

func newTokenService(t *testing.T) *TokenService {
	t.Helper()
	_, rc := newServiceRedis(t)
	return NewTokenService(redisrepo.NewTokenCache(rc), serviceTestConfig())
}

func activeUser() *models.User {
	return &models.User{
		UserID:   "user-1",
		Username: "resident01",
		Status:   models.UserStatusActive,
	}
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.Issue(activeUser(), "device-1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 3600, pair.ExpiresIn)

	claims, err := svc.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "resident01", claims.Username)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "waste-auth-service", claims.Issuer)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.Issue(activeUser(), "")
	require.NoError(t, err)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, err = svc.Validate(tampered)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotation(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.Issue(activeUser(), "device-1")
	require.NoError(t, err)

	rotated, record, err := svc.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "device-1", record.DeviceID)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone; only the replacement works.
	_, _, err = svc.Refresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, _, err = svc.Refresh(rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc := newTokenService(t)

	_, _, err := svc.Refresh("never-issued")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, _, err = svc.Refresh("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRevokeInvalidatesRefreshToken(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.Issue(activeUser(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(pair.RefreshToken))

	_, _, err = svc.Refresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Revoking twice is harmless, as is revoking nothing at all.
	assert.NoError(t, svc.Revoke(pair.RefreshToken))
	assert.NoError(t, svc.Revoke(""))
}
