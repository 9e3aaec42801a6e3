package service

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "waste-auth-service/internal/repository/redis"
)

func newGuard(t *testing.T) (*GuardService, *miniredis.Miniredis) {
	t.Helper()
	mr, rc := newServiceRedis(t)
	guard := NewGuardService(
		redisrepo.NewLockoutCache(rc),
		redisrepo.NewRateLimitCache(rc),
		testEmitter(),
		serviceTestConfig(),
	)
	return guard, mr
}

func TestGuardLockoutAfterThreshold(t *testing.T) {
	guard, _ := newGuard(t)

	for i := 0; i < 4; i++ {
		locked, err := guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
		assert.False(t, locked)
	}

	locked, err := guard.RecordFailure("resident01", "203.0.113.10")
	require.NoError(t, err)
	assert.True(t, locked)

	err = guard.CheckLoginAllowed("resident01", "203.0.113.10")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestGuardSuccessResetsFailures(t *testing.T) {
	guard, _ := newGuard(t)

	for i := 0; i < 4; i++ {
		_, err := guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
	}

	require.NoError(t, guard.RecordSuccess("resident01", "203.0.113.10"))

	// The counter starts over, so four more failures do not lock.
	for i := 0; i < 4; i++ {
		locked, err := guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
		assert.False(t, locked)
	}
}

func TestGuardLockExpires(t *testing.T) {
	guard, mr := newGuard(t)

	for i := 0; i < 5; i++ {
		_, err := guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
	}

	locked, ttl, err := guard.IsLocked("resident01")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, 30*time.Minute, ttl)

	mr.FastForward(31 * time.Minute)

	locked, _, err = guard.IsLocked("resident01")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestGuardAdminUnlock(t *testing.T) {
	guard, _ := newGuard(t)

	for i := 0; i < 5; i++ {
		_, err := guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
	}
	require.ErrorIs(t, guard.CheckLoginAllowed("resident01", "203.0.113.10"), ErrAccountLocked)

	require.NoError(t, guard.Unlock("resident01", "admin-7"))

	assert.NoError(t, guard.CheckLoginAllowed("resident01", "203.0.113.10"))
}

func TestGuardLoginRateLimit(t *testing.T) {
	guard, _ := newGuard(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, guard.CheckLoginAllowed("resident01", "203.0.113.10"))
	}

	err := guard.CheckLoginAllowed("resident01", "203.0.113.10")
	assert.ErrorIs(t, err, ErrRateLimited)

	// Another source address still has its own budget.
	assert.NoError(t, guard.CheckLoginAllowed("resident01", "203.0.113.11"))
}

func TestGuardBiometricRateLimit(t *testing.T) {
	guard, _ := newGuard(t)

	for i := 0; i < 15; i++ {
		require.NoError(t, guard.CheckBiometricAllowed("203.0.113.10"))
	}

	err := guard.CheckBiometricAllowed("203.0.113.10")
	assert.ErrorIs(t, err, ErrRateLimited)
}
