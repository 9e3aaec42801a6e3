package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}
}

func TestHashAndVerifyOTP(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashOTP("482913")
	require.NoError(t, err)
	require.NotEmpty(t, result.Hash)
	require.NotEmpty(t, result.Salt)
	assert.Equal(t, "argon2id-v1", result.Algorithm)

	ok, err := h.VerifyOTP("482913", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyOTP("482914", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("correct horse battery staple", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong password", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContextSeparation(t *testing.T) {
	h := NewHasher(testConfig())

	// The same input hashed as an OTP must not verify as a password.
	result, err := h.HashOTP("123456")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("123456", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := NewHasher(testConfig())

	a, err := h.HashOTP("123456")
	require.NoError(t, err)
	b, err := h.HashOTP("123456")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Salt, b.Salt)
}

func TestUnknownPepperVersion(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashOTP("123456")
	require.NoError(t, err)

	result.PepperVersion = 99
	_, err = h.VerifyOTP("123456", result)
	assert.Error(t, err)
}
