package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/config"
)

func newLocalManager(t *testing.T) *EncryptionManager {
	t.Helper()
	em, err := NewEncryptionManager(&config.Config{
		KMS: config.KMSConfig{Enabled: false},
	})
	require.NoError(t, err)
	return em
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	enc, err := em.EncryptField(ctx, "+66812345678")
	require.NoError(t, err)
	require.NotEmpty(t, enc.EncryptedValue)
	require.NotEmpty(t, enc.EncryptedDEK)
	assert.Equal(t, "local", enc.KeyID)
	assert.NotContains(t, enc.EncryptedValue, "+66812345678")

	plain, err := em.DecryptField(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, "+66812345678", plain)
}

func TestDecryptAfterCacheClear(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	enc, err := em.EncryptField(ctx, "+66812345678")
	require.NoError(t, err)

	em.ClearCache()
	assert.Equal(t, 0, em.GetCacheSize())

	plain, err := em.DecryptField(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, "+66812345678", plain)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	enc, err := em.EncryptField(ctx, "+66812345678")
	require.NoError(t, err)

	enc.EncryptedValue = enc.EncryptedValue[:len(enc.EncryptedValue)-2] + "xx"
	_, err = em.DecryptField(ctx, enc)
	assert.Error(t, err)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	a, err := em.EncryptField(ctx, "+66812345678")
	require.NoError(t, err)
	b, err := em.EncryptField(ctx, "+66812345678")
	require.NoError(t, err)

	assert.NotEqual(t, a.EncryptedValue, b.EncryptedValue)
}
