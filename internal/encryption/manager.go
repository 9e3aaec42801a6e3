package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

var (
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// EncryptedData is the stored form of an envelope-encrypted contact field
// (phone, email). The data key travels with the ciphertext; the key id points
// at the KMS master key that wraps it.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncryptionManager performs envelope encryption of contact fields. In
// production the data keys come from AWS KMS; in development a local random
// key keeps the code path identical without the AWS dependency at runtime.
type EncryptionManager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // keyID -> plaintext DEK
}

func NewEncryptionManager(cfg *config.Config) (*EncryptionManager, error) {
	em := &EncryptionManager{
		config: cfg,
	}

	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.KMS.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		em.kmsClient = kms.NewFromConfig(awsCfg)
		util.Info("Encryption manager initialized with KMS",
			zap.String("key_id", cfg.KMS.KeyID),
			zap.String("region", cfg.KMS.Region),
		)
	} else {
		util.Warn("Encryption manager using local keys, KMS disabled")
	}

	return em, nil
}

// GenerateDataKey returns a plaintext DEK and its wrapped form.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) ([]byte, string, string, error) {
	if em.kmsClient != nil {
		out, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   aws.String(em.config.KMS.KeyID),
			KeySpec: "AES_256",
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to generate data key: %w", err)
		}
		return out.Plaintext,
			base64.StdEncoding.EncodeToString(out.CiphertextBlob),
			em.config.KMS.KeyID,
			nil
	}
	return em.generateLocalKey()
}

func (em *EncryptionManager) generateLocalKey() ([]byte, string, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", "", fmt.Errorf("failed to generate local key: %w", err)
	}
	// Local keys are "wrapped" by identity; never use outside development.
	return key, base64.StdEncoding.EncodeToString(key), "local", nil
}

// EncryptField envelope-encrypts a single field value.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dek, encryptedDEK, keyID, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	em.keyCache.Store(encryptedDEK, dek)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encryptedDEK,
		KeyID:          keyID,
		Version:        1,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return em.decryptWithKey(cached.([]byte), data.EncryptedValue)
	}

	var dek []byte
	if em.kmsClient != nil && data.KeyID != "local" {
		blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", ErrInvalidCiphertext
		}
		out, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: blob,
			KeyId:          aws.String(data.KeyID),
		})
		if err != nil {
			return "", fmt.Errorf("failed to decrypt data key: %w", err)
		}
		dek = out.Plaintext
	} else {
		key, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", ErrInvalidCiphertext
		}
		dek = key
	}

	em.keyCache.Store(data.EncryptedDEK, dek)
	return em.decryptWithKey(dek, data.EncryptedValue)
}

func (em *EncryptionManager) decryptWithKey(dek []byte, encryptedValue string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// ClearCache drops all cached data keys.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
	util.Debug("Encryption key cache cleared")
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
