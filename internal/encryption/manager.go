package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchant-verification/internal/config"
	"merchant-verification/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	envelopeVersion = "v1"

	// maxCachedKeys bounds the decrypt-side DEK cache.
	maxCachedKeys = 256

	selfTestField = "self_test"
)

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Field          string    `json:"field"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncryptionManager encrypts sensitive document fields with a fresh data key
// per value. With KMS disabled the data key travels base64-encoded next to
// the ciphertext, so the envelope offers no protection; the factory refuses
// that mode in production.
type EncryptionManager struct {
	kmsClient KMSAPI
	config    config.KMSConfig

	mu       sync.Mutex
	keyCache map[string][]byte // encrypted DEK -> plaintext DEK
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg config.KMSConfig, kmsClient KMSAPI) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
		keyCache:  make(map[string][]byte),
	}
}

func (em *EncryptionManager) kmsEnabled() bool {
	return em.config.Enabled && em.kmsClient != nil
}

// GenerateDataKey generates a new data encryption key using KMS
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.kmsEnabled() {
		return generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.config.KeyID,
	}, nil
}

func generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      "local-" + uuid.New().String(),
	}, nil
}

// EncryptField encrypts a sensitive field using envelope encryption
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, field string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	// The field name is bound as additional data so a ciphertext cannot be
	// replayed into another column.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(field))

	// Every value gets its own DEK, so caching it here would only grow the
	// cache by one entry per document.
	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)

	util.Debug("Field encrypted", zap.String("field", field), zap.String("key_id", dataKey.KeyID))

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encryptedDEK,
		KeyID:          dataKey.KeyID,
		Field:          field,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField decrypts an envelope produced by EncryptField
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := em.cachedKey(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, data.Field, cached)
	}

	blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if em.kmsEnabled() {
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		plaintextDEK, err = base64.StdEncoding.DecodeString(string(blob))
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	em.cacheKey(data.EncryptedDEK, plaintextDEK)

	return decryptWithKey(data.EncryptedValue, data.Field, plaintextDEK)
}

// EncryptString returns the envelope serialised as JSON, ready to be stored
// in a single text column.
func (em *EncryptionManager) EncryptString(ctx context.Context, plaintext, field string) (string, error) {
	data, err := em.EncryptField(ctx, plaintext, field)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(raw), nil
}

func (em *EncryptionManager) DecryptString(ctx context.Context, envelope string) (string, error) {
	var data EncryptedData
	if err := json.Unmarshal([]byte(envelope), &data); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrDecryptionFailed, data.Version)
	}
	return em.DecryptField(ctx, &data)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decryptWithKey(encryptedValue, field string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(field))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// SelfTest round-trips a canary value through the configured key path, so
// a missing KMS grant fails at startup rather than on the first upload.
func (em *EncryptionManager) SelfTest(ctx context.Context) error {
	canary := uuid.NewString()
	envelope, err := em.EncryptString(ctx, canary, selfTestField)
	if err != nil {
		return err
	}
	plain, err := em.DecryptString(ctx, envelope)
	if err != nil {
		return err
	}
	if plain != canary {
		return fmt.Errorf("%w: self-test value mismatch", ErrDecryptionFailed)
	}
	return nil
}

func (em *EncryptionManager) cachedKey(encryptedDEK string) ([]byte, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	key, ok := em.keyCache[encryptedDEK]
	return key, ok
}

func (em *EncryptionManager) cacheKey(encryptedDEK string, key []byte) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if _, ok := em.keyCache[encryptedDEK]; !ok && len(em.keyCache) >= maxCachedKeys {
		for k := range em.keyCache {
			delete(em.keyCache, k)
			break
		}
	}
	em.keyCache[encryptedDEK] = key
}

func (em *EncryptionManager) cacheSize() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.keyCache)
}

// ClearCache drops every cached DEK
func (em *EncryptionManager) ClearCache() {
	em.mu.Lock()
	defer em.mu.Unlock()
	clear(em.keyCache)
}
