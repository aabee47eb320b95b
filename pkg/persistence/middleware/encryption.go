package middleware

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

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// envelopeKey marks the Results entry that carries the ciphertext in an
// encrypted archive record.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new records. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are old keys tried in order when the active key cannot
	// decrypt a record. This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionStore struct {
	next   ports.ArchiveStore
	config EncryptionConfig
}

// NewEncryptionMiddleware wraps an archive with AES-GCM envelope encryption.
// The stored record keeps only its ID, status, and timestamps in the clear;
// goal, tasks, results, and the full ledger live inside the envelope.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.ArchiveStore) ports.ArchiveStore {
		return &encryptionStore{next: next, config: config}
	}
}

func (s *encryptionStore) Save(ctx context.Context, record *domain.RunRecord) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	ciphertext, err := encrypt(plaintext, s.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("encrypt run record: %w", err)
	}

	// The envelope keeps just enough in the clear for listing and
	// monitoring. Everything task-derived is inside the ciphertext.
	envelope := &domain.RunRecord{
		ID:         record.ID,
		Status:     record.Status,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
		Results: map[string]string{
			envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
		},
	}
	return s.next.Save(ctx, envelope)
}

func (s *encryptionStore) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	envelope, err := s.next.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelope.Results[envelopeKey]
	if !ok {
		// A record without an envelope was written before encryption was
		// enabled. Failing is the secure choice over guessing.
		return nil, errors.New("archived record is missing its encryption envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode record envelope: %w", err)
	}

	plaintext, err := decryptWithRotation(ciphertext, s.config.ActiveKey, s.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("decrypt run record %s: %w", runID, err)
	}

	var record domain.RunRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted record: %w", err)
	}
	return &record, nil
}

func (s *encryptionStore) List(ctx context.Context) ([]string, error) {
	return s.next.List(ctx)
}

func (s *encryptionStore) Delete(ctx context.Context, runID string) error {
	return s.next.Delete(ctx, runID)
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
