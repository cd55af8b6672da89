package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
)

// envelopePrefix marks sealed turn content.
const envelopePrefix = "enc:v1:"

// ErrNotEncrypted is returned when a stored turn lacks the envelope.
var ErrNotEncrypted = errors.New("turn is missing encrypted envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey seals new turns. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a turn,
	// which allows rotating keys without dropping live logs.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.TurnStore
	config EncryptionConfig
}

// NewEncryptionMiddleware seals turn content with AES-GCM. Role and timestamp
// stay in clear so logs remain inspectable.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, fmt.Errorf("active key must be 32 bytes (AES-256), got %d", len(config.ActiveKey))
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes, got %d", i, len(k))
		}
	}
	return func(next ports.TurnStore) ports.TurnStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

// ParseKey decodes a base64 AES-256 key.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (m *encryptionMiddleware) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	sealed, err := encrypt([]byte(turn.Content), m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt turn: %w", err)
	}
	turn.Content = envelopePrefix + base64.StdEncoding.EncodeToString(sealed)
	return m.next.Append(ctx, clientID, turn)
}

func (m *encryptionMiddleware) History(ctx context.Context, clientID string) ([]domain.Turn, error) {
	turns, err := m.next.History(ctx, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		encoded, ok := strings.CutPrefix(t.Content, envelopePrefix)
		if !ok {
			return nil, fmt.Errorf("turn %d: %w", i, ErrNotEncrypted)
		}
		sealed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("turn %d: failed to decode ciphertext base64: %w", i, err)
		}
		plain, err := decryptWithRotation(sealed, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("turn %d: failed to decrypt: %w", i, err)
		}
		t.Content = string(plain)
		out[i] = t
	}
	return out, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, clientID string) error {
	return m.next.Delete(ctx, clientID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
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

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
