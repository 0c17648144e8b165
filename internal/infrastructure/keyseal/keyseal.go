// Package keyseal seals and unseals store credential blobs. Credentials are
// stored encrypted at rest; only the gateway and the webhook ingestor ever
// see the unsealed form, and the unsealed fields are never logged.
package keyseal

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/merchkit/opshub/internal/domain"
)

// Unsealer decrypts a store's credential blob.
type Unsealer interface {
	Unseal(ctx context.Context, blob []byte) (*domain.Credentials, error)
}

// Sealer encrypts credentials for storage.
type Sealer interface {
	Seal(ctx context.Context, creds *domain.Credentials) ([]byte, error)
}

// AESKeeper seals credentials with AES-256-GCM. The blob layout is
// nonce || ciphertext.
type AESKeeper struct {
	aead cipher.AEAD
}

// NewAESKeeper builds a keeper from a hex-encoded 32-byte key.
func NewAESKeeper(hexKey string) (*AESKeeper, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &AESKeeper{aead: aead}, nil
}

func (k *AESKeeper) Seal(_ context.Context, creds *domain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, plain, nil), nil
}

func (k *AESKeeper) Unseal(_ context.Context, blob []byte) (*domain.Credentials, error) {
	if len(blob) < k.aead.NonceSize() {
		return nil, domain.ErrCredentialsMissing
	}

	nonce, ciphertext := blob[:k.aead.NonceSize()], blob[k.aead.NonceSize():]
	plain, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal credentials: %w", err)
	}

	var creds domain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &creds, nil
}

// PlainKeeper stores credentials as plain JSON. Development only.
type PlainKeeper struct{}

func (PlainKeeper) Seal(_ context.Context, creds *domain.Credentials) ([]byte, error) {
	return json.Marshal(creds)
}

func (PlainKeeper) Unseal(_ context.Context, blob []byte) (*domain.Credentials, error) {
	if len(blob) == 0 {
		return nil, domain.ErrCredentialsMissing
	}
	var creds domain.Credentials
	if err := json.Unmarshal(blob, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &creds, nil
}
