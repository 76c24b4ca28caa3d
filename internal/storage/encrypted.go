package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrCorrupt = errors.New("storage: sealed value cannot be opened")

// Encrypted seals every value with XChaCha20-Poly1305 before handing it to the
// underlying store. The key is derived from a device secret with HKDF; the
// storage key is bound as additional data so values cannot be swapped.
type Encrypted struct {
	inner Store
	key   []byte
}

func NewEncrypted(inner Store, secret []byte) (*Encrypted, error) {
	if len(secret) == 0 {
		return nil, errors.New("storage: empty secret")
	}
	h := hkdf.New(sha256.New, secret, nil, []byte("courier-client secret-store v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Encrypted{inner: inner, key: key}, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, ErrCorrupt
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

func (e *Encrypted) Set(ctx context.Context, key string, value []byte) error {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	return e.inner.Set(ctx, key, aead.Seal(nonce, nonce, value, []byte(key)))
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}
