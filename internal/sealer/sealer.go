// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package sealer provides AES-256-GCM authenticated encryption producing
// opaque, URL-safe strings.
//
// The wire form is base64url(nonce ‖ ciphertext ‖ tag) without padding.
// The 96-bit nonce is drawn from the secure random source on every call and
// is never supplied by the caller.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"

	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/secrand"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrDecryptionFailed is the only error Decrypt returns. Malformed encoding,
// truncated input and authentication failure are deliberately indistinguishable.
var ErrDecryptionFailed = errors.New("decryption failed")

func decryptionFailed() error {
	return oops.Code("SEALER_DECRYPTION_FAILED").Wrap(ErrDecryptionFailed)
}

var encoding = base64.RawURLEncoding

// Cipher seals and opens messages under a single fixed key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher. key must be exactly KeySize bytes.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, oops.Code("SEALER_INVALID_KEY").
			With("key_len", len(key)).
			Errorf("key must be %d bytes", KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Code("SEALER_INVALID_KEY").Wrap(err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, oops.Code("SEALER_INVALID_KEY").Wrap(err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh nonce.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	return c.EncryptWithAD(plaintext, nil)
}

// EncryptWithAD seals plaintext and authenticates additionalData alongside it.
// The same additionalData must be supplied to DecryptWithAD.
func (c *Cipher) EncryptWithAD(plaintext, additionalData []byte) (string, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if err := secrand.Read(out); err != nil {
		return "", oops.Code("SEALER_ENCRYPT_FAILED").Wrap(err)
	}

	out = c.aead.Seal(out, out[:NonceSize], plaintext, additionalData)
	return encoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	return c.DecryptWithAD(blob, nil)
}

// DecryptWithAD opens a blob produced by EncryptWithAD with the same additionalData.
func (c *Cipher) DecryptWithAD(blob string, additionalData []byte) ([]byte, error) {
	raw, err := encoding.DecodeString(blob)
	if err != nil || len(raw) < NonceSize+TagSize {
		return nil, decryptionFailed()
	}

	plaintext, err := c.aead.Open(nil, raw[:NonceSize], raw[NonceSize:], additionalData)
	if err != nil {
		return nil, decryptionFailed()
	}
	return plaintext, nil
}
