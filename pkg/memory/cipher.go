// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// Cipher seals log records. Ciphertexts are opaque strings.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

const (
	// KDFIterations is the PBKDF2-SHA256 work factor.
	KDFIterations = 210_000
	saltSize      = 16
)

// XChaCha seals records with XChaCha20-Poly1305. Each ciphertext is the
// base64 of a random 24 byte nonce followed by the sealed box.
type XChaCha struct {
	key []byte
}

// NewXChaCha derives the key from passphrase and salt.
func NewXChaCha(passphrase string, salt []byte) (*XChaCha, error) {
	if passphrase == "" {
		return nil, errors.New(errors.CodeInvalidInput, "memory passphrase is empty", nil)
	}
	if len(salt) < saltSize {
		return nil, errors.New(errors.CodeInvalidInput, "memory salt is too short", nil)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, KDFIterations, chacha20poly1305.KeySize, sha256.New)
	return &XChaCha{key: key}, nil
}

// LoadOrCreateSalt reads the salt file at path, creating it on first use.
func LoadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) >= saltSize {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.New(errors.CodeMemoryError, "read salt", err).WithContext("path", path)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.New(errors.CodeInternal, "generate salt", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "create memory dir", err)
	}
	if err := fsutil.WriteAtomic(path, salt, 0o600); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "write salt", err).WithContext("path", path)
	}
	return salt, nil
}

// Encrypt implements Cipher.
func (c *XChaCha) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "init cipher", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.New(errors.CodeInternal, "generate nonce", err)
	}
	return base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt implements Cipher.
func (c *XChaCha) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "ciphertext is not base64", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "init cipher", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New(errors.CodeMemoryError, "ciphertext is truncated", nil)
	}
	nonce, box := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "record cannot be decrypted with this passphrase", err)
	}
	return plain, nil
}

var _ Cipher = (*XChaCha)(nil)
