// Package crypto seals retention archive lines with AES-256-GCM. Each JSON line is replaced
// by its base64url ciphertext, so sealed archives stay line-oriented and can be decrypted
// one entry at a time.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// SealedSuffix is appended to the name of every archive written through a LineCipher.
const SealedSuffix = ".sealed"

// pbkdf2Iterations is applied when a key is derived from a passphrase.
const pbkdf2Iterations = 210000

var (
	// ErrKeyLengthInvalid is returned when a key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when a line is not valid base64 or is shorter than a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when GCM authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when a derivation salt is shorter than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
	// ErrAmbiguousKey is returned when both a raw key and a passphrase are configured.
	ErrAmbiguousKey = errors.New("crypto: configure either a key or a passphrase, not both")
)

// LineCipher seals and opens single archive lines.
type LineCipher struct {
	aead cipher.AEAD
}

// NewLineCipher creates a cipher from a 32-byte key.
func NewLineCipher(key []byte) (*LineCipher, error) {
	if len(key) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &LineCipher{aead: aead}, nil
}

// DeriveLineCipher derives the key from a passphrase with PBKDF2-SHA256.
func DeriveLineCipher(passphrase string, salt []byte) (*LineCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	return NewLineCipher(pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New))
}

// FromSettings builds the archive cipher from configuration values. key is base64 (standard
// encoding) of 32 bytes. A nil cipher and nil error mean encryption is off.
func FromSettings(key, passphrase, salt string) (*LineCipher, error) {
	switch {
	case key != "" && passphrase != "":
		return nil, ErrAmbiguousKey
	case key != "":
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, ErrKeyLengthInvalid
		}
		return NewLineCipher(raw)
	case passphrase != "":
		return DeriveLineCipher(passphrase, []byte(salt))
	default:
		return nil, nil
	}
}

// Seal encrypts one line. The result is base64url and never contains a newline.
func (lc *LineCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, lc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := lc.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.URLEncoding.EncodedLen(len(sealed)))
	base64.URLEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func (lc *LineCipher) Open(line []byte) ([]byte, error) {
	sealed := make([]byte, base64.URLEncoding.DecodedLen(len(line)))
	n, err := base64.URLEncoding.Decode(sealed, line)
	if err != nil {
		return nil, ErrCiphertextCorrupted
	}
	sealed = sealed[:n]

	nonceLen := lc.aead.NonceSize()
	if len(sealed) < nonceLen {
		return nil, ErrCiphertextCorrupted
	}
	plaintext, err := lc.aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey returns a random 32-byte key, base64 encoded for configuration files.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
