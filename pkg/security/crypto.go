// Package security holds the server-side master key used to encrypt
// private profile fields at rest. Ciphertext is nonce|ciphertext using
// AES-256-GCM.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"sync"
)

var (
	keyMu sync.RWMutex
	key   []byte
)

// SetKeyHex sets the AES-256 master key from a hex string. An empty
// string clears it.
func SetKeyHex(hexKey string) error {
	if hexKey == "" {
		keyMu.Lock()
		key = nil
		keyMu.Unlock()
		return nil
	}
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return errors.New("encryption key must be 32 bytes (AES-256)")
	}
	keyMu.Lock()
	key = b
	keyMu.Unlock()
	return nil
}

// Enabled reports whether a master key is configured.
func Enabled() bool {
	keyMu.RLock()
	defer keyMu.RUnlock()
	return len(key) == 32
}

// Encrypt returns nonce|ciphertext using AES-256-GCM.
func Encrypt(plaintext []byte) ([]byte, error) {
	keyMu.RLock()
	k := key
	keyMu.RUnlock()
	if len(k) != 32 {
		return nil, errors.New("encryption key not configured")
	}
	block, err := aes.NewCipher(k)
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
	out := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, out...), nil
}

// Decrypt reverses Encrypt.
func Decrypt(data []byte) ([]byte, error) {
	keyMu.RLock()
	k := key
	keyMu.RUnlock()
	if len(k) != 32 {
		return nil, errors.New("encryption key not configured")
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
