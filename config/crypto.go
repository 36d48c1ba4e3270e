package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// encryptedPrefix marks a config value (typically an Authentication
// Password field, spec.md §6) as encrypted at rest. Values without the
// prefix are returned as-is by DecryptValue.
const encryptedPrefix = "enc:"

// EncryptValue encrypts plaintext with key (must be
// chacha20poly1305.KeySize bytes) and returns a value suitable for
// storage in a config file's Password field.
func EncryptValue(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("config: building cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("config: generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue. Values not carrying the
// encryptedPrefix are returned unchanged, so a config source can mix
// plaintext and encrypted values across sections during migration.
func DecryptValue(key []byte, stored string) (string, error) {
	if len(stored) < len(encryptedPrefix) || stored[:len(encryptedPrefix)] != encryptedPrefix {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("config: decoding encrypted value: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("config: building cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("config: encrypted value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("config: decrypting value: %w", err)
	}
	return string(plain), nil
}
