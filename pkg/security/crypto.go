package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// FieldCipher encrypts single string fields at rest with AES-GCM.
// Ciphertexts are base64(nonce || sealed).
type FieldCipher struct {
	gcm cipher.AEAD
}

// KeyFromSecrets returns a 32-byte key.
// Priority:
// 1) encKey (base64-encoded 32 bytes, FIELD_ENC_KEY)
// 2) sha256 of the JWT secret
func KeyFromSecrets(encKey, jwtSecret string) ([]byte, error) {
	if v := strings.TrimSpace(encKey); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}
		if len(b) != 32 {
			return nil, errors.New("FIELD_ENC_KEY must decode to 32 bytes")
		}
		return b, nil
	}
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, errors.New("no key material: set FIELD_ENC_KEY or JWT_SECRET")
	}
	sum := sha256.Sum256([]byte(jwtSecret))
	return sum[:], nil
}

// NewFieldCipher builds a cipher from a 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt seals plaintext. The empty string stays empty.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *FieldCipher) Decrypt(ciphertextB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}
	payload, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}

	ns := c.gcm.NonceSize()
	if len(payload) < ns {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := payload[:ns], payload[ns:]

	pt, err := c.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
