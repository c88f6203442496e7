package security

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromSecrets(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	key, err := KeyFromSecrets(base64.StdEncoding.EncodeToString(raw), "ignored")
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	key, err = KeyFromSecrets("", "jwt-secret")
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("jwt-secret"))
	assert.Equal(t, sum[:], key)

	_, err = KeyFromSecrets(base64.StdEncoding.EncodeToString([]byte("short")), "")
	assert.Error(t, err)

	_, err = KeyFromSecrets("", "")
	assert.Error(t, err)
}

func TestFieldCipher(t *testing.T) {
	key, err := KeyFromSecrets("", "jwt-secret")
	require.NoError(t, err)
	c, err := NewFieldCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("0812345678")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "0812345678")

	again, err := c.Encrypt("0812345678")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "0812345678", plain)

	empty, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = c.Decrypt("bm9wZQ==")
	assert.Error(t, err)
}
