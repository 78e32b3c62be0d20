package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptSecret("", "hunter2")
	assert.Error(t, err)

	_, err = EncryptSecret("key", "")
	assert.Error(t, err)
}

func TestLoadAPIKey(t *testing.T) {
	// Raw key takes precedence.
	key, err := LoadAPIKey(SecretConfig{RawKey: "dev-key"})
	require.NoError(t, err)
	assert.Equal(t, "dev-key", key)

	// Encrypted file path.
	blob, err := EncryptSecret("prod-key", "hunter2")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "apikey.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err = LoadAPIKey(SecretConfig{EncryptedKeyPath: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "prod-key", key)

	// Nothing configured disables auth.
	key, err = LoadAPIKey(SecretConfig{})
	require.NoError(t, err)
	assert.Empty(t, key)
}
