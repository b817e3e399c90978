package jose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeECKey(t *testing.T) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ec.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0600))
	return path
}

func writeRSAKeyPKCS8(t *testing.T) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "rsa.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))
	return path
}

func TestLoadSigningKeyEC(t *testing.T) {
	path := writeECKey(t)
	key, err := LoadSigningKey(path, "ec-1")
	require.NoError(t, err)
	assert.Equal(t, "EC", key.KeyType().String())

	var kid string
	require.NoError(t, key.Get("kid", &kid))
	assert.Equal(t, "ec-1", kid)
}

func TestLoadSigningKeyRSAPKCS8(t *testing.T) {
	path := writeRSAKeyPKCS8(t)
	key, err := LoadSigningKey(path, "")
	require.NoError(t, err)
	assert.Equal(t, "RSA", key.KeyType().String())
}

func TestLoadSigningKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := LoadSigningKey(path, "")
	assert.Error(t, err)
}

func TestLoadKeySet(t *testing.T) {
	ecPath := writeECKey(t)
	rsaPath := writeRSAKeyPKCS8(t)

	set, err := LoadKeySet([]string{ecPath, rsaPath}, []string{"ec-1", "rsa-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}
