package configuration

import (
	"fmt"
	"os"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockConfig = []byte(`
---
issuer:
  discovery_url: https://issuer.example.com
client:
  client_id: s6BhdRkqt3
  client_secret: JRaofAtS5WYuwjbWgD6qA
server:
  session_secret: test-secret
`)

func TestParse(t *testing.T) {
	tempDir := t.TempDir()
	path := fmt.Sprintf("%s/test.cfg", tempDir)
	require.NoError(t, os.WriteFile(path, mockConfig, 0600))

	cfg := &Cfg{}
	require.NoError(t, defaults.Set(cfg))

	got, err := Parse(cfg, path)
	require.NoError(t, err)

	assert.Equal(t, "s6BhdRkqt3", got.Client.ClientID)
	assert.Equal(t, "code", got.Client.ResponseType)
	assert.Equal(t, "openid", got.Client.Scope)
	assert.Equal(t, "client_secret_basic", got.Client.TokenEndpointAuthMethod)
	assert.Equal(t, "RS256", got.Client.IDTokenSignedResponseAlg)
	assert.Equal(t, "https://issuer.example.com", got.Issuer.DiscoveryURL)
}

func TestParseMissingRequiredField(t *testing.T) {
	tempDir := t.TempDir()
	path := fmt.Sprintf("%s/test.cfg", tempDir)
	require.NoError(t, os.WriteFile(path, []byte("issuer:\n  discovery_url: https://issuer.example.com\n"), 0600))

	cfg := &Cfg{}
	require.NoError(t, defaults.Set(cfg))

	_, err := Parse(cfg, path)
	assert.Error(t, err)
}

func TestParseRejectsDirectory(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &Cfg{}
	require.NoError(t, defaults.Set(cfg))

	_, err := Parse(cfg, tempDir)
	assert.Error(t, err)
}
