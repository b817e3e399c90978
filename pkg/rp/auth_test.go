package rp

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestOpts() *requestOpts {
	return &requestOpts{body: url.Values{}, headers: http.Header{}}
}

func TestAuthenticateNone(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodNone,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	require.NoError(t, client.authenticate(endpointToken, opts, nil))
	assert.Equal(t, "abc", opts.body.Get("client_id"))
	assert.Empty(t, opts.headers.Get("Authorization"))
}

func TestAuthenticateClientSecretPost(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		ClientSecret:            "shh",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodClientSecretPost,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	require.NoError(t, client.authenticate(endpointToken, opts, nil))
	assert.Equal(t, "abc", opts.body.Get("client_id"))
	assert.Equal(t, "shh", opts.body.Get("client_secret"))
}

func TestAuthenticateClientSecretPostRequiresSecret(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodClientSecretPost,
	}, testIssuer())
	require.NoError(t, err)

	err = client.authenticate(endpointToken, newRequestOpts(), nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAuthenticateClientSecretBasic(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		ClientSecret:            "shh",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodClientSecretBasic,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	require.NoError(t, client.authenticate(endpointToken, opts, nil))

	auth := opts.headers.Get("Authorization")
	require.True(t, len(auth) > len("Basic "))
	decoded, err := base64.StdEncoding.DecodeString(auth[len("Basic "):])
	require.NoError(t, err)
	assert.Equal(t, "abc:shh", string(decoded))
}

func TestAuthenticateClientSecretJWT(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		ClientSecret:            testClientSecret,
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	require.NoError(t, client.authenticate(endpointToken, opts, nil))

	assert.Equal(t, "abc", opts.body.Get("client_id"))
	assert.Equal(t, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer", opts.body.Get("client_assertion_type"))

	assertion := opts.body.Get("client_assertion")
	require.NotEmpty(t, assertion)

	parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (any, error) {
		return []byte(testClientSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "abc", claims["iss"])
	assert.Equal(t, "abc", claims["sub"])
	assert.Equal(t, "https://issuer.example.com/token", claims["aud"])
}

func TestAuthenticatePrivateKeyJWTRequiresJWKS(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
	}, testIssuer())
	require.NoError(t, err)

	err = client.authenticate(endpointToken, newRequestOpts(), nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAuthenticateUnsupportedMethod(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: "bogus_method",
	}, testIssuer())
	require.NoError(t, err)

	err = client.authenticate(endpointToken, newRequestOpts(), nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAuthenticateUsesEndpointSpecificOverride(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                         "abc",
		ClientSecret:                     "shh",
		RedirectURIs:                     []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod:          AuthMethodClientSecretBasic,
		IntrospectionEndpointAuthMethod:  AuthMethodClientSecretPost,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	require.NoError(t, client.authenticate(endpointIntrospection, opts, nil))
	assert.Equal(t, "shh", opts.body.Get("client_secret"), "introspection override should use client_secret_post, not the default basic")
	assert.Empty(t, opts.headers.Get("Authorization"))
}

func TestClientAssertionOverrideReplacesDefaults(t *testing.T) {
	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		ClientSecret:            testClientSecret,
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
	}, testIssuer())
	require.NoError(t, err)

	opts := newRequestOpts()
	override := ClientAssertionPayload{"aud": "https://custom-audience.example.com"}
	require.NoError(t, client.authenticate(endpointToken, opts, override))

	assertion := opts.body.Get("client_assertion")
	parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (any, error) {
		return []byte(testClientSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "https://custom-audience.example.com", claims["aud"])
}
