package rp

import (
	"encoding/base64"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// authEndpoint names the four endpoints that authenticate the client.
// Introspection and revocation carry their own *_endpoint_auth_method,
// falling back to token_endpoint_auth_method when unset; the token and
// device authorization endpoints always use token_endpoint_auth_method.
type authEndpoint int

const (
	endpointToken authEndpoint = iota
	endpointIntrospection
	endpointRevocation
	endpointDeviceAuthorization
)

func (c *Client) authMethodFor(ep authEndpoint) (method, signingAlg string) {
	method, signingAlg = c.Metadata.TokenEndpointAuthMethod, c.Metadata.TokenEndpointAuthSigningAlg
	switch ep {
	case endpointIntrospection:
		if c.Metadata.IntrospectionEndpointAuthMethod != "" {
			method = c.Metadata.IntrospectionEndpointAuthMethod
			signingAlg = c.Metadata.IntrospectionEndpointAuthSigningAlg
		}
	case endpointRevocation:
		if c.Metadata.RevocationEndpointAuthMethod != "" {
			method = c.Metadata.RevocationEndpointAuthMethod
			signingAlg = c.Metadata.RevocationEndpointAuthSigningAlg
		}
	}
	return method, signingAlg
}

func endpointURL(ep authEndpoint, issuer Issuer) string {
	switch ep {
	case endpointIntrospection:
		return issuer.IntrospectionEndpoint()
	case endpointRevocation:
		return issuer.RevocationEndpoint()
	case endpointDeviceAuthorization:
		return issuer.DeviceAuthorizationEndpoint()
	default:
		return issuer.TokenEndpoint()
	}
}

// ClientAssertionPayload lets a caller override the default JWT assertion
// claims (spec §4.2): every key present here replaces the builder's
// default for that claim.
type ClientAssertionPayload map[string]any

// authenticate enriches opts in place with the authentication material for
// ep's effective auth method (spec §4.2's table), mutating opts.body and
// opts.headers as the method requires.
func (c *Client) authenticate(ep authEndpoint, opts *requestOpts, assertionOverride ClientAssertionPayload) error {
	method, signingAlg := c.authMethodFor(ep)

	switch method {
	case "", AuthMethodNone:
		opts.body.Set("client_id", c.Metadata.ClientID)
		return nil

	case AuthMethodClientSecretPost:
		if c.Metadata.ClientSecret == "" {
			return assertErr(ErrConfiguration, "client_secret_post requires a client_secret")
		}
		opts.body.Set("client_id", c.Metadata.ClientID)
		opts.body.Set("client_secret", c.Metadata.ClientSecret)
		return nil

	case AuthMethodClientSecretBasic:
		if c.Metadata.ClientSecret == "" {
			return assertErr(ErrConfiguration, "client_secret_basic requires a client_secret")
		}
		token := url.QueryEscape(c.Metadata.ClientID) + ":" + url.QueryEscape(c.Metadata.ClientSecret)
		opts.headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(token)))
		return nil

	case AuthMethodClientSecretJWT, AuthMethodPrivateKeyJWT:
		alg := signingAlg
		if alg == "" {
			if method == AuthMethodClientSecretJWT {
				alg = "HS256"
			} else {
				alg = "RS256"
			}
		}
		assertion, err := c.clientAssertion(alg, endpointURL(ep, c.Issuer), assertionOverride)
		if err != nil {
			return err
		}
		opts.body.Set("client_id", c.Metadata.ClientID)
		opts.body.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		opts.body.Set("client_assertion", assertion)
		return nil

	case AuthMethodTLSClientAuth, AuthMethodSelfSignedTLSClientAuth:
		opts.body.Set("client_id", c.Metadata.ClientID)
		return nil

	default:
		return assertErr(ErrConfiguration, "unsupported auth method %q", method)
	}
}

// clientAssertion builds and signs the client_secret_jwt/private_key_jwt
// assertion (spec §4.2): iss=sub=client_id, aud=target endpoint (the
// caller-supplied default; some ASes prefer issuer, overridable via
// override), jti fresh, iat=now, exp=now+60. override replaces any of
// these defaults present in it.
func (c *Client) clientAssertion(alg, audience string, override ClientAssertionPayload) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.Metadata.ClientID,
		"sub": c.Metadata.ClientID,
		"aud": audience,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(60 * time.Second).Unix(),
	}
	for k, v := range override {
		claims[k] = v
	}
	return c.signJWT(alg, claims)
}
