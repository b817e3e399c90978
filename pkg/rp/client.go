// Package rp implements the Relying Party client core of an OpenID Connect
// / OAuth 2.0 library: request construction, client authentication, ID
// Token validation, and the multi-round-trip flows (authorization code,
// refresh, device, dynamic registration, distributed/aggregated claims)
// that sit on top of them.
//
// AS metadata discovery, JWKS fetching, and HTTP transport are external
// collaborators (see Issuer and HTTPClient) rather than this package's
// concern.
package rp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jellydator/ttlcache/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/sawyerh/node-openid-client/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Endpoint-specific auth methods, see spec §4.2.
const (
	AuthMethodNone                    = "none"
	AuthMethodClientSecretPost        = "client_secret_post"
	AuthMethodClientSecretBasic       = "client_secret_basic"
	AuthMethodClientSecretJWT         = "client_secret_jwt"
	AuthMethodPrivateKeyJWT           = "private_key_jwt"
	AuthMethodTLSClientAuth           = "tls_client_auth"
	AuthMethodSelfSignedTLSClientAuth = "self_signed_tls_client_auth"
)

// ClientMetadata is the immutable-after-construction record of client
// configuration, spec §3. Required: ClientID. Normalize defaults
// response_types, grant_types, token_endpoint_auth_method and
// id_token_signed_response_alg; every other field is used as given.
type ClientMetadata struct {
	ClientID     string `json:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	ResponseTypes []string `json:"response_types,omitempty" yaml:"response_types,omitempty"`
	RedirectURIs  []string `json:"redirect_uris,omitempty" yaml:"redirect_uris,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty" yaml:"grant_types,omitempty"`

	TokenEndpointAuthMethod      string `json:"token_endpoint_auth_method,omitempty" yaml:"token_endpoint_auth_method,omitempty" validate:"omitempty,oneof=none client_secret_post client_secret_basic client_secret_jwt private_key_jwt tls_client_auth self_signed_tls_client_auth"`
	TokenEndpointAuthSigningAlg  string `json:"token_endpoint_auth_signing_alg,omitempty" yaml:"token_endpoint_auth_signing_alg,omitempty"`
	IntrospectionEndpointAuthMethod string `json:"introspection_endpoint_auth_method,omitempty" yaml:"introspection_endpoint_auth_method,omitempty"`
	IntrospectionEndpointAuthSigningAlg string `json:"introspection_endpoint_auth_signing_alg,omitempty" yaml:"introspection_endpoint_auth_signing_alg,omitempty"`
	RevocationEndpointAuthMethod string `json:"revocation_endpoint_auth_method,omitempty" yaml:"revocation_endpoint_auth_method,omitempty"`
	RevocationEndpointAuthSigningAlg string `json:"revocation_endpoint_auth_signing_alg,omitempty" yaml:"revocation_endpoint_auth_signing_alg,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty" yaml:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty" yaml:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty" yaml:"id_token_encrypted_response_enc,omitempty"`

	UserinfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty" yaml:"userinfo_signed_response_alg,omitempty"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty" yaml:"userinfo_encrypted_response_alg,omitempty"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty" yaml:"userinfo_encrypted_response_enc,omitempty"`

	RequestObjectSigningAlg    string `json:"request_object_signing_alg,omitempty" yaml:"request_object_signing_alg,omitempty"`
	RequestObjectEncryptionAlg string `json:"request_object_encryption_alg,omitempty" yaml:"request_object_encryption_alg,omitempty"`
	RequestObjectEncryptionEnc string `json:"request_object_encryption_enc,omitempty" yaml:"request_object_encryption_enc,omitempty"`

	DefaultMaxAge                          int  `json:"default_max_age,omitempty" yaml:"default_max_age,omitempty"`
	RequireAuthTime                        bool `json:"require_auth_time,omitempty" yaml:"require_auth_time,omitempty"`
	TLSClientCertificateBoundAccessTokens  bool `json:"tls_client_certificate_bound_access_tokens,omitempty" yaml:"tls_client_certificate_bound_access_tokens,omitempty"`

	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty" yaml:"post_logout_redirect_uris,omitempty"`

	// ClockTolerance, in seconds, widens every exp/iat/nbf/auth_time
	// comparison symmetrically. Default 0.
	ClockTolerance int `json:"clock_tolerance,omitempty" yaml:"clock_tolerance,omitempty"`

	// AADMultitenant, when set, treats the Issuer's issuer value as a
	// template whose "{tenantid}" placeholder is replaced by the ID Token's
	// tid claim before the iss comparison (spec §4.4 step 5).
	AADMultitenant bool `json:"-" yaml:"-"`

	// JWKS holds the client's own private keys, used for private_key_jwt
	// client authentication and for decrypting asymmetrically-encrypted
	// responses. Rejected on load if it contains anything but private
	// asymmetric keys (spec §3 invariants).
	JWKS jwk.Set `json:"-" yaml:"-"`
}

// Normalize tolerates the common input mistakes spec §3 names: a single
// redirect_uri/response_type instead of the plural form, missing slices
// defaulted, id_token_signed_response_alg defaulted to RS256. It returns a
// new value; it does not mutate m.
func (m ClientMetadata) Normalize(singularRedirectURI, singularResponseType string) ClientMetadata {
	out := m
	if len(out.RedirectURIs) == 0 && singularRedirectURI != "" {
		out.RedirectURIs = []string{singularRedirectURI}
	}
	if len(out.ResponseTypes) == 0 {
		if singularResponseType != "" {
			out.ResponseTypes = []string{singularResponseType}
		} else {
			out.ResponseTypes = []string{"code"}
		}
	}
	if len(out.GrantTypes) == 0 {
		out.GrantTypes = []string{"authorization_code"}
	}
	if out.TokenEndpointAuthMethod == "" {
		out.TokenEndpointAuthMethod = AuthMethodClientSecretBasic
	}
	if out.IDTokenSignedResponseAlg == "" {
		out.IDTokenSignedResponseAlg = "RS256"
	}
	return out
}

// Client is the constructed, ready-to-use Relying Party client: validated
// metadata, a handle on its Issuer, and the memoization caches described
// in spec §5 (re-entrant, thread-safe for concurrent requests).
type Client struct {
	Metadata ClientMetadata
	Issuer   Issuer
	HTTP     HTTPClient
	log      *logger.Log

	// Issuers resolves the cross-issuer lookups distributed/aggregated
	// claim sources may name (spec §4.6). Optional; a claim source naming
	// a foreign issuer fails if this is nil.
	Issuers *IssuerRegistry

	// symmetricKeys memoizes the oct JWK derived from client_secret, keyed
	// by derived key length in bits (0 for the undifferentiated "raw UTF-8
	// bytes" key used by HS* client_secret_jwt). Single-writer-per-key,
	// multi-reader; entries are value-equivalent by key so concurrent
	// derivation of the same key is harmless (spec §5).
	symmetricKeys *ttlcache.Cache[int, []byte]
}

// NewClient validates and constructs a Client. singularRedirectURI and
// singularResponseType carry whatever the caller passed as the legacy
// singular form of redirect_uris/response_types, if any; pass "" when not
// applicable.
func NewClient(metadata ClientMetadata, issuer Issuer, http HTTPClient, log *logger.Log, singularRedirectURI, singularResponseType string) (*Client, error) {
	metadata = metadata.Normalize(singularRedirectURI, singularResponseType)

	if err := validate.Struct(metadata); err != nil {
		return nil, assertErr(ErrConfiguration, "invalid client metadata: %v", err)
	}

	if metadata.JWKS != nil {
		if err := requirePrivateKeys(metadata.JWKS); err != nil {
			return nil, assertErr(ErrConfiguration, "client jwks: %v", err)
		}
	}

	if err := reconcileAuthMethod(&metadata, issuer); err != nil {
		return nil, err
	}

	if http == nil {
		http = NewDefaultHTTPClient()
	}
	if log == nil {
		log = logger.NewSimple("rp")
	}

	return &Client{
		Metadata:      metadata,
		Issuer:        issuer,
		HTTP:          http,
		log:           log.New("rp"),
		symmetricKeys: ttlcache.New[int, []byte](ttlcache.WithTTL[int, []byte](0)),
	}, nil
}

// requirePrivateKeys rejects a client JWKS containing public-only or
// symmetric keys, per spec §3's invariant on the client's own keystore.
func requirePrivateKeys(set jwk.Set) error {
	it := set.Keys(context.Background())
	for it.Next(context.Background()) {
		key := it.Pair().Value.(jwk.Key)
		switch key.KeyType().String() {
		case "oct":
			return fmt.Errorf("client jwks must not contain symmetric keys (kid=%s)", keyID(key))
		case "RSA", "EC", "OKP":
			if !hasPrivateComponent(key) {
				return fmt.Errorf("client jwks must contain only private keys (kid=%s is public-only)", keyID(key))
			}
		}
	}
	return nil
}

func keyID(key jwk.Key) string {
	var kid string
	_ = key.Get(jwk.KeyIDKey, &kid)
	return kid
}

func hasPrivateComponent(key jwk.Key) bool {
	switch key.KeyType().String() {
	case "RSA":
		var d []byte
		return key.Get("d", &d) == nil && len(d) > 0
	case "EC", "OKP":
		var d []byte
		return key.Get("d", &d) == nil && len(d) > 0
	default:
		return false
	}
}

// reconcileAuthMethod implements spec §3's backward-compatibility rule: if
// the AS advertises token_endpoint_auth_methods_supported and the
// configured method is absent while client_secret_post is advertised, the
// effective method silently becomes client_secret_post. It also asserts
// that *_jwt signing algs are in the AS's supported set when configured.
func reconcileAuthMethod(m *ClientMetadata, issuer Issuer) error {
	if issuer == nil {
		return nil
	}
	supported := issuer.TokenEndpointAuthMethodsSupported()
	if len(supported) > 0 && !contains(supported, m.TokenEndpointAuthMethod) {
		if contains(supported, AuthMethodClientSecretPost) {
			m.TokenEndpointAuthMethod = AuthMethodClientSecretPost
		}
	}

	if m.TokenEndpointAuthMethod == AuthMethodClientSecretJWT || m.TokenEndpointAuthMethod == AuthMethodPrivateKeyJWT {
		if m.TokenEndpointAuthSigningAlg != "" {
			algs := issuer.TokenEndpointAuthSigningAlgValuesSupported()
			if len(algs) > 0 && !contains(algs, m.TokenEndpointAuthSigningAlg) {
				return assertErr(ErrAlgMismatch, "token_endpoint_auth_signing_alg %q not supported by issuer", m.TokenEndpointAuthSigningAlg)
			}
		}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// clockTolerance returns the client's clock tolerance as a duration.
func (c *Client) clockTolerance() time.Duration {
	return time.Duration(c.Metadata.ClockTolerance) * time.Second
}
