package rp

import (
	"context"
	"fmt"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JOSEHeader is the subset of a JWS/JWE header relevant to key selection:
// kid, alg, use (derived from the JOSE operation being performed, not a
// header field), and kty (derived from the candidate keys themselves).
type JOSEHeader struct {
	KeyID     string
	Algorithm string
	Use       string // "sig" or "enc"
}

// Issuer is the AS-metadata-and-JWKS collaborator spec §1/§3 treats as
// external: discovery and JWKS fetching happen elsewhere and are handed to
// this package as an already-populated Issuer.
type Issuer interface {
	Issuer() string

	AuthorizationEndpoint() string
	TokenEndpoint() string
	UserinfoEndpoint() string
	EndSessionEndpoint() string
	DeviceAuthorizationEndpoint() string
	IntrospectionEndpoint() string
	RevocationEndpoint() string
	RegistrationEndpoint() string

	// MTLSEndpointAliases returns the mtls_endpoint_aliases table (RFC
	// 8705), keyed by the same names as the endpoint accessors above
	// ("token_endpoint", "userinfo_endpoint", ...).
	MTLSEndpointAliases() map[string]string

	// Key returns the best JWK match for header, by kid/alg/use/kty.
	Key(ctx context.Context, header JOSEHeader) (jwk.Key, error)

	TokenEndpointAuthMethodsSupported() []string
	TokenEndpointAuthSigningAlgValuesSupported() []string
}

// IssuerDiscoverer resolves an issuer string (an ID Token's iss claim) to
// an Issuer, typically by fetching its AS/OIDC metadata document. Supplied
// by the embedding application; the core never does discovery itself.
type IssuerDiscoverer func(ctx context.Context, issuer string) (Issuer, error)

// IssuerRegistry is the append-only, process-wide cache mapping iss to
// Issuer, used to resolve distributed/aggregated claim sources that name a
// different issuer than the one the client was constructed against (spec
// §3, §4.6). Concurrent lookups of the same key are harmless: discovery is
// idempotent and the cache is populated only on success.
type IssuerRegistry struct {
	cache    *ttlcache.Cache[string, Issuer]
	discover IssuerDiscoverer
}

// NewIssuerRegistry creates a registry seeded with known, and backed by
// discover for issuers it has not seen before. discover may be nil, in
// which case unknown issuers are a hard error.
func NewIssuerRegistry(discover IssuerDiscoverer, known ...Issuer) *IssuerRegistry {
	cache := ttlcache.New[string, Issuer](ttlcache.WithTTL[string, Issuer](0))
	r := &IssuerRegistry{cache: cache, discover: discover}
	for _, iss := range known {
		r.cache.Set(iss.Issuer(), iss, ttlcache.NoTTL)
	}
	return r
}

// Resolve returns the Issuer for iss, from cache if present, otherwise via
// the configured discoverer, caching the result.
func (r *IssuerRegistry) Resolve(ctx context.Context, iss string) (Issuer, error) {
	if item := r.cache.Get(iss); item != nil {
		return item.Value(), nil
	}
	if r.discover == nil {
		return nil, fmt.Errorf("unknown issuer %q and no discoverer configured", iss)
	}
	discovered, err := r.discover(ctx, iss)
	if err != nil {
		return nil, fmt.Errorf("discover issuer %q: %w", iss, err)
	}
	if discovered.Issuer() != iss {
		return nil, fmt.Errorf("discovered issuer %q does not match requested %q", discovered.Issuer(), iss)
	}
	r.cache.Set(iss, discovered, ttlcache.NoTTL)
	return discovered, nil
}

// Register adds or replaces an Issuer in the registry directly, bypassing
// discovery. Used to seed the registry with the client's own Issuer.
func (r *IssuerRegistry) Register(iss Issuer) {
	r.cache.Set(iss.Issuer(), iss, ttlcache.NoTTL)
}
