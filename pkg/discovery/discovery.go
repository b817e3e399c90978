// Package discovery is the external collaborator pkg/rp.Client depends on
// but never builds itself (spec §1/§3): OIDC/OAuth2 Authorization Server
// Metadata discovery (RFC 8414 / OIDC Discovery 1.0) and JWKS fetching.
// Grounded on stacklok-toolhive's pkg/auth/token.Validator, which resolves
// a jwks_uri from issuer discovery and fetches/caches the key set the same
// shape this package uses, generalized here into a full rp.Issuer rather
// than just a JWKS source.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/sawyerh/node-openid-client/pkg/logger"
	"github.com/sawyerh/node-openid-client/pkg/rp"
)

// document is the subset of an AS/OP metadata document this module cares
// about (OIDC Discovery 1.0 §3/RFC 8414 §2).
type document struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	UserinfoEndpoint                   string   `json:"userinfo_endpoint"`
	EndSessionEndpoint                 string   `json:"end_session_endpoint"`
	DeviceAuthorizationEndpoint        string   `json:"device_authorization_endpoint"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint"`
	RevocationEndpoint                 string   `json:"revocation_endpoint"`
	RegistrationEndpoint               string   `json:"registration_endpoint"`
	JWKSURI                            string   `json:"jwks_uri"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported"`
	TokenEndpointAuthSigningAlgValues  []string `json:"token_endpoint_auth_signing_alg_values_supported"`
	MTLSEndpointAliases                map[string]string `json:"mtls_endpoint_aliases"`
}

// Issuer implements rp.Issuer over a discovered metadata document, fetching
// and memoizing the JWKS it names.
type Issuer struct {
	doc        document
	httpClient *http.Client
	log        *logger.Log

	jwks *ttlcache.Cache[string, jwk.Set]
}

// Discover fetches issuer's well-known metadata document (appending
// "/.well-known/openid-configuration" unless the caller already passed a
// full document URL) and returns a ready-to-use Issuer.
func Discover(ctx context.Context, issuerOrDocumentURL string, httpClient *http.Client, log *logger.Log) (*Issuer, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.NewSimple("discovery")
	}

	expectedIssuer := strings.TrimSuffix(issuerOrDocumentURL, "/")
	docURL := issuerOrDocumentURL
	if idx := strings.Index(docURL, "/.well-known/"); idx >= 0 {
		expectedIssuer = strings.TrimSuffix(docURL[:idx], "/")
	} else {
		docURL = expectedIssuer + "/.well-known/openid-configuration"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", docURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", docURL, resp.StatusCode)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata document: %w", err)
	}
	if doc.Issuer == "" {
		return nil, fmt.Errorf("metadata document at %s has no issuer", docURL)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != expectedIssuer {
		return nil, fmt.Errorf("metadata document at %s declares issuer %q, expected %q (OIDC Discovery 1.0 §4.3)", docURL, doc.Issuer, expectedIssuer)
	}

	log.Debug("discovered issuer metadata", "issuer", doc.Issuer)

	return &Issuer{
		doc:        doc,
		httpClient: httpClient,
		log:        log.New("discovery"),
		jwks:       ttlcache.New[string, jwk.Set](ttlcache.WithTTL[string, jwk.Set](15 * time.Minute)),
	}, nil
}

func (i *Issuer) Issuer() string                      { return i.doc.Issuer }
func (i *Issuer) AuthorizationEndpoint() string        { return i.doc.AuthorizationEndpoint }
func (i *Issuer) TokenEndpoint() string                { return i.doc.TokenEndpoint }
func (i *Issuer) UserinfoEndpoint() string              { return i.doc.UserinfoEndpoint }
func (i *Issuer) EndSessionEndpoint() string            { return i.doc.EndSessionEndpoint }
func (i *Issuer) DeviceAuthorizationEndpoint() string   { return i.doc.DeviceAuthorizationEndpoint }
func (i *Issuer) IntrospectionEndpoint() string         { return i.doc.IntrospectionEndpoint }
func (i *Issuer) RevocationEndpoint() string            { return i.doc.RevocationEndpoint }
func (i *Issuer) RegistrationEndpoint() string          { return i.doc.RegistrationEndpoint }
func (i *Issuer) MTLSEndpointAliases() map[string]string { return i.doc.MTLSEndpointAliases }
func (i *Issuer) TokenEndpointAuthMethodsSupported() []string {
	return i.doc.TokenEndpointAuthMethodsSupported
}
func (i *Issuer) TokenEndpointAuthSigningAlgValuesSupported() []string {
	return i.doc.TokenEndpointAuthSigningAlgValues
}

// Key resolves header against the issuer's JWKS (fetched once, then
// memoized for 15 minutes): the key with the header's kid when it carries
// one (an unmatched kid is an error), otherwise the lone key when the set
// has only one entry.
func (i *Issuer) Key(ctx context.Context, header rp.JOSEHeader) (jwk.Key, error) {
	set, err := i.keySet(ctx)
	if err != nil {
		return nil, err
	}

	if header.KeyID != "" {
		if key, ok := set.LookupKeyID(header.KeyID); ok {
			return key, nil
		}
		return nil, fmt.Errorf("no key with kid %q in issuer jwks", header.KeyID)
	}
	if set.Len() == 1 {
		key, _ := set.Key(0)
		return key, nil
	}
	return nil, fmt.Errorf("header carries no kid and issuer jwks has %d keys", set.Len())
}

func (i *Issuer) keySet(ctx context.Context) (jwk.Set, error) {
	if item := i.jwks.Get(i.doc.JWKSURI); item != nil {
		return item.Value(), nil
	}
	if i.doc.JWKSURI == "" {
		return nil, fmt.Errorf("issuer %q does not advertise a jwks_uri", i.doc.Issuer)
	}

	set, err := jwk.Fetch(ctx, i.doc.JWKSURI, jwk.WithHTTPClient(i.httpClient))
	if err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", i.doc.JWKSURI, err)
	}
	i.jwks.Set(i.doc.JWKSURI, set, ttlcache.DefaultTTL)
	return set, nil
}
