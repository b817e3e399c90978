package rp

import (
	"context"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// stubIssuer is a fixed-endpoint rp.Issuer for tests that don't exercise
// discovery; Key returns the fixed key and keyErr fields.
type stubIssuer struct {
	issuer                      string
	authorizationEndpoint       string
	tokenEndpoint               string
	userinfoEndpoint            string
	endSessionEndpoint          string
	deviceAuthorizationEndpoint string
	introspectionEndpoint       string
	revocationEndpoint          string
	registrationEndpoint        string
	mtlsAliases                 map[string]string
	authMethodsSupported        []string
	authSigningAlgsSupported    []string
	key                         jwk.Key
	keyErr                      error
}

func (s *stubIssuer) Issuer() string                       { return s.issuer }
func (s *stubIssuer) AuthorizationEndpoint() string         { return s.authorizationEndpoint }
func (s *stubIssuer) TokenEndpoint() string                 { return s.tokenEndpoint }
func (s *stubIssuer) UserinfoEndpoint() string              { return s.userinfoEndpoint }
func (s *stubIssuer) EndSessionEndpoint() string            { return s.endSessionEndpoint }
func (s *stubIssuer) DeviceAuthorizationEndpoint() string   { return s.deviceAuthorizationEndpoint }
func (s *stubIssuer) IntrospectionEndpoint() string         { return s.introspectionEndpoint }
func (s *stubIssuer) RevocationEndpoint() string            { return s.revocationEndpoint }
func (s *stubIssuer) RegistrationEndpoint() string          { return s.registrationEndpoint }
func (s *stubIssuer) MTLSEndpointAliases() map[string]string { return s.mtlsAliases }
func (s *stubIssuer) Key(_ context.Context, _ JOSEHeader) (jwk.Key, error) {
	return s.key, s.keyErr
}
func (s *stubIssuer) TokenEndpointAuthMethodsSupported() []string { return s.authMethodsSupported }
func (s *stubIssuer) TokenEndpointAuthSigningAlgValuesSupported() []string {
	return s.authSigningAlgsSupported
}

func newTestClient(metadata ClientMetadata, issuer Issuer) (*Client, error) {
	return NewClient(metadata, issuer, nil, nil, "", "")
}
