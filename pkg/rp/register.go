package rp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/sawyerh/node-openid-client/pkg/logger"
)

// RegisterOpts supplies the out-of-band material a registration request may
// carry (spec §4.8): a Bearer initial_access_token, and a client JWKS to
// derive the registration's public jwks from.
type RegisterOpts struct {
	InitialAccessToken string
	JWKS               jwk.Set
}

// Register implements spec §4.8's register: POSTs properties (RFC 7591
// client metadata) to registration_endpoint, expecting HTTP 201, and
// returns a new Client constructed from the response. If opts.JWKS is set,
// its public portion is exported and sent as jwks; ClientMetadata itself
// serializes neither jwks nor jwks_uri.
func Register(ctx context.Context, http_ HTTPClient, issuer Issuer, log *logger.Log, properties ClientMetadata, opts RegisterOpts) (*Client, error) {
	endpoint := issuer.RegistrationEndpoint()
	if endpoint == "" {
		return nil, assertErr(ErrConfiguration, "issuer does not advertise a registration_endpoint")
	}

	body := clientMetadataToRegistration(properties)
	if body["jwks"] == nil && opts.JWKS != nil {
		pub, err := publicJWKS(opts.JWKS)
		if err != nil {
			return nil, assertErr(ErrConfiguration, "export public jwks for registration: %v", err)
		}
		body["jwks"] = pub
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, assertErr(ErrConfiguration, "encode registration request: %v", err)
	}

	req, err := newJSONRequest(ctx, http.MethodPost, endpoint, encoded, opts.InitialAccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := http_.Do(req)
	if err != nil {
		return nil, &ASError{ErrorCode: "transport_error", ErrorDescription: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, assertErr(ErrConfiguration, "read registration response: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, parseASError(respBody, resp.StatusCode)
	}

	var registered ClientMetadata
	if err := json.Unmarshal(respBody, &registered); err != nil {
		return nil, assertErr(ErrClaimType, "parse registration response: %v", err)
	}
	if opts.JWKS != nil {
		registered.JWKS = opts.JWKS
	}

	return NewClient(registered, issuer, http_, log, "", "")
}

// FromURI implements spec §4.8's fromUri: GETs a previously-registered
// client's current metadata using its registration_access_token.
func FromURI(ctx context.Context, http_ HTTPClient, issuer Issuer, log *logger.Log, uri, registrationAccessToken string, jwks jwk.Set) (*Client, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, uri, nil, registrationAccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := http_.Do(req)
	if err != nil {
		return nil, &ASError{ErrorCode: "transport_error", ErrorDescription: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, assertErr(ErrConfiguration, "read client metadata response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseASError(body, resp.StatusCode)
	}

	var metadata ClientMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, assertErr(ErrClaimType, "parse client metadata: %v", err)
	}
	if jwks != nil {
		metadata.JWKS = jwks
	}
	return NewClient(metadata, issuer, http_, log, "", "")
}

func newJSONRequest(ctx context.Context, method, url string, body []byte, bearer string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, assertErr(ErrConfiguration, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

func clientMetadataToRegistration(m ClientMetadata) map[string]any {
	encoded, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(encoded, &out)
	return out
}

func publicJWKS(set jwk.Set) (jwk.Set, error) {
	return jwk.PublicSetOf(set)
}
