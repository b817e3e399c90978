package rp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient is the transport collaborator spec §1 treats as external:
// request execution, including optional mTLS, lives behind this seam so
// the core can be driven against httptest.Server in tests and swapped for
// an mTLS-capable client in production.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDefaultHTTPClient returns a conservative net/http-based HTTPClient
// for callers that don't need mTLS or custom transports.
func NewDefaultHTTPClient() HTTPClient {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

// requestOpts holds an outgoing request's pieces before Client Authenticator
// enrichment (spec §4.2) is applied to it.
type requestOpts struct {
	method  string
	url     string
	body    url.Values
	headers http.Header
	accept  string
}

func newFormRequest(method, endpoint string) *requestOpts {
	return &requestOpts{
		method:  method,
		url:     endpoint,
		body:    url.Values{},
		headers: http.Header{},
		accept:  "application/json",
	}
}

// do executes opts against the client's HTTPClient, encoding body as
// application/x-www-form-urlencoded for POST (spec §6), and returns the
// response with its raw body bytes; callers decode the body themselves.
func (c *Client) do(ctx context.Context, opts *requestOpts) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if opts.method == http.MethodPost {
		bodyReader = strings.NewReader(opts.body.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, opts.method, opts.url, bodyReader)
	if err != nil {
		return nil, nil, assertErr(ErrConfiguration, "build request: %v", err)
	}
	for k, vs := range opts.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if opts.accept != "" {
		req.Header.Set("Accept", opts.accept)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, &ASError{ErrorCode: "transport_error", ErrorDescription: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, &ASError{ErrorCode: "transport_error", ErrorDescription: err.Error(), StatusCode: resp.StatusCode}
	}
	return resp, data, nil
}

// mtlsEndpoint substitutes the mtls_endpoint_aliases entry for name when
// the client is configured for tls_client_certificate_bound_access_tokens
// or a *_client_auth method, per spec §4.2/§4.6.
func (c *Client) mtlsEndpoint(name, fallback string) string {
	if !c.usesMTLS() {
		return fallback
	}
	if aliases := c.Issuer.MTLSEndpointAliases(); aliases != nil {
		if v, ok := aliases[name]; ok && v != "" {
			return v
		}
	}
	return fallback
}

func (c *Client) usesMTLS() bool {
	if c.Metadata.TLSClientCertificateBoundAccessTokens {
		return true
	}
	switch c.Metadata.TokenEndpointAuthMethod {
	case AuthMethodTLSClientAuth, AuthMethodSelfSignedTLSClientAuth:
		return true
	default:
		return false
	}
}
