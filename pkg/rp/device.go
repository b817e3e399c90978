package rp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// DeviceFlowState is one of the four states a DeviceFlowHandle occupies
// (spec §4.7): pending while the user has not yet completed authorization,
// granted/denied/expired are terminal.
type DeviceFlowState int

const (
	DevicePending DeviceFlowState = iota
	DeviceGranted
	DeviceDenied
	DeviceExpired
)

// DeviceFlowHandle tracks one device authorization grant (RFC 8628) across
// its poll lifecycle. id is a local correlation token for logging, not part
// of the wire protocol.
type DeviceFlowHandle struct {
	id string

	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	Interval                time.Duration
	MaxAge                  *int

	State  DeviceFlowState
	Tokens *TokenSet
	Err    error

	client *Client
}

type deviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceAuthorization implements spec §4.6/§4.7's deviceAuthorization: POSTs
// to device_authorization_endpoint, authenticated using the token
// endpoint's auth method, and returns a handle ready for polling.
func (c *Client) DeviceAuthorization(ctx context.Context, params map[string]string, maxAge *int) (*DeviceFlowHandle, error) {
	endpoint := c.Issuer.DeviceAuthorizationEndpoint()
	if endpoint == "" {
		return nil, assertErr(ErrConfiguration, "issuer does not advertise a device_authorization_endpoint")
	}

	opts := newFormRequest(http.MethodPost, endpoint)
	opts.body.Set("client_id", c.Metadata.ClientID)
	for k, v := range params {
		opts.body.Set(k, v)
	}
	if err := c.authenticate(endpointDeviceAuthorization, opts, nil); err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseASError(body, resp.StatusCode)
	}

	var decoded deviceAuthorizationResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, assertErr(ErrClaimType, "parse device authorization response: %v", err)
	}

	interval := time.Duration(decoded.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &DeviceFlowHandle{
		id:                      shortuuid.New(),
		DeviceCode:              decoded.DeviceCode,
		UserCode:                decoded.UserCode,
		VerificationURI:         decoded.VerificationURI,
		VerificationURIComplete: decoded.VerificationURIComplete,
		ExpiresAt:               time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
		Interval:                interval,
		MaxAge:                  maxAge,
		State:                   DevicePending,
		client:                  c,
	}, nil
}

// Poll implements spec §4.7's poll operation: one token-endpoint request
// per call. The handle does not sleep itself; callers schedule calls using
// h.Interval and stop once time.Now() passes h.ExpiresAt.
func (h *DeviceFlowHandle) Poll(ctx context.Context) error {
	if h.State != DevicePending {
		return nil
	}

	opts := newFormRequest(http.MethodPost, h.client.mtlsEndpoint("token_endpoint", h.client.Issuer.TokenEndpoint()))
	opts.body.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	opts.body.Set("device_code", h.DeviceCode)
	if err := h.client.authenticate(endpointToken, opts, nil); err != nil {
		h.State, h.Err = DeviceDenied, err
		return err
	}

	resp, body, err := h.client.do(ctx, opts)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		asErr := parseASError(body, resp.StatusCode)
		var ae *ASError
		if e, ok := asErr.(*ASError); ok {
			ae = e
		}
		switch {
		case ae != nil && ae.ErrorCode == "authorization_pending":
			return nil
		case ae != nil && ae.ErrorCode == "slow_down":
			h.Interval += 5 * time.Second
			return nil
		case ae != nil && (ae.ErrorCode == "access_denied" || ae.ErrorCode == "expired_token"):
			if ae.ErrorCode == "expired_token" {
				h.State = DeviceExpired
			} else {
				h.State = DeviceDenied
			}
			h.Err = asErr
			return asErr
		default:
			h.State, h.Err = DeviceDenied, asErr
			return asErr
		}
	}

	ts, err := ParseTokenResponse(body)
	if err != nil {
		h.State, h.Err = DeviceDenied, err
		return err
	}

	if idToken := ts.IDToken(); idToken != "" {
		validated, err := h.client.ValidateIDToken(ctx, idToken, ContextToken, IDTokenChecks{
			MaxAge:      h.MaxAge,
			AccessToken: ts.AccessToken(),
		})
		if err != nil {
			h.State, h.Err = DeviceDenied, err
			return err
		}
		ts.setClaims(validated.Claims)
	}

	h.State = DeviceGranted
	h.Tokens = ts
	return nil
}
