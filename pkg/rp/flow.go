package rp

import (
	"context"
	"encoding/json"
	"net/http"
)

// CallbackChecks carries the values callback/oauthCallback must verify the
// response against (spec §4.6 steps 2-6).
type CallbackChecks struct {
	State        string
	Nonce        string
	MaxAge       *int
	ResponseType string
	CodeVerifier string
}

// Callback implements the Flow Orchestrator's callback operation (spec
// §4.6): parses the response, checks state, surfaces AS-origin errors,
// enforces response_type-implied parameter presence, validates any
// in-response id_token, and exchanges code for a TokenSet when present.
func (c *Client) Callback(ctx context.Context, redirectURI string, rawParams any, checks CallbackChecks) (*TokenSet, error) {
	params, err := ParseCallbackParams(rawParams)
	if err != nil {
		return nil, err
	}

	if checks.MaxAge == nil && c.Metadata.DefaultMaxAge > 0 {
		defaultMaxAge := c.Metadata.DefaultMaxAge
		checks.MaxAge = &defaultMaxAge
	}

	if err := checkCallbackState(params, checks.State); err != nil {
		return nil, err
	}
	if err := checkASError(params); err != nil {
		return nil, err
	}
	if checks.ResponseType != "" {
		if err := checkResponseTypeParams(params, checks.ResponseType); err != nil {
			return nil, err
		}
	}

	var ts *TokenSet
	if idToken := params["id_token"]; idToken != "" {
		validated, err := c.ValidateIDToken(ctx, idToken, ContextAuthorization, IDTokenChecks{
			Nonce:       checks.Nonce,
			MaxAge:      checks.MaxAge,
			State:       checks.State,
			AccessToken: params["access_token"],
			Code:        params["code"],
		})
		if err != nil {
			return nil, err
		}
		ts = NewTokenSet(responseParamsToValues(params))
		ts.setClaims(validated.Claims)

		if params["code"] == "" {
			return ts, nil
		}
	}

	if code := params["code"]; code != "" {
		exchanged, err := c.exchangeCode(ctx, code, redirectURI, checks.CodeVerifier)
		if err != nil {
			return nil, err
		}
		if idToken := exchanged.IDToken(); idToken != "" {
			validated, err := c.ValidateIDToken(ctx, idToken, ContextToken, IDTokenChecks{
				Nonce:       checks.Nonce,
				MaxAge:      checks.MaxAge,
				AccessToken: exchanged.AccessToken(),
			})
			if err != nil {
				return nil, err
			}
			exchanged.setClaims(validated.Claims)
		}
		return exchanged.withSessionState(params["session_state"]), nil
	}

	return NewTokenSet(responseParamsToValues(params)), nil
}

// OAuthCallback is callback minus all ID Token handling (spec §4.6);
// response_type=id_token is rejected outright since ID Token handling lives
// only in Callback.
func (c *Client) OAuthCallback(ctx context.Context, redirectURI string, rawParams any, checks CallbackChecks) (*TokenSet, error) {
	params, err := ParseCallbackParams(rawParams)
	if err != nil {
		return nil, err
	}
	if responseTypeContains(checks.ResponseType, "id_token") {
		return nil, assertErr(ErrUnsupportedResponseType, "oauthCallback does not support response_type %q", checks.ResponseType)
	}

	if err := checkCallbackState(params, checks.State); err != nil {
		return nil, err
	}
	if err := checkASError(params); err != nil {
		return nil, err
	}
	if checks.ResponseType != "" {
		if err := checkResponseTypeParams(params, checks.ResponseType); err != nil {
			return nil, err
		}
	}

	if code := params["code"]; code != "" {
		exchanged, err := c.exchangeCode(ctx, code, redirectURI, checks.CodeVerifier)
		if err != nil {
			return nil, err
		}
		return exchanged.withSessionState(params["session_state"]), nil
	}

	return NewTokenSet(responseParamsToValues(params)), nil
}

func checkCallbackState(params map[string]string, expected string) error {
	got := params["state"]
	if expected != "" {
		if got != expected {
			return assertErr(ErrStateMismatch, "state mismatch")
		}
		return nil
	}
	if got != "" {
		return assertErr(ErrMissingState, "checks.state argument is missing")
	}
	return nil
}

func checkASError(params map[string]string) error {
	if params["error"] == "" {
		return nil
	}
	return &ASError{
		ErrorCode:        params["error"],
		ErrorDescription: params["error_description"],
		ErrorURI:         params["error_uri"],
		State:            params["state"],
		SessionState:     params["session_state"],
	}
}

// checkResponseTypeParams enforces spec §4.6 step 5: each member of a
// (possibly hybrid) response_type implies required response parameters;
// response_type=none forbids all three token-bearing parameters.
func checkResponseTypeParams(params map[string]string, responseType string) error {
	members := splitResponseType(responseType)

	if len(members) == 1 && members[0] == "none" {
		for _, forbidden := range []string{"code", "id_token", "access_token"} {
			if params[forbidden] != "" {
				return assertErr(ErrUnexpectedResponseParameter, "response_type=none must not carry %q", forbidden)
			}
		}
		return nil
	}

	for _, member := range members {
		switch member {
		case "code":
			if params["code"] == "" {
				return assertErr(ErrMissingResponseParameter, "response_type %q requires %q", responseType, "code")
			}
		case "id_token":
			if params["id_token"] == "" {
				return assertErr(ErrMissingResponseParameter, "response_type %q requires %q", responseType, "id_token")
			}
		case "token":
			if params["access_token"] == "" {
				return assertErr(ErrMissingResponseParameter, "response_type %q requires %q", responseType, "access_token")
			}
			if params["token_type"] == "" {
				return assertErr(ErrMissingResponseParameter, "response_type %q requires %q", responseType, "token_type")
			}
		}
	}
	return nil
}

func splitResponseType(rt string) []string {
	var out []string
	field := ""
	for _, r := range rt {
		if r == ' ' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}

func responseParamsToValues(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// exchangeCode implements spec §4.6 step 7: POST grant_type=authorization_code
// to the token endpoint, authenticated per the token endpoint's auth method,
// carrying redirect_uri and code_verifier (PKCE) when set.
func (c *Client) exchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	opts := newFormRequest(http.MethodPost, c.mtlsEndpoint("token_endpoint", c.Issuer.TokenEndpoint()))
	opts.body.Set("grant_type", "authorization_code")
	opts.body.Set("code", code)
	if redirectURI != "" {
		opts.body.Set("redirect_uri", redirectURI)
	}
	if codeVerifier != "" {
		opts.body.Set("code_verifier", codeVerifier)
	}
	if err := c.authenticate(endpointToken, opts, nil); err != nil {
		return nil, err
	}
	return c.tokenRequest(ctx, opts)
}

// Refresh implements spec §4.6's refresh: grant_type=refresh_token, and if
// the AS returns a new id_token, validates it with context token and no
// nonce/max_age check (neither is applicable to a refresh).
func (c *Client) Refresh(ctx context.Context, refreshToken string, scope string) (*TokenSet, error) {
	opts := newFormRequest(http.MethodPost, c.mtlsEndpoint("token_endpoint", c.Issuer.TokenEndpoint()))
	opts.body.Set("grant_type", "refresh_token")
	opts.body.Set("refresh_token", refreshToken)
	if scope != "" {
		opts.body.Set("scope", scope)
	}
	if err := c.authenticate(endpointToken, opts, nil); err != nil {
		return nil, err
	}

	ts, err := c.tokenRequest(ctx, opts)
	if err != nil {
		return nil, err
	}

	if idToken := ts.IDToken(); idToken != "" {
		validated, err := c.ValidateIDToken(ctx, idToken, ContextToken, IDTokenChecks{
			AccessToken: ts.AccessToken(),
		})
		if err != nil {
			return nil, err
		}
		ts.setClaims(validated.Claims)
	}
	return ts, nil
}

// Grant implements spec §4.6's generic grant: an authenticated POST to
// token_endpoint with caller-supplied body fields, returning a TokenSet.
func (c *Client) Grant(ctx context.Context, body map[string]string) (*TokenSet, error) {
	opts := newFormRequest(http.MethodPost, c.mtlsEndpoint("token_endpoint", c.Issuer.TokenEndpoint()))
	for k, v := range body {
		opts.body.Set(k, v)
	}
	if err := c.authenticate(endpointToken, opts, nil); err != nil {
		return nil, err
	}
	return c.tokenRequest(ctx, opts)
}

// tokenRequest dispatches opts against the token endpoint and parses the
// response as a TokenSet, surfacing an AS-origin error body as *ASError.
func (c *Client) tokenRequest(ctx context.Context, opts *requestOpts) (*TokenSet, error) {
	resp, body, err := c.do(ctx, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseASError(body, resp.StatusCode)
	}
	return ParseTokenResponse(body)
}

func parseASError(body []byte, status int) error {
	var asErr ASError
	if err := json.Unmarshal(body, &asErr); err != nil || asErr.ErrorCode == "" {
		return &ASError{ErrorCode: "server_error", ErrorDescription: string(body), StatusCode: status}
	}
	asErr.StatusCode = status
	return &asErr
}

// Revoke implements spec §4.6's revoke: authenticated POST to
// revocation_endpoint (RFC 7009); any 2xx is success, the body is ignored.
func (c *Client) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	opts := newFormRequest(http.MethodPost, c.mtlsEndpoint("revocation_endpoint", c.Issuer.RevocationEndpoint()))
	opts.body.Set("token", token)
	if tokenTypeHint != "" {
		opts.body.Set("token_type_hint", tokenTypeHint)
	}
	if err := c.authenticate(endpointRevocation, opts, nil); err != nil {
		return err
	}

	resp, body, err := c.do(ctx, opts)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseASError(body, resp.StatusCode)
	}
	return nil
}

// Introspect implements spec §4.6's introspect: authenticated POST to
// introspection_endpoint, returning the parsed JSON body.
func (c *Client) Introspect(ctx context.Context, token, tokenTypeHint string) (map[string]any, error) {
	opts := newFormRequest(http.MethodPost, c.mtlsEndpoint("introspection_endpoint", c.Issuer.IntrospectionEndpoint()))
	opts.body.Set("token", token)
	if tokenTypeHint != "" {
		opts.body.Set("token_type_hint", tokenTypeHint)
	}
	if err := c.authenticate(endpointIntrospection, opts, nil); err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseASError(body, resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, assertErr(ErrClaimType, "parse introspection response: %v", err)
	}
	return out, nil
}
