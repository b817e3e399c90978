package rp

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AuthorizationParams is the caller-supplied mapping the Parameter Builder
// resolves into a full authorization request (spec §4.1). String-valued
// fields cover the common parameters by name; Extra carries anything else
// (prompt, login_hint, ui_locales, acr_values, vendor extensions...) along
// with non-string values needing the builder's coercion rules.
type AuthorizationParams struct {
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            []string
	Claims              any // object, JSON-encoded; or already a string

	Extra map[string]any
}

// BuildAuthorizationParams applies the Parameter Builder's defaults (spec
// §4.1) and returns the final flat parameter set ready for URL/form
// rendering: client_id from metadata, scope defaulting to "openid",
// response_type/redirect_uri auto-resolved when the client configures
// exactly one. nonce is required whenever the resolved response_type
// contains "id_token".
func (c *Client) BuildAuthorizationParams(p AuthorizationParams) (map[string]string, error) {
	out := map[string]string{"client_id": c.Metadata.ClientID}

	responseType := p.ResponseType
	if responseType == "" {
		if len(c.Metadata.ResponseTypes) != 1 {
			return nil, assertErr(ErrInvalidParameter, "response_type not given and client has %d configured, expected exactly 1", len(c.Metadata.ResponseTypes))
		}
		responseType = c.Metadata.ResponseTypes[0]
	}
	out["response_type"] = responseType

	redirectURI := p.RedirectURI
	if redirectURI == "" {
		if len(c.Metadata.RedirectURIs) != 1 {
			return nil, assertErr(ErrInvalidParameter, "redirect_uri not given and client has %d configured, expected exactly 1", len(c.Metadata.RedirectURIs))
		}
		redirectURI = c.Metadata.RedirectURIs[0]
	}
	out["redirect_uri"] = redirectURI

	scope := p.Scope
	if scope == "" {
		scope = "openid"
	}
	out["scope"] = scope

	if responseTypeContains(responseType, "id_token") && p.Nonce == "" {
		return nil, assertErr(ErrInvalidParameter, "nonce is required for response_type %q", responseType)
	}

	setIfNonEmpty(out, "state", p.State)
	setIfNonEmpty(out, "nonce", p.Nonce)
	setIfNonEmpty(out, "code_challenge", p.CodeChallenge)
	setIfNonEmpty(out, "code_challenge_method", p.CodeChallengeMethod)

	if p.Claims != nil {
		switch v := p.Claims.(type) {
		case string:
			out["claims"] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, assertErr(ErrInvalidParameter, "encode claims: %v", err)
			}
			out["claims"] = string(encoded)
		}
	}

	for k, v := range p.Extra {
		if v == nil {
			continue
		}
		out[k] = coerceString(v)
	}

	return out, nil
}

func responseTypeContains(responseType, member string) bool {
	for _, part := range strings.Fields(responseType) {
		if part == member {
			return true
		}
	}
	return false
}

func setIfNonEmpty(out map[string]string, key, value string) {
	if value != "" {
		out[key] = value
	}
}

func coerceString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// AuthorizationURL builds the query-string form of the authorization
// request, preserving any query parameters already present on the Issuer's
// authorization_endpoint (spec §4.1). resource is appended as a repeated
// query parameter, one per entry.
func (c *Client) AuthorizationURL(p AuthorizationParams) (string, error) {
	params, err := c.BuildAuthorizationParams(p)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(c.Issuer.AuthorizationEndpoint())
	if err != nil {
		return "", assertErr(ErrConfiguration, "parse authorization_endpoint: %v", err)
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	for _, r := range p.Resource {
		q.Add("resource", r)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthorizationForm renders the self-submitting-form variant of the
// authorization request: an HTML document with one hidden input per
// parameter and an onload submit, for user agents where a redirect to a
// very long query string is undesirable (spec §4.1).
func (c *Client) AuthorizationForm(p AuthorizationParams) (string, error) {
	params, err := c.BuildAuthorizationParams(p)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Continue</title></head><body onload=\"javascript:document.forms[0].submit()\">\n")
	fmt.Fprintf(&b, "<form method=\"post\" action=%q>\n", html.EscapeString(c.Issuer.AuthorizationEndpoint()))
	for k, v := range params {
		fmt.Fprintf(&b, "  <input type=\"hidden\" name=%q value=%q>\n", html.EscapeString(k), html.EscapeString(v))
	}
	for _, r := range p.Resource {
		fmt.Fprintf(&b, "  <input type=\"hidden\" name=\"resource\" value=%q>\n", html.EscapeString(r))
	}
	b.WriteString("</form>\n</body></html>\n")
	return b.String(), nil
}

// EndSessionParams carries RP-Initiated Logout parameters (spec §4.1).
// IDTokenHint may be a raw JWT string or a *TokenSet, from which id_token is
// extracted.
type EndSessionParams struct {
	IDTokenHint           any
	PostLogoutRedirectURI string
	State                 string
	Extra                 map[string]any
}

// EndSessionURL builds the end_session_endpoint URL (spec §4.1):
// post_logout_redirect_uri defaults to the client's single configured value
// when exactly one is listed; absent values are dropped.
func (c *Client) EndSessionURL(p EndSessionParams) (string, error) {
	endpoint := c.Issuer.EndSessionEndpoint()
	if endpoint == "" {
		return "", assertErr(ErrConfiguration, "issuer does not advertise an end_session_endpoint")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", assertErr(ErrConfiguration, "parse end_session_endpoint: %v", err)
	}

	q := u.Query()

	switch hint := p.IDTokenHint.(type) {
	case string:
		setIfNonEmpty2(q, "id_token_hint", hint)
	case *TokenSet:
		if hint != nil {
			setIfNonEmpty2(q, "id_token_hint", hint.IDToken())
		}
	case nil:
	default:
		return "", assertErr(ErrInvalidParameter, "id_token_hint must be a string or *TokenSet, got %T", hint)
	}

	redirectURI := p.PostLogoutRedirectURI
	if redirectURI == "" && len(c.Metadata.PostLogoutRedirectURIs) == 1 {
		redirectURI = c.Metadata.PostLogoutRedirectURIs[0]
	}
	setIfNonEmpty2(q, "post_logout_redirect_uri", redirectURI)
	setIfNonEmpty2(q, "state", p.State)

	for k, v := range p.Extra {
		if v == nil {
			continue
		}
		q.Set(k, coerceString(v))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIfNonEmpty2(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// NewState and NewNonce are convenience generators for callers that don't
// manage their own correlation values. cmd/oidcrpctl and pkg/webrp use
// these rather than rolling their own.
func NewState() string { return uuid.NewString() }
func NewNonce() string { return uuid.NewString() }
