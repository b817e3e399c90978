package rp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// UserinfoMethod selects how the access token reaches the userinfo endpoint
// (spec §4.6): header is the default; query and form are GET/POST-only
// alternatives some ASes require.
type UserinfoMethod int

const (
	UserinfoMethodHeader UserinfoMethod = iota
	UserinfoMethodQuery
	UserinfoMethodBody
)

// UserinfoOpts configures a Userinfo call.
type UserinfoOpts struct {
	Method UserinfoMethod
	// IDToken, when set, cross-checks the returned sub against it (spec
	// §4.6's userinfo sub check), typically the TokenSet from the same
	// session.
	IDToken *TokenSet
}

// Userinfo implements spec §4.6's userinfo: dispatches per opts.Method, and
// if the client declares a userinfo_signed_response_alg or
// userinfo_encrypted_response_alg, requests application/jwt and validates
// the response as a JWT with context userinfo; otherwise parses plain JSON.
func (c *Client) Userinfo(ctx context.Context, accessToken string, opts UserinfoOpts) (map[string]any, error) {
	endpoint := c.mtlsEndpoint("userinfo_endpoint", c.Issuer.UserinfoEndpoint())
	if endpoint == "" {
		return nil, assertErr(ErrConfiguration, "issuer does not advertise a userinfo_endpoint")
	}

	expectsJWT := c.Metadata.UserinfoSignedResponseAlg != "" || c.Metadata.UserinfoEncryptedResponseAlg != ""

	var method, reqURL string
	body := url.Values{}
	headers := http.Header{}

	switch opts.Method {
	case UserinfoMethodQuery:
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, assertErr(ErrConfiguration, "parse userinfo_endpoint: %v", err)
		}
		q := u.Query()
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
		method, reqURL = http.MethodGet, u.String()
	case UserinfoMethodBody:
		body.Set("access_token", accessToken)
		method, reqURL = http.MethodPost, endpoint
	default:
		headers.Set("Authorization", "Bearer "+accessToken)
		method, reqURL = http.MethodGet, endpoint
	}

	reqOpts := newFormRequest(method, reqURL)
	reqOpts.body = body
	for k, vs := range headers {
		reqOpts.headers[k] = vs
	}
	if expectsJWT {
		reqOpts.accept = "application/jwt"
	}

	resp, data, err := c.do(ctx, reqOpts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseASError(data, resp.StatusCode)
	}

	var claims map[string]any
	if expectsJWT {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(contentType, "application/jwt") {
			return nil, assertErr(ErrConfiguration, "userinfo response content-type %q, expected application/jwt", contentType)
		}
		validated, err := c.ValidateIDToken(ctx, string(data), ContextUserinfo, IDTokenChecks{})
		if err != nil {
			return nil, err
		}
		claims = validated.Claims
	} else {
		if err := json.Unmarshal(data, &claims); err != nil {
			return nil, assertErr(ErrClaimType, "parse userinfo response: %v", err)
		}
	}

	if opts.IDToken != nil {
		idClaims, ok := opts.IDToken.Claims()
		if ok {
			idSub, _ := idClaims["sub"].(string)
			userinfoSub, _ := claims["sub"].(string)
			if idSub != "" && idSub != userinfoSub {
				return nil, assertErr(ErrUserinfoSubMismatch, "userinfo sub %q does not match id_token sub %q", userinfoSub, idSub)
			}
		}
	}

	return claims, nil
}
