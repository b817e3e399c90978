package rp

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// callbackKeys are the only fields the Response Parser retains (spec §4.3);
// anything else in the query string or form body is discarded.
var callbackKeys = []string{
	"code", "state", "id_token", "access_token", "token_type", "expires_in",
	"scope", "refresh_token", "session_state", "error", "error_description",
	"error_uri", "response", "iss",
}

// CallbackRequest is the minimal HTTP-request-like shape the Response
// Parser accepts as an alternative to a raw URL string or pre-parsed map:
// Method/URL mirror *http.Request, Body is read once, as bytes or string.
type CallbackRequest struct {
	Method string
	URL    string
	Body   any // []byte, string, or url.Values/map[string]any (pre-parsed)
}

// ParseCallbackParams implements the Response Parser (spec §4.3): input may
// be a full URL string (parsed for GET-style query parameters), a
// CallbackRequest (dispatched on Method), or a plain map (already-parsed
// parameters, passed through the key filter unchanged).
func ParseCallbackParams(input any) (map[string]string, error) {
	switch v := input.(type) {
	case string:
		u, err := url.Parse(v)
		if err != nil {
			return nil, assertErr(ErrInvalidParameter, "parse callback url: %v", err)
		}
		return filterCallbackKeys(valuesToMap(u.Query())), nil

	case *CallbackRequest:
		return parseCallbackRequest(v)
	case CallbackRequest:
		return parseCallbackRequest(&v)

	case map[string]string:
		return filterCallbackKeysString(v), nil
	case map[string]any:
		return filterCallbackKeys(v), nil
	case url.Values:
		return filterCallbackKeys(valuesToMap(v)), nil

	default:
		return nil, assertErr(ErrInvalidParameter, "unsupported callback params input type %T", input)
	}
}

func parseCallbackRequest(req *CallbackRequest) (map[string]string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, assertErr(ErrInvalidParameter, "parse callback url: %v", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if strings.EqualFold(method, http.MethodGet) {
		return filterCallbackKeys(valuesToMap(u.Query())), nil
	}

	body, err := bodyValues(req.Body)
	if err != nil {
		return nil, err
	}
	return filterCallbackKeys(body), nil
}

func bodyValues(body any) (map[string]any, error) {
	switch b := body.(type) {
	case nil:
		return map[string]any{}, nil
	case []byte:
		values, err := url.ParseQuery(string(b))
		if err != nil {
			return nil, assertErr(ErrInvalidParameter, "parse callback body: %v", err)
		}
		return valuesToMap(values), nil
	case string:
		values, err := url.ParseQuery(b)
		if err != nil {
			return nil, assertErr(ErrInvalidParameter, "parse callback body: %v", err)
		}
		return valuesToMap(values), nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, assertErr(ErrInvalidParameter, "read callback body: %v", err)
		}
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, assertErr(ErrInvalidParameter, "parse callback body: %v", err)
		}
		return valuesToMap(values), nil
	case url.Values:
		return valuesToMap(b), nil
	case map[string]any:
		return b, nil
	case map[string]string:
		out := make(map[string]any, len(b))
		for k, v := range b {
			out[k] = v
		}
		return out, nil
	default:
		return nil, assertErr(ErrInvalidParameter, "unsupported callback body type %T", body)
	}
}

func valuesToMap(v url.Values) map[string]any {
	out := make(map[string]any, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}

func filterCallbackKeys(in map[string]any) map[string]string {
	out := make(map[string]string, len(callbackKeys))
	for _, k := range callbackKeys {
		if v, ok := in[k]; ok {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func filterCallbackKeysString(in map[string]string) map[string]string {
	out := make(map[string]string, len(callbackKeys))
	for _, k := range callbackKeys {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}
