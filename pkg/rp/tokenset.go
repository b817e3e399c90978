package rp

import (
	"encoding/json"
	"time"
)

// TokenSet wraps whatever fields a token endpoint response carried.
// Implementation-defined fields (session_state, anything AS-specific) ride
// along in the underlying map untouched; callers read them with Extra.
type TokenSet struct {
	values map[string]any
	claims map[string]any
}

// NewTokenSet builds a TokenSet from a decoded token endpoint JSON body,
// normalizing expires_in into an absolute expires_at so callers never have
// to redo that arithmetic relative to response time.
func NewTokenSet(values map[string]any) *TokenSet {
	ts := &TokenSet{values: cloneMap(values)}
	if _, hasAt := ts.values["expires_at"]; !hasAt {
		if ei, ok := asNumber(ts.values["expires_in"]); ok {
			ts.values["expires_at"] = float64(time.Now().Unix()) + ei
		}
	}
	return ts
}

// ParseTokenResponse decodes a token endpoint's JSON response body.
func ParseTokenResponse(body []byte) (*TokenSet, error) {
	var values map[string]any
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, assertErr(ErrClaimType, "failed to parse token response: %v", err)
	}
	return NewTokenSet(values), nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AccessToken returns the access_token field, or "" if absent.
func (t *TokenSet) AccessToken() string { return t.str("access_token") }

// RefreshToken returns the refresh_token field, or "" if absent.
func (t *TokenSet) RefreshToken() string { return t.str("refresh_token") }

// IDToken returns the raw, still-encoded id_token field, or "" if absent.
func (t *TokenSet) IDToken() string { return t.str("id_token") }

// TokenType returns the token_type field, defaulting to "Bearer" like most
// ASes do when they omit it.
func (t *TokenSet) TokenType() string {
	if v := t.str("token_type"); v != "" {
		return v
	}
	return "Bearer"
}

// Scope returns the scope field, or "" if absent.
func (t *TokenSet) Scope() string { return t.str("scope") }

// SessionState returns the session_state field, or "" if absent.
func (t *TokenSet) SessionState() string { return t.str("session_state") }

// ExpiresAt returns the absolute expiry as a unix timestamp, and ok=false
// if neither expires_at nor expires_in was present.
func (t *TokenSet) ExpiresAt() (int64, bool) {
	n, ok := asNumber(t.values["expires_at"])
	if !ok {
		return 0, false
	}
	return int64(n), true
}

// Extra returns an implementation-defined field by name.
func (t *TokenSet) Extra(name string) (any, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Raw returns the underlying value map. Callers must not mutate it.
func (t *TokenSet) Raw() map[string]any { return t.values }

// Claims returns the decoded ID Token payload, when one has been validated
// onto this TokenSet via setClaims. nil, false if none.
func (t *TokenSet) Claims() (map[string]any, bool) {
	if t.claims == nil {
		return nil, false
	}
	return t.claims, true
}

func (t *TokenSet) setClaims(c map[string]any) { t.claims = c }

// withSessionState returns a shallow copy of t with session_state set,
// used by refresh/callback to propagate it onto a freshly exchanged
// TokenSet per spec §4.6 step 7.
func (t *TokenSet) withSessionState(s string) *TokenSet {
	if s == "" {
		return t
	}
	clone := &TokenSet{values: cloneMap(t.values), claims: t.claims}
	clone.values["session_state"] = s
	return clone
}

func (t *TokenSet) str(name string) string {
	v, _ := t.values[name].(string)
	return v
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
