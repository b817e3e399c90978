package rp

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// IDTokenContext names the point in a flow at which an ID Token is being
// validated, since the set of required claims and hash checks differs by
// context (spec §4.4): an authorization-endpoint ID Token is checked before
// any code exchange has happened and so carries required at_hash/c_hash/
// s_hash checks that a token-endpoint ID Token does not.
type IDTokenContext int

const (
	// ContextAuthorization validates an ID Token received directly at the
	// authorization endpoint (the hybrid/implicit response_type=id_token
	// case), where c_hash and s_hash may be required alongside at_hash.
	ContextAuthorization IDTokenContext = iota
	// ContextToken validates an ID Token returned from the token endpoint,
	// after code exchange or refresh.
	ContextToken
	// ContextUserinfo validates a JWT response from the userinfo endpoint:
	// only sub is required and the iss/timestamp/nonce/aud/hash checks are
	// skipped; decryption and signature verification still apply.
	ContextUserinfo
)

// IDTokenChecks carries the caller-supplied, request-specific values an ID
// Token's claims must agree with: the nonce/state this authorization
// request sent, the max_age constraint in effect, and (for userinfo) the
// subject it must match.
type IDTokenChecks struct {
	Nonce   string
	State   string
	MaxAge  *int
	Subject string

	// AccessToken and Code/State, when non-empty, trigger at_hash/c_hash/
	// s_hash verification against the corresponding response artifact.
	AccessToken string
	Code        string
}

// IDToken is the result of a successful validation: the decoded claim set,
// plus the pieces later steps need (raw JWS header, in case of client_secret_jwt
// derived verification logging).
type IDToken struct {
	Claims map[string]any
	Header map[string]any
}

func (t *IDToken) str(name string) string {
	v, _ := t.Claims[name].(string)
	return v
}

// Subject returns the sub claim.
func (t *IDToken) Subject() string { return t.str("sub") }

// ValidateIDToken implements the ID Token Validator, spec §4.4: extraction,
// optional JWE decryption, header/claims parsing, required-claims-by-context,
// iss (with AAD multitenant substitution), iat/nbf/exp/auth_time/max_age,
// nonce, aud/azp, at_hash/c_hash/s_hash, and finally signature verification.
// Signature is checked last and always collapses to ErrSignatureInvalid so
// no earlier step leaks an oracle about why a forged token failed.
func (c *Client) ValidateIDToken(ctx context.Context, raw string, idctx IDTokenContext, checks IDTokenChecks) (*IDToken, error) {
	if raw == "" {
		return nil, assertErr(ErrMissingIDToken, "id_token not present")
	}

	compact, err := c.maybeDecrypt(ctx, []byte(raw), idctx)
	if err != nil {
		return nil, err
	}

	header, payload, signingInput, signature, err := splitJWS(compact)
	if err != nil {
		return nil, err
	}

	alg, _ := header["alg"].(string)
	if err := c.checkSignedResponseAlg(alg, idctx); err != nil {
		return nil, err
	}

	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}

	if err := requireClaims(claims, idctx); err != nil {
		return nil, err
	}

	if checks.Subject != "" {
		if sub, _ := claims["sub"].(string); sub != checks.Subject {
			return nil, assertErr(ErrUserinfoSubMismatch, "sub %q does not match expected %q", sub, checks.Subject)
		}
	}

	// A userinfo JWT response carries no ID Token claim set; the claim
	// checks below apply to ID Tokens only.
	if idctx != ContextUserinfo {
		if err := c.checkIssuer(claims); err != nil {
			return nil, err
		}
		if err := c.checkTimestamps(claims, checks); err != nil {
			return nil, err
		}
		if err := checkNonce(claims, checks.Nonce); err != nil {
			return nil, err
		}
		if err := c.checkAudience(claims); err != nil {
			return nil, err
		}
		if err := checkHashes(claims, alg, idctx, checks); err != nil {
			return nil, err
		}
	}

	if err := c.verifySignature(ctx, alg, header, signingInput, signature, claims); err != nil {
		return nil, err
	}

	return &IDToken{Claims: claims, Header: header}, nil
}

// maybeDecrypt decrypts compact if it is a 5-segment JWE, using the
// <ctx>_encrypted_response_alg/enc pair for idctx (id_token, or userinfo
// when validating a userinfo JWT response), returning its JWS payload; a
// 3-segment JWS passes through unchanged.
func (c *Client) maybeDecrypt(ctx context.Context, compact []byte, idctx IDTokenContext) ([]byte, error) {
	segments := strings.Count(string(compact), ".") + 1
	switch segments {
	case 3:
		return compact, nil
	case 5:
		alg, enc := c.encryptedResponseAlgFor(idctx)
		plaintext, err := c.decryptJWE(ctx, compact, alg, enc)
		if err != nil {
			return nil, err
		}
		return plaintext, nil
	default:
		return nil, assertErr(ErrJWTMalformed, "id_token has %d segments, expected 3 (JWS) or 5 (JWE)", segments)
	}
}

func (c *Client) encryptedResponseAlgFor(idctx IDTokenContext) (alg, enc string) {
	if idctx == ContextUserinfo {
		return c.Metadata.UserinfoEncryptedResponseAlg, c.Metadata.UserinfoEncryptedResponseEnc
	}
	return c.Metadata.IDTokenEncryptedResponseAlg, c.Metadata.IDTokenEncryptedResponseEnc
}

// splitJWS decodes a compact JWS into its header, payload, the signing input
// (header.payload, still base64url-encoded) and raw signature bytes.
func splitJWS(compact []byte) (header map[string]any, payload []byte, signingInput []byte, signature []byte, err error) {
	parts := strings.Split(string(compact), ".")
	if len(parts) != 3 {
		return nil, nil, nil, nil, assertErr(ErrJWTMalformed, "id_token JWS has %d segments, expected 3", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, nil, assertErr(ErrJWTMalformed, "decode header: %v", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, nil, nil, assertErr(ErrJWTMalformed, "parse header: %v", err)
	}

	payload, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, nil, assertErr(ErrJWTMalformed, "decode payload: %v", err)
	}

	signature, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, nil, assertErr(ErrJWTMalformed, "decode signature: %v", err)
	}

	signingInput = []byte(parts[0] + "." + parts[1])
	return header, payload, signingInput, signature, nil
}

func decodeClaims(payload []byte) (map[string]any, error) {
	var claims map[string]any
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, assertErr(ErrClaimType, "parse id_token payload: %v", err)
	}
	return claims, nil
}

// checkSignedResponseAlg enforces <ctx>_signed_response_alg when the client
// configured one for idctx; otherwise any alg except "none" passes here
// (the signature step below is what actually proves it).
func (c *Client) checkSignedResponseAlg(alg string, idctx IDTokenContext) error {
	if alg == "" {
		return assertErr(ErrClaimMissing, "id_token header missing alg")
	}
	want := c.Metadata.IDTokenSignedResponseAlg
	if idctx == ContextUserinfo {
		want = c.Metadata.UserinfoSignedResponseAlg
	}
	if want != "" && alg != want {
		return assertErr(ErrAlgMismatch, "id_token alg %q does not match configured %q", alg, want)
	}
	if want == "" && alg == "none" {
		return assertErr(ErrAlgMismatch, "unsigned token rejected: no signed response alg configured")
	}
	return nil
}

// requireClaims enforces the context-dependent required-claims table from
// spec §4.4: iss/sub/aud/exp/iat are always required except when idctx is
// ContextUserinfo, where a userinfo JWT response needs only sub.
func requireClaims(claims map[string]any, idctx IDTokenContext) error {
	if idctx == ContextUserinfo {
		if _, ok := claims["sub"]; !ok {
			return assertErr(ErrClaimMissing, "missing required claim \"sub\"")
		}
		return nil
	}
	for _, name := range []string{"iss", "sub", "aud", "exp", "iat"} {
		if _, ok := claims[name]; !ok {
			return assertErr(ErrClaimMissing, "missing required claim %q", name)
		}
	}
	return nil
}

// checkIssuer verifies iss against c.Issuer.Issuer(), substituting the
// AAD multitenant "{tenantid}" placeholder with the token's own tid claim
// first when the client is configured for it (spec §4.4 step 5).
func (c *Client) checkIssuer(claims map[string]any) error {
	iss, _ := claims["iss"].(string)
	want := c.Issuer.Issuer()
	if c.Metadata.AADMultitenant {
		if tid, ok := claims["tid"].(string); ok && tid != "" {
			want = strings.ReplaceAll(want, "{tenantid}", tid)
		}
	}
	if iss != want {
		return assertErr(ErrIssuerMismatch, "unexpected iss value %q, expected %q", iss, want)
	}
	return nil
}

// checkTimestamps validates iat/exp/nbf and auth_time/max_age, all widened
// symmetrically by c.clockTolerance().
func (c *Client) checkTimestamps(claims map[string]any, checks IDTokenChecks) error {
	tolerance := c.clockTolerance()
	now := time.Now()

	exp, err := claimTime(claims, "exp")
	if err != nil {
		return err
	}
	if !now.Before(exp.Add(tolerance)) {
		return assertErr(ErrTokenExpired, "id_token expired at %s", exp)
	}

	iat, err := claimTime(claims, "iat")
	if err != nil {
		return err
	}
	if now.Before(iat.Add(-tolerance)) {
		return assertErr(ErrTokenNotYetValid, "id_token iat %s is in the future", iat)
	}

	if nbfRaw, ok := claims["nbf"]; ok {
		nbf, err := numericTime(nbfRaw)
		if err != nil {
			return assertErr(ErrClaimType, "nbf is not a valid NumericDate: %v", err)
		}
		if now.Before(nbf.Add(-tolerance)) {
			return assertErr(ErrTokenNotYetValid, "id_token nbf %s is in the future", nbf)
		}
	}

	maxAge := checks.MaxAge
	authTimeRequired := maxAge != nil || c.Metadata.RequireAuthTime

	authTimeRaw, hasAuthTime := claims["auth_time"]
	if authTimeRequired && !hasAuthTime {
		return assertErr(ErrAuthTimeRequired, "auth_time required but missing")
	}
	if hasAuthTime && maxAge != nil {
		authTime, err := numericTime(authTimeRaw)
		if err != nil {
			return assertErr(ErrClaimType, "auth_time is not a valid NumericDate: %v", err)
		}
		expiry := authTime.Add(time.Duration(*maxAge) * time.Second).Add(tolerance)
		if now.After(expiry) {
			return assertErr(ErrMaxAgeExceeded, "too much time has elapsed since the last End-User authentication")
		}
	}

	return nil
}

func claimTime(claims map[string]any, name string) (time.Time, error) {
	v, ok := claims[name]
	if !ok {
		return time.Time{}, assertErr(ErrClaimMissing, "missing required claim %q", name)
	}
	t, err := numericTime(v)
	if err != nil {
		return time.Time{}, assertErr(ErrClaimType, "%s is not a valid NumericDate: %v", name, err)
	}
	return t, nil
}

func numericTime(v any) (time.Time, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(f), 0), nil
	case float64:
		return time.Unix(int64(n), 0), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
}

func checkNonce(claims map[string]any, expected string) error {
	if expected == "" {
		return nil
	}
	got, _ := claims["nonce"].(string)
	if got != expected {
		return assertErr(ErrNonceMismatch, "nonce mismatch")
	}
	return nil
}

// checkAudience implements spec §4.4's aud/azp rule: aud may be a string or
// an array; a multi-valued aud requires azp, and when present azp must equal
// client_id. In all cases client_id must appear in aud.
func (c *Client) checkAudience(claims map[string]any) error {
	auds, err := audienceList(claims["aud"])
	if err != nil {
		return err
	}
	if !contains(auds, c.Metadata.ClientID) {
		return assertErr(ErrAudienceMismatch, "aud does not contain client_id %q", c.Metadata.ClientID)
	}

	azp, hasAzp := claims["azp"].(string)
	if len(auds) > 1 {
		if !hasAzp {
			return assertErr(ErrAudienceMismatch, "azp required when aud has multiple values")
		}
	}
	if hasAzp && azp != c.Metadata.ClientID {
		return assertErr(ErrAudienceMismatch, "azp %q does not match client_id", azp)
	}
	return nil
}

func audienceList(v any) ([]string, error) {
	switch aud := v.(type) {
	case string:
		return []string{aud}, nil
	case []any:
		out := make([]string, 0, len(aud))
		for _, item := range aud {
			s, ok := item.(string)
			if !ok {
				return nil, assertErr(ErrClaimType, "aud array element is not a string")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, assertErr(ErrClaimType, "aud has unexpected type %T", v)
	}
}

// checkHashes verifies at_hash/c_hash/s_hash, each required or optional
// depending on idctx and whether the corresponding artifact was supplied
// (spec §4.4 step 10): at_hash is required whenever an access_token
// accompanies the ID Token, c_hash when a code does, s_hash only in
// ContextAuthorization when checks.State is set.
func checkHashes(claims map[string]any, alg string, idctx IDTokenContext, checks IDTokenChecks) error {
	required := idctx == ContextAuthorization

	if checks.AccessToken != "" {
		if err := checkHashClaim(claims, "at_hash", alg, checks.AccessToken, required); err != nil {
			return err
		}
	}
	if checks.Code != "" {
		if err := checkHashClaim(claims, "c_hash", alg, checks.Code, required); err != nil {
			return err
		}
	}
	if idctx == ContextAuthorization && checks.State != "" {
		if err := checkHashClaim(claims, "s_hash", alg, checks.State, true); err != nil {
			return err
		}
	}
	return nil
}

// checkHashClaim verifies claimName against value's left-half hash. When
// required is false (the token context, spec §4.4 step 10), an absent claim
// is not an error; a present-but-wrong one still is.
func checkHashClaim(claims map[string]any, claimName, alg, value string, required bool) error {
	got, ok := claims[claimName].(string)
	if !ok {
		if required {
			return assertErr(ErrClaimMissing, "missing required claim %q", claimName)
		}
		return nil
	}
	want, err := leftHalfHash(alg, value)
	if err != nil {
		return assertErr(ErrAlgMismatch, "%s: %v", claimName, err)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return assertErr(ErrHashMismatch, "%s mismatch", claimName)
	}
	return nil
}

// leftHalfHash implements the at_hash/c_hash/s_hash algorithm common to all
// three claims: hash value with the digest matching alg's bit strength,
// base64url-encode the left half of the digest.
func leftHalfHash(alg, value string) (string, error) {
	var sum []byte
	switch {
	case strings.HasSuffix(alg, "256"):
		h := sha256.Sum256([]byte(value))
		sum = h[:]
	case strings.HasSuffix(alg, "384"):
		h := sha512.Sum384([]byte(value))
		sum = h[:]
	case strings.HasSuffix(alg, "512"):
		h := sha512.Sum512([]byte(value))
		sum = h[:]
	default:
		return "", fmt.Errorf("cannot derive hash digest for alg %q", alg)
	}
	half := sum[:len(sum)/2]
	return base64.RawURLEncoding.EncodeToString(half), nil
}

// verifySignature is the last validation step, deliberately collapsing every
// failure mode to ErrSignatureInvalid (spec §4.4 step 11). alg "none" is
// accepted only when the client itself is configured for it (Normalize
// never defaults to "none", so this only fires when the caller explicitly
// set id_token_signed_response_alg to "none").
func (c *Client) verifySignature(ctx context.Context, alg string, header map[string]any, signingInput, signature []byte, claims map[string]any) error {
	if alg == "none" {
		if len(signature) != 0 {
			return assertErr(ErrSignatureInvalid, "alg none id_token must not carry a signature")
		}
		return nil
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return assertErr(ErrSignatureInvalid, "unsupported signing alg %q", alg)
	}

	if strings.HasPrefix(alg, "HS") {
		raw, err := c.rawSymmetricKey(alg)
		if err != nil {
			return assertErr(ErrSignatureInvalid, "resolve verification key: %v", err)
		}
		if err := method.Verify(string(signingInput), signature, raw); err != nil {
			return assertErr(ErrSignatureInvalid, "signature verification failed")
		}
		return nil
	}

	kid, _ := header["kid"].(string)
	key, err := c.Issuer.Key(ctx, JOSEHeader{KeyID: kid, Algorithm: alg, Use: "sig"})
	if err != nil {
		return assertErr(ErrSignatureInvalid, "resolve verification key: %v", err)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return assertErr(ErrSignatureInvalid, "export verification key: %v", err)
	}
	if err := method.Verify(string(signingInput), signature, raw); err != nil {
		return assertErr(ErrSignatureInvalid, "signature verification failed")
	}
	return nil
}
