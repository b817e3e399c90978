package rp

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwk"

	josehelpers "github.com/sawyerh/node-openid-client/pkg/jose"
)

// symmetricKeyBits returns the derived-key length in bits for alg, and ok=false
// for algorithms that use the client_secret's raw UTF-8 bytes directly
// (HS256/HS384/HS512 client assertions and client_secret_jwt), per spec §4.5.
func symmetricKeyBits(alg string) (int, bool) {
	switch {
	case strings.Contains(alg, "CBC-HS256"):
		return 256, true
	case strings.Contains(alg, "CBC-HS384"):
		return 384, true
	case strings.Contains(alg, "CBC-HS512"):
		return 512, true
	case strings.HasPrefix(alg, "A128"):
		return 128, true
	case strings.HasPrefix(alg, "A192"):
		return 192, true
	case strings.HasPrefix(alg, "A256"):
		return 256, true
	default:
		return 0, false
	}
}

// rawSymmetricKey derives the client's oct key material for alg: SHA-256 of
// client_secret truncated to the required bit length for A{n}GCM/A{n}GCMKW/
// A{n}CBC-HS{m}, or the raw UTF-8 bytes of client_secret for everything else
// (HS* signing, client_secret_jwt/basic/post). Memoized on c.symmetricKeys,
// keyed by bit length (0 for the raw-bytes case), per spec §5.
func (c *Client) rawSymmetricKey(alg string) ([]byte, error) {
	if c.Metadata.ClientSecret == "" {
		return nil, assertErr(ErrConfiguration, "client_secret is required to derive a symmetric key for %s", alg)
	}

	bits, derived := symmetricKeyBits(alg)
	cacheKey := 0
	if derived {
		cacheKey = bits
	}

	if item := c.symmetricKeys.Get(cacheKey); item != nil {
		return item.Value(), nil
	}

	var raw []byte
	if derived {
		sum := sha256.Sum256([]byte(c.Metadata.ClientSecret))
		raw = sum[:bits/8]
	} else {
		raw = []byte(c.Metadata.ClientSecret)
	}

	c.symmetricKeys.Set(cacheKey, raw, 0)
	return raw, nil
}

// jweEncAlgorithm resolves the "enc" JOSE name to jwx's typed constant, for
// content encryption (response encryption) and key wrapping (GCMKW/CBC-HS
// algs used as both alg and enc in places).
func jweEncAlgorithm(name string) (jwa.ContentEncryptionAlgorithm, error) {
	switch name {
	case "A128GCM":
		return jwa.A128GCM(), nil
	case "A192GCM":
		return jwa.A192GCM(), nil
	case "A256GCM":
		return jwa.A256GCM(), nil
	case "A128CBC-HS256":
		return jwa.A128CBC_HS256(), nil
	case "A192CBC-HS384":
		return jwa.A192CBC_HS384(), nil
	case "A256CBC-HS512":
		return jwa.A256CBC_HS512(), nil
	default:
		return jwa.ContentEncryptionAlgorithm{}, assertErr(ErrAlgMismatch, "unsupported content encryption algorithm %q", name)
	}
}

// jweKeyAlgorithm resolves the "alg" JOSE name to jwx's typed key-management
// constant, covering both the asymmetric (RSA*/ECDH-ES*) and symmetric
// (dir/A*KW/A*GCMKW) families spec §4.5 requires.
func jweKeyAlgorithm(name string) (jwa.KeyEncryptionAlgorithm, error) {
	switch name {
	case "RSA1_5":
		return jwa.RSA1_5(), nil
	case "RSA-OAEP":
		return jwa.RSA_OAEP(), nil
	case "RSA-OAEP-256":
		return jwa.RSA_OAEP_256(), nil
	case "ECDH-ES":
		return jwa.ECDH_ES(), nil
	case "ECDH-ES+A128KW":
		return jwa.ECDH_ES_A128KW(), nil
	case "ECDH-ES+A192KW":
		return jwa.ECDH_ES_A192KW(), nil
	case "ECDH-ES+A256KW":
		return jwa.ECDH_ES_A256KW(), nil
	case "dir":
		return jwa.DIRECT(), nil
	case "A128KW":
		return jwa.A128KW(), nil
	case "A192KW":
		return jwa.A192KW(), nil
	case "A256KW":
		return jwa.A256KW(), nil
	case "A128GCMKW":
		return jwa.A128GCMKW(), nil
	case "A192GCMKW":
		return jwa.A192GCMKW(), nil
	case "A256GCMKW":
		return jwa.A256GCMKW(), nil
	default:
		return jwa.KeyEncryptionAlgorithm{}, assertErr(ErrAlgMismatch, "unsupported key management algorithm %q", name)
	}
}

// decryptJWE decrypts a compact-serialized JWE whose alg/enc header fields
// name algorithms the client is configured to accept for ctx (id_token or
// userinfo response decryption, spec §4.4/§4.6). Asymmetric algs decrypt
// against the client's own JWKS (c.Metadata.JWKS); symmetric algs derive a
// key from client_secret via rawSymmetricKey.
func (c *Client) decryptJWE(ctx context.Context, compact []byte, expectedAlg, expectedEnc string) ([]byte, error) {
	msg, err := jwe.Parse(compact)
	if err != nil {
		return nil, assertErr(ErrJWTMalformed, "parse JWE: %v", err)
	}
	headers := msg.ProtectedHeaders()

	if expectedAlg != "" && headers.Algorithm().String() != expectedAlg {
		return nil, assertErr(ErrAlgMismatch, "JWE alg %q does not match configured %q", headers.Algorithm().String(), expectedAlg)
	}
	if expectedEnc != "" && headers.ContentEncryption().String() != expectedEnc {
		return nil, assertErr(ErrAlgMismatch, "JWE enc %q does not match configured %q", headers.ContentEncryption().String(), expectedEnc)
	}

	algName := headers.Algorithm().String()
	keyAlg, err := jweKeyAlgorithm(algName)
	if err != nil {
		return nil, err
	}

	if isSymmetricKeyAlg(algName) {
		raw, err := c.rawSymmetricKey(algName)
		if err != nil {
			return nil, err
		}
		plaintext, err := jwe.Decrypt(compact, jwe.WithKey(keyAlg, raw))
		if err != nil {
			return nil, assertErr(ErrSignatureInvalid, "decrypt JWE: %v", err)
		}
		return plaintext, nil
	}

	if c.Metadata.JWKS == nil {
		return nil, assertErr(ErrConfiguration, "client jwks required to decrypt alg %q", algName)
	}
	kid := headers.KeyID()
	key, ok := lookupByKeyID(c.Metadata.JWKS, kid)
	if !ok {
		return nil, assertErr(ErrConfiguration, "no client key for JWE kid %q", kid)
	}
	plaintext, err := jwe.Decrypt(compact, jwe.WithKey(keyAlg, key))
	if err != nil {
		return nil, assertErr(ErrSignatureInvalid, "decrypt JWE: %v", err)
	}
	return plaintext, nil
}

func isSymmetricKeyAlg(alg string) bool {
	return alg == "dir" || strings.HasPrefix(alg, "A128") || strings.HasPrefix(alg, "A192") || strings.HasPrefix(alg, "A256")
}

func lookupByKeyID(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	if set.Len() != 1 {
		return nil, false
	}
	key, ok := set.Key(0)
	return key, ok
}

// requestObjectClaims are the default JWT claims for a signed/encrypted
// request object (spec §4.5): iss/aud identify the client and issuer, jti/iat
// make the object single-use and freshly issued, exp gives it a short,
// fixed lifetime. Caller-supplied params override these where they collide.
func requestObjectClaims(c *Client, params map[string]any) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.Metadata.ClientID,
		"aud": c.Issuer.Issuer(),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	for k, v := range params {
		claims[k] = v
	}
	return claims
}

// buildRequestObject signs (spec default alg "none" is a no-signature JWT
// with the unsecured "none" alg) and optionally JWE-encrypts params into a
// request object JWT suitable for the request= authorization parameter.
func (c *Client) buildRequestObject(params map[string]any) (string, error) {
	claims := requestObjectClaims(c, params)

	signAlg := c.Metadata.RequestObjectSigningAlg
	if signAlg == "" {
		signAlg = "none"
	}

	signed, err := c.signJWT(signAlg, claims)
	if err != nil {
		return "", err
	}

	encAlg := c.Metadata.RequestObjectEncryptionAlg
	if encAlg == "" {
		return signed, nil
	}
	encEnc := c.Metadata.RequestObjectEncryptionEnc
	if encEnc == "" {
		encEnc = "A128CBC-HS256"
	}

	encrypted, err := c.encryptJWT([]byte(signed), encAlg, encEnc)
	if err != nil {
		return "", err
	}
	return string(encrypted), nil
}

// signJWT signs claims with method, resolving the signing key from the
// client's own JWKS (asymmetric methods, used for private_key_jwt client
// assertions and signed request objects) or a client_secret-derived key
// (HS*). alg "none" returns an unsecured JWT (header+payload, empty
// signature segment), which golang-jwt's jwt.SigningMethodNone requires an
// explicit unsafe-allow sentinel for.
func (c *Client) signJWT(alg string, claims jwt.MapClaims) (string, error) {
	if alg == "none" {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", assertErr(ErrAlgMismatch, "unsupported signing algorithm %q", alg)
	}

	if strings.HasPrefix(alg, "HS") {
		raw, err := c.rawSymmetricKey(alg)
		if err != nil {
			return "", err
		}
		return josehelpers.MakeJWT(nil, claims, method, raw)
	}

	signingKey, err := c.signingKey(alg)
	if err != nil {
		return "", err
	}
	return josehelpers.MakeJWT(nil, claims, method, signingKey)
}

// signingKey returns the raw crypto.Signer from the client's JWKS matching
// alg's key type, for asymmetric JWT signing (private_key_jwt, signed
// request objects).
func (c *Client) signingKey(alg string) (any, error) {
	if c.Metadata.JWKS == nil {
		return nil, assertErr(ErrConfiguration, "client jwks required to sign with %q", alg)
	}
	wantKty := ktyForAlg(alg)
	it := c.Metadata.JWKS.Keys(context.Background())
	for it.Next(context.Background()) {
		key := it.Pair().Value.(jwk.Key)
		if key.KeyType().String() == wantKty && hasPrivateComponent(key) {
			var raw any
			if err := jwk.Export(key, &raw); err != nil {
				return nil, fmt.Errorf("export signing key: %w", err)
			}
			return raw, nil
		}
	}
	return nil, assertErr(ErrConfiguration, "no %s private key in client jwks for alg %q", wantKty, alg)
}

func ktyForAlg(alg string) string {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return "RSA"
	case strings.HasPrefix(alg, "ES"):
		return "EC"
	case alg == "EdDSA":
		return "OKP"
	default:
		return ""
	}
}

// encryptJWT wraps payload (typically an already-signed JWT) in a compact
// JWE with cty "JWT" so the recipient knows to parse the plaintext as a JWT,
// per spec §4.5's request object encryption rule.
func (c *Client) encryptJWT(payload []byte, alg, enc string) ([]byte, error) {
	keyAlg, err := jweKeyAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	contentAlg, err := jweEncAlgorithm(enc)
	if err != nil {
		return nil, err
	}

	var key any
	if isSymmetricKeyAlg(alg) {
		key, err = c.rawSymmetricKey(alg)
		if err != nil {
			return nil, err
		}
	} else {
		key, err = c.issuerEncryptionKey(alg)
		if err != nil {
			return nil, err
		}
	}

	return jwe.Encrypt(payload, jwe.WithKey(keyAlg, key), jwe.WithContentEncryption(contentAlg), jwe.WithContentType("JWT"))
}

// issuerEncryptionKey returns the AS's public encryption key for alg, used
// when request objects are encrypted to the AS rather than decrypted from it.
func (c *Client) issuerEncryptionKey(alg string) (jwk.Key, error) {
	key, err := c.Issuer.Key(context.Background(), JOSEHeader{Algorithm: alg, Use: "enc"})
	if err != nil {
		return nil, fmt.Errorf("resolve issuer encryption key: %w", err)
	}
	return key, nil
}
