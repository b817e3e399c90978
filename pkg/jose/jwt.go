package jose

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"maps"

	"github.com/golang-jwt/jwt/v5"
)

// MakeJWT creates a signed JWT with the given header, body, signing method,
// and key. header is merged with the defaults signingMethod sets (provided
// values override defaults). Used by pkg/rp for client_secret_jwt /
// private_key_jwt assertions and signed request objects.
func MakeJWT(header, body jwt.MapClaims, signingMethod jwt.SigningMethod, signingKey any) (string, error) {
	token := jwt.NewWithClaims(signingMethod, body)
	maps.Copy(token.Header, header)

	return token.SignedString(signingKey)
}

// GetSigningMethodFromKey infers a JWT signing method from a private key's
// concrete type and size/curve, for callers that hold a raw crypto key
// rather than an already-chosen alg string.
func GetSigningMethodFromKey(privateKey any) jwt.SigningMethod {
	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		switch {
		case key.N.BitLen() >= 4096:
			return jwt.SigningMethodRS512
		case key.N.BitLen() >= 3072:
			return jwt.SigningMethodRS384
		default:
			return jwt.SigningMethodRS256
		}
	case *ecdsa.PrivateKey:
		switch key.Curve.Params().Name {
		case "P-384":
			return jwt.SigningMethodES384
		case "P-521":
			return jwt.SigningMethodES512
		default:
			return jwt.SigningMethodES256
		}
	default:
		return jwt.SigningMethodRS256
	}
}
