// Package jose loads the client's own key material from disk into the
// jwx/v3 representation pkg/rp expects on ClientMetadata.JWKS: PEM private
// keys for private_key_jwt client authentication and response decryption,
// assembled into a jwk.Set. Grounded on dc4eu-vc's pkg/jose, generalized
// from a single EC-only, jwx v1 helper into a multi-algorithm jwx v3 one.
package jose

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// LoadSigningKey reads a PEM-encoded EC or RSA private key (PKCS1, PKCS8,
// or SEC1) and returns it as a jwk.Key with the given key ID set, ready to
// be added to a client's JWKS.
func LoadSigningKey(path, kid string) (jwk.Key, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: not PEM-encoded", path)
	}

	key, err := parsePrivateKey(block)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	jwkKey, err := jwk.Import(key)
	if err != nil {
		return nil, fmt.Errorf("%s: import as jwk: %w", path, err)
	}
	if kid != "" {
		if err := jwkKey.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
	}
	return jwkKey, nil
}

func parsePrivateKey(block *pem.Block) (any, error) {
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch key.(type) {
		case *ecdsa.PrivateKey, *rsa.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported PKCS8 key type %T", key)
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// LoadKeySet reads one or more signing keys and assembles them into a
// jwk.Set suitable for ClientMetadata.JWKS. kids[i] sets the kid of the
// key at paths[i]; a missing or empty entry leaves that key without an
// explicit kid.
func LoadKeySet(paths, kids []string) (jwk.Set, error) {
	set := jwk.NewSet()
	for i, path := range paths {
		kid := ""
		if i < len(kids) {
			kid = kids[i]
		}
		key, err := LoadSigningKey(path, kid)
		if err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}
