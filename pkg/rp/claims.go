package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// claimNames is the shape of an ID Token/userinfo response's _claim_names
// member: claim name -> name of the _claim_sources entry that supplies it.
type claimNames map[string]string

// claimSource is one entry of _claim_sources: either a JWT field (an
// aggregated claim, already embedded as a signed JWT) or an endpoint+
// access_token pair (a distributed claim, fetched over the network).
type claimSource struct {
	JWT         string `json:"JWT,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// ResolveClaimsOpts supplies the bearer tokens for distributed claim
// sources that don't embed their own access_token, keyed by source name
// (the key in _claim_names' value / _claim_sources' key).
type ResolveClaimsOpts struct {
	SourceTokens map[string]string
}

// ResolveClaims implements spec §4.6's distributed/aggregated claims
// handling: each _claim_sources entry is verified (aggregated, via its
// embedded JWT) or fetched and verified (distributed, via its endpoint),
// the claims _claim_names assigns to it merged into a copy of claims (the
// input map is not modified), and the bookkeeping members removed once
// exhausted. Sources are processed concurrently since spec §9
// calls this out as a required parallelism point; a failure on one source
// does not short-circuit the others, but the original error (annotated with
// the source name) is returned once all sources have finished.
func (c *Client) ResolveClaims(ctx context.Context, claims map[string]any, opts ResolveClaimsOpts) (map[string]any, error) {
	names, sources, err := extractClaimBookkeeping(claims)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 || len(sources) == 0 {
		return claims, nil
	}

	type result struct {
		source string
		values map[string]any
		err    error
	}

	results := make(chan result, len(sources))
	var wg sync.WaitGroup
	for name, src := range sources {
		wg.Add(1)
		go func(name string, src claimSource) {
			defer wg.Done()
			values, err := c.resolveClaimSource(ctx, name, src, opts)
			results <- result{source: name, values: values, err: err}
		}(name, src)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	merged := cloneMap(claims)
	var firstErr error
	resolvedSources := map[string]bool{}
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = withSource(r.err, r.source)
			}
			continue
		}
		resolvedSources[r.source] = true
		for k, v := range r.values {
			if names[k] == r.source {
				merged[k] = v
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	remainingNames := claimNames{}
	for claim, source := range names {
		if !resolvedSources[source] {
			remainingNames[claim] = source
		}
	}
	remainingSources := map[string]claimSource{}
	for name, src := range sources {
		if !resolvedSources[name] {
			remainingSources[name] = src
		}
	}

	if len(remainingNames) == 0 {
		delete(merged, "_claim_names")
		delete(merged, "_claim_sources")
	} else {
		merged["_claim_names"] = remainingNames
		merged["_claim_sources"] = remainingSources
	}
	return merged, nil
}

func extractClaimBookkeeping(claims map[string]any) (claimNames, map[string]claimSource, error) {
	rawNames, hasNames := claims["_claim_names"]
	rawSources, hasSources := claims["_claim_sources"]
	if !hasNames && !hasSources {
		return nil, nil, nil
	}

	names := claimNames{}
	if hasNames {
		encoded, err := json.Marshal(rawNames)
		if err != nil {
			return nil, nil, assertErr(ErrClaimType, "_claim_names: %v", err)
		}
		if err := json.Unmarshal(encoded, &names); err != nil {
			return nil, nil, assertErr(ErrClaimType, "_claim_names: %v", err)
		}
	}

	sources := map[string]claimSource{}
	if hasSources {
		encoded, err := json.Marshal(rawSources)
		if err != nil {
			return nil, nil, assertErr(ErrClaimType, "_claim_sources: %v", err)
		}
		if err := json.Unmarshal(encoded, &sources); err != nil {
			return nil, nil, assertErr(ErrClaimType, "_claim_sources: %v", err)
		}
	}
	return names, sources, nil
}

// resolveClaimSource verifies an aggregated source's embedded JWT, or
// fetches and verifies a distributed source's endpoint, returning its
// claims.
func (c *Client) resolveClaimSource(ctx context.Context, name string, src claimSource, opts ResolveClaimsOpts) (map[string]any, error) {
	if src.JWT != "" {
		return c.verifyClaimSourceJWT(ctx, src.JWT)
	}
	if src.Endpoint != "" {
		token := src.AccessToken
		if token == "" {
			token = opts.SourceTokens[name]
		}
		if token == "" {
			return nil, fmt.Errorf("no access token available for claim source %q", name)
		}
		compact, err := c.fetchClaimSourceJWT(ctx, src.Endpoint, token)
		if err != nil {
			return nil, err
		}
		return c.verifyClaimSourceJWT(ctx, compact)
	}
	return nil, fmt.Errorf("claim source has neither JWT nor endpoint")
}

func (c *Client) fetchClaimSourceJWT(ctx context.Context, endpoint, token string) (string, error) {
	opts := newFormRequest(http.MethodGet, endpoint)
	opts.accept = "application/jwt"
	opts.headers.Set("Authorization", "Bearer "+token)

	resp, body, err := c.do(ctx, opts)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", parseASError(body, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/jwt") {
		return "", fmt.Errorf("claim source endpoint returned content-type %q, expected application/jwt", ct)
	}
	return string(body), nil
}

// verifyClaimSourceJWT resolves the right Issuer for the source JWT's iss
// (itself, via the registry, or discovered) and verifies its signature,
// per spec §4.6.
func (c *Client) verifyClaimSourceJWT(ctx context.Context, compact string) (map[string]any, error) {
	header, payload, signingInput, signature, err := splitJWS([]byte(compact))
	if err != nil {
		return nil, err
	}
	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}

	alg, _ := header["alg"].(string)
	iss, _ := claims["iss"].(string)

	issuer := c.Issuer
	if iss != "" && iss != c.Issuer.Issuer() {
		if c.Issuers == nil {
			return nil, fmt.Errorf("claim source issuer %q requires an issuer registry", iss)
		}
		resolved, err := c.Issuers.Resolve(ctx, iss)
		if err != nil {
			return nil, err
		}
		issuer = resolved
	}

	kid, _ := header["kid"].(string)
	key, err := issuer.Key(ctx, JOSEHeader{KeyID: kid, Algorithm: alg, Use: "sig"})
	if err != nil {
		return nil, assertErr(ErrSignatureInvalid, "resolve claim source verification key: %v", err)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, assertErr(ErrSignatureInvalid, "export claim source verification key: %v", err)
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, assertErr(ErrSignatureInvalid, "unsupported claim source signing alg %q", alg)
	}
	if err := method.Verify(string(signingInput), signature, raw); err != nil {
		return nil, assertErr(ErrSignatureInvalid, "claim source signature verification failed")
	}

	delete(claims, "iss")
	delete(claims, "aud")
	delete(claims, "exp")
	delete(claims, "iat")
	return claims, nil
}
