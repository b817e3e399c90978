package rp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signAggregatedJWT(t *testing.T, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestResolveClaimsAggregated(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubKey, err := jwk.Import(priv.Public())
	require.NoError(t, err)

	issuer := &stubIssuer{issuer: "https://issuer.example.com", key: pubKey}
	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, issuer)
	require.NoError(t, err)

	now := time.Now()
	aggregated := signAggregatedJWT(t, priv, jwt.MapClaims{
		"iss":          "https://issuer.example.com",
		"aud":          "abc",
		"exp":          now.Add(time.Hour).Unix(),
		"iat":          now.Unix(),
		"credit_score": 720,
	})

	claims := map[string]any{
		"sub": "user1",
		"_claim_names": map[string]any{
			"credit_score": "src1",
		},
		"_claim_sources": map[string]any{
			"src1": map[string]any{"JWT": aggregated},
		},
	}

	merged, err := client.ResolveClaims(context.Background(), claims, ResolveClaimsOpts{})
	require.NoError(t, err)
	assert.Equal(t, "user1", merged["sub"])
	assert.Equal(t, "720", fmt.Sprint(merged["credit_score"]))
	_, hasNames := merged["_claim_names"]
	_, hasSources := merged["_claim_sources"]
	assert.False(t, hasNames, "bookkeeping must be removed once every source resolves")
	assert.False(t, hasSources)
}

func TestResolveClaimsDistributed(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubKey, err := jwk.Import(priv.Public())
	require.NoError(t, err)

	now := time.Now()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		distributed := signAggregatedJWT(t, priv, jwt.MapClaims{
			"iss":          "https://issuer.example.com",
			"aud":          "abc",
			"exp":          now.Add(time.Hour).Unix(),
			"iat":          now.Unix(),
			"shopping_history": "lots",
		})
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(distributed))
	}))
	defer srv.Close()

	issuer := &stubIssuer{issuer: "https://issuer.example.com", key: pubKey}
	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, issuer)
	require.NoError(t, err)
	client.HTTP = srv.Client()

	claims := map[string]any{
		"sub": "user1",
		"_claim_names": map[string]any{
			"shopping_history": "src1",
		},
		"_claim_sources": map[string]any{
			"src1": map[string]any{"endpoint": srv.URL},
		},
	}

	merged, err := client.ResolveClaims(context.Background(), claims, ResolveClaimsOpts{SourceTokens: map[string]string{"src1": "bearer-token-1"}})
	require.NoError(t, err)
	assert.Equal(t, "lots", merged["shopping_history"])
	assert.Equal(t, "Bearer bearer-token-1", gotAuth)
}

func TestResolveClaimsNoBookkeepingIsNoop(t *testing.T) {
	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, testIssuer())
	require.NoError(t, err)

	claims := map[string]any{"sub": "user1"}
	merged, err := client.ResolveClaims(context.Background(), claims, ResolveClaimsOpts{})
	require.NoError(t, err)
	assert.Equal(t, claims, merged)
}

func TestResolveClaimsMissingAccessTokenIsAnnotatedWithSource(t *testing.T) {
	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, testIssuer())
	require.NoError(t, err)

	claims := map[string]any{
		"sub": "user1",
		"_claim_names": map[string]any{
			"shopping_history": "src1",
		},
		"_claim_sources": map[string]any{
			"src1": map[string]any{"endpoint": "https://distributed.example.com/claims"},
		},
	}

	_, err = client.ResolveClaims(context.Background(), claims, ResolveClaimsOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src1")
}
