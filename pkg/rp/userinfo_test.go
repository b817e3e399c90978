package rp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userinfoTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	issuer := testIssuer()
	issuer.userinfoEndpoint = srv.URL + "/userinfo"

	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, issuer)
	require.NoError(t, err)
	client.HTTP = srv.Client()
	return client, srv
}

func TestUserinfoDefaultHeaderMethod(t *testing.T) {
	var gotAuth string
	client, srv := userinfoTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"sub":"248289761001","name":"Jane Doe"}`))
	})
	defer srv.Close()

	claims, err := client.Userinfo(context.Background(), "access-token-1", UserinfoOpts{})
	require.NoError(t, err)
	assert.Equal(t, "248289761001", claims["sub"])
	assert.Equal(t, "Bearer access-token-1", gotAuth)
}

func TestUserinfoQueryMethod(t *testing.T) {
	var gotQuery string
	client, srv := userinfoTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("access_token")
		w.Write([]byte(`{"sub":"248289761001"}`))
	})
	defer srv.Close()

	_, err := client.Userinfo(context.Background(), "access-token-1", UserinfoOpts{Method: UserinfoMethodQuery})
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", gotQuery)
}

func TestUserinfoBodyMethod(t *testing.T) {
	var gotBody string
	client, srv := userinfoTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotBody = r.PostForm.Get("access_token")
		w.Write([]byte(`{"sub":"248289761001"}`))
	})
	defer srv.Close()

	_, err := client.Userinfo(context.Background(), "access-token-1", UserinfoOpts{Method: UserinfoMethodBody})
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", gotBody)
}

func TestUserinfoSubMismatchIsRejected(t *testing.T) {
	client, srv := userinfoTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sub":"different-subject"}`))
	})
	defer srv.Close()

	idTokens := NewTokenSet(map[string]any{"id_token": "whatever"})
	idTokens.setClaims(map[string]any{"sub": "248289761001"})

	_, err := client.Userinfo(context.Background(), "access-token-1", UserinfoOpts{IDToken: idTokens})
	assert.ErrorIs(t, err, ErrUserinfoSubMismatch)
}

func TestUserinfoRequiresEndpoint(t *testing.T) {
	client, err := newTestClient(ClientMetadata{ClientID: "abc", RedirectURIs: []string{"https://rp.example.com/cb"}}, testIssuer())
	require.NoError(t, err)

	_, err = client.Userinfo(context.Background(), "at", UserinfoOpts{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestUserinfoPropagatesASError(t *testing.T) {
	client, srv := userinfoTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
	})
	defer srv.Close()

	_, err := client.Userinfo(context.Background(), "bad-token", UserinfoOpts{})
	require.Error(t, err)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "invalid_token", ase.ErrorCode)
}
