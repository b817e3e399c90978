package rp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	var gotAuth, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"client_id":"registered-client-id","redirect_uris":["https://rp.example.com/cb"]}`))
	}))
	defer srv.Close()

	issuer := testIssuer()
	issuer.registrationEndpoint = srv.URL + "/register"

	client, err := Register(context.Background(), http.DefaultClient, issuer, nil, ClientMetadata{
		RedirectURIs: []string{"https://rp.example.com/cb"},
	}, RegisterOpts{InitialAccessToken: "initial-token"})
	require.NoError(t, err)

	assert.Equal(t, "registered-client-id", client.Metadata.ClientID)
	assert.Equal(t, "Bearer initial-token", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, []any{"https://rp.example.com/cb"}, gotBody["redirect_uris"])
}

func TestRegisterRequiresEndpoint(t *testing.T) {
	_, err := Register(context.Background(), http.DefaultClient, testIssuer(), nil, ClientMetadata{}, RegisterOpts{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRegisterPropagatesASErrorOnNon201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_client_metadata"}`))
	}))
	defer srv.Close()

	issuer := testIssuer()
	issuer.registrationEndpoint = srv.URL + "/register"

	_, err := Register(context.Background(), http.DefaultClient, issuer, nil, ClientMetadata{}, RegisterOpts{})
	require.Error(t, err)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "invalid_client_metadata", ase.ErrorCode)
}

func TestFromURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer registration-access-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"client_id":"abc","redirect_uris":["https://rp.example.com/cb"]}`))
	}))
	defer srv.Close()

	client, err := FromURI(context.Background(), http.DefaultClient, testIssuer(), nil, srv.URL, "registration-access-token", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", client.Metadata.ClientID)
}
