package rp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowTestClient(t *testing.T, tokenHandler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	issuer := testIssuer()
	issuer.tokenEndpoint = srv.URL + "/token"
	issuer.revocationEndpoint = srv.URL + "/revoke"
	issuer.introspectionEndpoint = srv.URL + "/introspect"

	client, err := newTestClient(ClientMetadata{
		ClientID:                "abc",
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodNone,
	}, issuer)
	require.NoError(t, err)
	client.HTTP = srv.Client()
	return client, srv
}

func TestCallbackExchangesCodeForTokens(t *testing.T) {
	var gotGrantType, gotCode, gotVerifier string
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrantType = r.PostForm.Get("grant_type")
		gotCode = r.PostForm.Get("code")
		gotVerifier = r.PostForm.Get("code_verifier")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	})
	defer srv.Close()

	ts, err := client.Callback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?code=abc123&state=xyz", CallbackChecks{
		State:        "xyz",
		CodeVerifier: "verifier-value",
	})
	require.NoError(t, err)
	assert.Equal(t, "at", ts.AccessToken())
	assert.Equal(t, "authorization_code", gotGrantType)
	assert.Equal(t, "abc123", gotCode)
	assert.Equal(t, "verifier-value", gotVerifier)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("token endpoint must not be reached on a state mismatch")
	})
	defer srv.Close()

	_, err := client.Callback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?code=abc123&state=wrong", CallbackChecks{State: "xyz"})
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestCallbackSurfacesASError(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	_, err := client.Callback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?error=access_denied&error_description=user+said+no&state=xyz", CallbackChecks{State: "xyz"})
	require.Error(t, err)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "access_denied", ase.ErrorCode)
	assert.Equal(t, "user said no", ase.ErrorDescription)
}

func TestCallbackRequiresCodeForResponseTypeCode(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	_, err := client.Callback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?state=xyz", CallbackChecks{State: "xyz", ResponseType: "code"})
	assert.ErrorIs(t, err, ErrMissingResponseParameter)
}

func TestCallbackWithoutCodeReturnsBareTokenSet(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no code in the response, token endpoint must not be called")
	})
	defer srv.Close()

	ts, err := client.Callback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?state=xyz", CallbackChecks{State: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"state": "xyz"}, ts.Raw(), "neither id_token nor code present, the response parameters come back as a bare TokenSet")
}

func TestOAuthCallbackRejectsIDTokenResponseType(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	_, err := client.OAuthCallback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?state=xyz", CallbackChecks{State: "xyz", ResponseType: "id_token"})
	assert.ErrorIs(t, err, ErrUnsupportedResponseType)
}

func TestOAuthCallbackExchangesCode(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"at"}`))
	})
	defer srv.Close()

	ts, err := client.OAuthCallback(context.Background(), "https://rp.example.com/cb", "https://rp.example.com/cb?code=abc&state=xyz", CallbackChecks{State: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "at", ts.AccessToken())
}

func TestRefreshRequestsNewTokens(t *testing.T) {
	var gotGrantType, gotRefreshToken string
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrantType = r.PostForm.Get("grant_type")
		gotRefreshToken = r.PostForm.Get("refresh_token")
		w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt"}`))
	})
	defer srv.Close()

	ts, err := client.Refresh(context.Background(), "old-rt", "")
	require.NoError(t, err)
	assert.Equal(t, "new-at", ts.AccessToken())
	assert.Equal(t, "refresh_token", gotGrantType)
	assert.Equal(t, "old-rt", gotRefreshToken)
}

func TestGrantSendsArbitraryBody(t *testing.T) {
	var gotGrantType string
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrantType = r.PostForm.Get("grant_type")
		w.Write([]byte(`{"access_token":"at"}`))
	})
	defer srv.Close()

	ts, err := client.Grant(context.Background(), map[string]string{"grant_type": "client_credentials"})
	require.NoError(t, err)
	assert.Equal(t, "at", ts.AccessToken())
	assert.Equal(t, "client_credentials", gotGrantType)
}

func TestTokenRequestSurfacesASErrorOn4xx(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	})
	defer srv.Close()

	_, err := client.Grant(context.Background(), map[string]string{"grant_type": "authorization_code"})
	require.Error(t, err)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "invalid_grant", ase.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, ase.StatusCode)
}

func TestRevokeSucceedsOn2xx(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := client.Revoke(context.Background(), "some-token", "access_token")
	assert.NoError(t, err)
}

func TestRevokeFailsOnNon2xx(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unsupported_token_type"}`))
	})
	defer srv.Close()

	err := client.Revoke(context.Background(), "some-token", "")
	require.Error(t, err)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "unsupported_token_type", ase.ErrorCode)
}

func TestIntrospectParsesResponse(t *testing.T) {
	client, srv := flowTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"active":true,"scope":"openid profile"}`))
	})
	defer srv.Close()

	result, err := client.Introspect(context.Background(), "some-token", "access_token")
	require.NoError(t, err)
	assert.Equal(t, true, result["active"])
	assert.Equal(t, "openid profile", result["scope"])
}

func TestParseASErrorFallsBackToServerErrorOnGarbageBody(t *testing.T) {
	err := parseASError([]byte("<html>not json</html>"), http.StatusInternalServerError)
	ase, ok := err.(*ASError)
	require.True(t, ok)
	assert.Equal(t, "server_error", ase.ErrorCode)
	assert.Equal(t, http.StatusInternalServerError, ase.StatusCode)
}

func TestSplitResponseType(t *testing.T) {
	assert.Equal(t, []string{"code", "id_token"}, splitResponseType("code id_token"))
	assert.Equal(t, []string{"none"}, splitResponseType("none"))
	assert.Equal(t, []string{"code"}, splitResponseType(" code "))
}

func TestCheckResponseTypeParamsNoneForbidsArtifacts(t *testing.T) {
	err := checkResponseTypeParams(map[string]string{"code": "abc"}, "none")
	assert.ErrorIs(t, err, ErrUnexpectedResponseParameter)
}

func TestCheckResponseTypeParamsTokenRequiresTokenType(t *testing.T) {
	err := checkResponseTypeParams(map[string]string{"access_token": "at"}, "token")
	assert.ErrorIs(t, err, ErrMissingResponseParameter)
}
