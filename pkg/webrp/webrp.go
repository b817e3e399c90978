// Package webrp is a thin, passport-style gin middleware over pkg/rp: it
// wires the authorization-code flow into two routes ("/login" starting it,
// "/callback" completing it), keeping per-session state (state, nonce,
// PKCE verifier, and then the resulting access token) in a
// gorilla/sessions-backed cookie session via gin-contrib/sessions.
//
// This package is glue, not the library core: it owns none of the OIDC
// protocol logic, only enough orchestration to drive pkg/rp.Client from
// gin request/response objects.
package webrp

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/sawyerh/node-openid-client/pkg/logger"
	"github.com/sawyerh/node-openid-client/pkg/rp"
)

const sessionName = "oidcrp"

const (
	sessionKeyState        = "oidcrp_state"
	sessionKeyNonce        = "oidcrp_nonce"
	sessionKeyCodeVerifier = "oidcrp_code_verifier"
	sessionKeyTokens       = "oidcrp_tokens"
)

// Middleware wraps an rp.Client with the session bookkeeping a browser-based
// login flow needs.
type Middleware struct {
	Client      *rp.Client
	RedirectURI string
	Scope       string
	SuccessPath string
	log         *logger.Log
}

// New constructs a Middleware. sessionSecret authenticates the session
// cookie (gorilla/sessions' HMAC key); cookieSecure should be true in any
// deployment actually served over TLS.
func New(client *rp.Client, redirectURI, scope, successPath, sessionSecret string, cookieSecure bool, log *logger.Log) (gin.HandlerFunc, *Middleware) {
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if scope == "" {
		scope = "openid"
	}
	if successPath == "" {
		successPath = "/"
	}
	if log == nil {
		log = logger.NewSimple("webrp")
	}

	mw := &Middleware{
		Client:      client,
		RedirectURI: redirectURI,
		Scope:       scope,
		SuccessPath: successPath,
		log:         log.New("webrp"),
	}
	return sessions.Sessions(sessionName, store), mw
}

// Register mounts the login/callback/logout routes on group.
func (m *Middleware) Register(group gin.IRoutes) {
	group.GET("/login", m.LoginHandler)
	group.GET("/callback", m.CallbackHandler)
	group.POST("/logout", m.LogoutHandler)
}
