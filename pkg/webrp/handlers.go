package webrp

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/sawyerh/node-openid-client/pkg/rp"
)

// LoginHandler starts the authorization-code flow: generates state, nonce,
// and a PKCE verifier, stashes them in the session, and redirects to the
// authorization endpoint.
func (m *Middleware) LoginHandler(c *gin.Context) {
	session := sessions.Default(c)

	state := rp.NewState()
	nonce := rp.NewNonce()
	verifier, err := rp.GenerateCodeVerifier()
	if err != nil {
		m.renderError(c, err)
		return
	}

	session.Set(sessionKeyState, state)
	session.Set(sessionKeyNonce, nonce)
	session.Set(sessionKeyCodeVerifier, verifier)
	if err := session.Save(); err != nil {
		m.renderError(c, err)
		return
	}

	authURL, err := m.Client.AuthorizationURL(rp.AuthorizationParams{
		RedirectURI:         m.RedirectURI,
		Scope:               m.Scope,
		State:               state,
		Nonce:               nonce,
		CodeChallenge:       rp.CodeChallenge(rp.PKCEMethodS256, verifier),
		CodeChallengeMethod: rp.PKCEMethodS256,
	})
	if err != nil {
		m.renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// CallbackHandler completes the flow: rebuilds the checks from session
// state, exchanges the authorization code, and stores the resulting
// access token in the session.
func (m *Middleware) CallbackHandler(c *gin.Context) {
	session := sessions.Default(c)

	state, _ := session.Get(sessionKeyState).(string)
	nonce, _ := session.Get(sessionKeyNonce).(string)
	verifier, _ := session.Get(sessionKeyCodeVerifier).(string)

	body, _ := c.GetRawData()
	tokens, err := m.Client.Callback(c.Request.Context(), m.RedirectURI, &rp.CallbackRequest{
		Method: c.Request.Method,
		URL:    c.Request.URL.String(),
		Body:   body,
	}, rp.CallbackChecks{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	})
	if err != nil {
		m.log.Error(err, "callback failed")
		m.renderError(c, err)
		return
	}

	session.Delete(sessionKeyState)
	session.Delete(sessionKeyNonce)
	session.Delete(sessionKeyCodeVerifier)
	session.Set(sessionKeyTokens, tokens.AccessToken())
	if err := session.Save(); err != nil {
		m.renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, m.SuccessPath)
}

// LogoutHandler clears the session and, when the issuer advertises one,
// redirects to end_session_endpoint.
func (m *Middleware) LogoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()

	endSessionURL, err := m.Client.EndSessionURL(rp.EndSessionParams{
		PostLogoutRedirectURI: m.SuccessPath,
	})
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Redirect(http.StatusFound, endSessionURL)
}

// AccessToken returns the signed-in session's stored access token, or ""
// if there isn't one.
func AccessToken(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyTokens).(string)
	return token
}

func (m *Middleware) renderError(c *gin.Context, err error) {
	problem := rp.ToProblem(err)
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}
