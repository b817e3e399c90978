package rp

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertionErrorUnwrapMatchesKind(t *testing.T) {
	err := assertErr(ErrStateMismatch, "state %q != %q", "a", "b")
	assert.True(t, errors.Is(err, ErrStateMismatch))
	assert.False(t, errors.Is(err, ErrNonceMismatch))
	assert.Equal(t, `state "a" != "b"`, err.Error())
}

func TestWithSourceAnnotatesAssertionError(t *testing.T) {
	err := withSource(assertErr(ErrClaimMissing, "sub missing"), "https://issuer2.example.com")

	var ae *AssertionError
	require := assert.New(t)
	require.True(errors.As(err, &ae))
	require.Equal("https://issuer2.example.com", ae.Source)
	require.Contains(err.Error(), `claim source "https://issuer2.example.com"`)
}

func TestWithSourceWrapsPlainError(t *testing.T) {
	err := withSource(errors.New("boom"), "https://issuer2.example.com")
	assert.Contains(t, err.Error(), "https://issuer2.example.com")
	assert.Contains(t, err.Error(), "boom")
}

func TestWithSourceNilIsNil(t *testing.T) {
	assert.Nil(t, withSource(nil, "whatever"))
}

func TestASErrorIsMatchesOnErrorCodeOnly(t *testing.T) {
	a := &ASError{ErrorCode: "authorization_pending", ErrorDescription: "not yet"}
	b := &ASError{ErrorCode: "authorization_pending"}
	assert.True(t, errors.Is(a, b))

	c := &ASError{ErrorCode: "access_denied"}
	assert.False(t, errors.Is(a, c))
}

func TestToProblemASError(t *testing.T) {
	err := &ASError{ErrorCode: "invalid_grant", ErrorDescription: "code expired", StatusCode: http.StatusBadRequest}
	p := ToProblem(err)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "invalid_grant", p.Title)
}

func TestToProblemASErrorDefaultsStatus(t *testing.T) {
	err := &ASError{ErrorCode: "invalid_request"}
	p := ToProblem(err)
	assert.Equal(t, http.StatusBadRequest, p.Status)
}

func TestToProblemAssertionError(t *testing.T) {
	err := assertErr(ErrNonceMismatch, "nonce mismatch: got %q want %q", "a", "b")
	p := ToProblem(err)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "rp_assertion_error", p.Title)
}

func TestToProblemGenericErrorIs500(t *testing.T) {
	p := ToProblem(errors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, p.Status)
}
