package rp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/moogar0880/problems"
)

// Sentinel error kinds as package-level error values: callers match
// these with errors.Is rather than string comparison.
var (
	// ErrInvalidParameter is returned by the Parameter Builder when a
	// caller-supplied combination of parameters cannot be resolved into a
	// valid authorization request (e.g. id_token response type without a
	// nonce).
	ErrInvalidParameter = newKind("invalid parameter")

	// ErrStateMismatch is returned by callback when params.state does not
	// match the state the caller expected.
	ErrStateMismatch = newKind("state mismatch")

	// ErrMissingState is a programmer error: the caller expected a state
	// check but never supplied a checks.state to compare against.
	ErrMissingState = newKind("checks.state argument is missing")

	// ErrUnsupportedResponseType is returned when oauthCallback observes
	// response_type=id_token, which it does not support (ID Token handling
	// is callback's job, not oauthCallback's).
	ErrUnsupportedResponseType = newKind("unsupported response_type")

	// ErrMissingResponseParameter is returned when the response is missing
	// a parameter implied by checks.response_type.
	ErrMissingResponseParameter = newKind("missing response parameter")

	// ErrUnexpectedResponseParameter is returned when a response_type=none
	// callback carries artifacts it should not.
	ErrUnexpectedResponseParameter = newKind("unexpected response parameter")

	// ErrMissingIDToken is returned when an operation expects a TokenSet to
	// carry an id_token and it does not.
	ErrMissingIDToken = newKind("id_token not present in TokenSet")

	// ErrJWTMalformed is returned when a compact JWS/JWE does not have the
	// expected number of dot-separated segments.
	ErrJWTMalformed = newKind("malformed JWT")

	// ErrClaimMissing is returned when a claim required in the current
	// validation context is absent.
	ErrClaimMissing = newKind("missing required claim")

	// ErrClaimType is returned when a claim is present but not of the
	// required type (e.g. exp that isn't a JSON number).
	ErrClaimType = newKind("claim has unexpected type")

	// ErrIssuerMismatch is returned when the ID Token's iss claim does not
	// match the issuer the client is configured against.
	ErrIssuerMismatch = newKind("unexpected iss value")

	// ErrAudienceMismatch is returned when aud/azp do not resolve to the
	// client's client_id.
	ErrAudienceMismatch = newKind("aud mismatch")

	// ErrAlgMismatch is returned when a JWS/JWE alg or enc does not match
	// what the client metadata requires for the context.
	ErrAlgMismatch = newKind("unexpected alg or enc value")

	// ErrTokenExpired is returned when exp has passed (adjusted for clock
	// tolerance).
	ErrTokenExpired = newKind("id_token expired")

	// ErrTokenNotYetValid is returned when iat or nbf is in the future
	// (adjusted for clock tolerance).
	ErrTokenNotYetValid = newKind("id_token not yet valid")

	// ErrAuthTimeRequired is returned when max_age or require_auth_time
	// demands auth_time and it is absent.
	ErrAuthTimeRequired = newKind("auth_time required")

	// ErrMaxAgeExceeded is returned when auth_time + max_age has elapsed.
	ErrMaxAgeExceeded = newKind("too much time has elapsed since the last End-User authentication")

	// ErrNonceMismatch is returned when the nonce claim does not equal the
	// nonce the caller expected.
	ErrNonceMismatch = newKind("nonce mismatch")

	// ErrHashMismatch covers at_hash/c_hash/s_hash verification failures.
	ErrHashMismatch = newKind("hash claim mismatch")

	// ErrSignatureInvalid is the single, deliberately generic signature
	// failure (spec §4.4 step 11: "avoids oracle").
	ErrSignatureInvalid = newKind("failed to validate JWT signature")

	// ErrConfiguration marks a fatal, locally-detected configuration
	// problem (missing client_secret where one is needed, unsupported
	// alg, missing endpoint) rather than a protocol violation.
	ErrConfiguration = newKind("configuration error")

	// ErrUserinfoSubMismatch is returned when userinfo's sub disagrees with
	// the ID Token's sub for the same session.
	ErrUserinfoSubMismatch = newKind("userinfo sub mismatch")
)

// kind is a lightweight comparable error used as the Unwrap() target of
// AssertionError, so callers can do errors.Is(err, rp.ErrStateMismatch)
// without caring about the exact message.
type kind struct{ s string }

func (k *kind) Error() string { return k.s }

func newKind(s string) *kind { return &kind{s: s} }

// AssertionError is a locally-detected protocol or configuration
// violation: a missing claim, an algorithm mismatch, a signature failure,
// a state mismatch, a programmer API misuse. It never carries secrets
// (client_secret, private keys, raw tokens are omitted from Params/Body).
type AssertionError struct {
	// Kind is one of the package's sentinel errors; Is/Unwrap match on it.
	Kind error
	// Message is the human-readable, ready-to-log description.
	Message string
	// JWT is the offending compact token, when relevant.
	JWT string
	// Checks carries the caller-supplied verification checks in effect.
	Checks map[string]any
	// Params carries the response/request parameters in effect.
	Params map[string]any
	// Source names the distributed/aggregated claim source that failed,
	// when this error was raised while resolving claims (spec §4.6).
	Source string
}

func (e *AssertionError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s (claim source %q)", e.Message, e.Source)
	}
	return e.Message
}

func (e *AssertionError) Unwrap() error { return e.Kind }

func assertErr(k error, format string, args ...any) *AssertionError {
	return &AssertionError{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// withSource annotates a distributed/aggregated claim failure with the
// offending source name before re-raising, per spec §4.6/§7.
func withSource(err error, source string) error {
	if err == nil {
		return nil
	}
	var ae *AssertionError
	if ok := asAssertionError(err, &ae); ok {
		clone := *ae
		clone.Source = source
		return &clone
	}
	return fmt.Errorf("claim source %q: %w", source, err)
}

func asAssertionError(err error, target **AssertionError) bool {
	for err != nil {
		if ae, ok := err.(*AssertionError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ASError is the AS-origin error family: the Authorization Server returned
// an OAuth-style error object, or the HTTP call itself failed. Fields are
// whichever the AS actually returned; StatusCode is the HTTP status of the
// response the error came from, and 0 when there was no HTTP response (an
// error in the callback parameters, or a transport failure).
type ASError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	State            string `json:"state,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	StatusCode       int    `json:"-"`
}

func (e *ASError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("%s (%s)", e.ErrorCode, e.ErrorDescription)
	}
	return e.ErrorCode
}

// Is lets errors.Is(err, &ASError{ErrorCode: "access_denied"}) match on
// error code alone.
func (e *ASError) Is(target error) bool {
	other, ok := target.(*ASError)
	if !ok {
		return false
	}
	return other.ErrorCode == e.ErrorCode
}

// ToProblem converts an error from this package into an RFC 7807 problem
// detail, for pkg/webrp to render as application/problem+json. Unrecognized
// errors become a generic 500.
func ToProblem(err error) *problems.DefaultProblem {
	var ase *ASError
	if errors.As(err, &ase) {
		status := ase.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}
		p := problems.NewDetailedProblem(status, err.Error())
		p.Title = ase.ErrorCode
		p.Type = "https://www.rfc-editor.org/rfc/rfc6749#section-5.2"
		return p
	}

	var aerr *AssertionError
	if errors.As(err, &aerr) {
		p := problems.NewDetailedProblem(http.StatusBadRequest, aerr.Message)
		p.Title = "rp_assertion_error"
		return p
	}

	return problems.NewDetailedProblem(http.StatusInternalServerError, err.Error())
}
