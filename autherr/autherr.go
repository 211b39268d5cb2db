// Package autherr defines the closed set of failures produced while
// authenticating a bearer token. Every rejection carries a Kind, which the
// HTTP adapters map to a status code, and a short detail string that is safe
// to return to callers.
package autherr

import (
	"errors"
	"net/http"
)

// Kind classifies an authentication failure.
type Kind int

const (
	// KindUnknown is never produced by this module; KindOf returns it for
	// errors that did not originate here.
	KindUnknown Kind = iota
	InvalidHeaderFormat
	MalformedToken
	ServerMisconfigured
	UpstreamUnavailable
	KeyNotFound
	UnsupportedAlgorithm
	VerificationFailed
	InvalidRequestBody
	RateLimited
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	InvalidHeaderFormat:  "invalid_header_format",
	MalformedToken:       "malformed_token",
	ServerMisconfigured:  "server_misconfigured",
	UpstreamUnavailable:  "upstream_unavailable",
	KeyNotFound:          "key_not_found",
	UnsupportedAlgorithm: "unsupported_algorithm",
	VerificationFailed:   "verification_failed",
	InvalidRequestBody:   "invalid_request_body",
	RateLimited:          "rate_limited",
}

// String returns the snake_case name used in logs, metrics and audit rows.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// HTTPStatus maps a kind to the status returned by the HTTP adapters.
// Configuration faults are 5xx; everything attributable to the caller or
// the upstream key service is reported as an authentication failure.
func (k Kind) HTTPStatus() int {
	switch k {
	case ServerMisconfigured, KindUnknown:
		return http.StatusInternalServerError
	case InvalidRequestBody:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// Error is an authentication failure. Detail is caller-facing; Err keeps the
// underlying cause for logs and is never rendered into responses.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Detail + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, autherr.New(autherr.KeyNotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind with a caller-facing detail.
// An empty detail falls back to the kind's default message.
func New(kind Kind, detail string) *Error {
	if detail == "" {
		detail = DefaultDetail(kind)
	}
	return &Error{Kind: kind, Detail: detail}
}

// Wrap is New with an underlying cause attached.
func Wrap(kind Kind, detail string, err error) *Error {
	e := New(kind, detail)
	e.Err = err
	return e
}

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// DetailOf returns the caller-facing detail for err. Errors that did not
// originate in this module get a generic message so internals never leak.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return DefaultDetail(KindUnknown)
}

// DefaultDetail is the detail string used when none is supplied.
func DefaultDetail(kind Kind) string {
	switch kind {
	case InvalidHeaderFormat:
		return "Invalid Authorization header format."
	case MalformedToken:
		return "Provided token is not in a valid JWT format."
	case ServerMisconfigured:
		return "Server configuration error: DYNAMIC_ENV_ID not set."
	case UpstreamUnavailable:
		return "JWT verification failed: signing keys unavailable."
	case KeyNotFound:
		return "JWT verification failed: public key not found for token."
	case UnsupportedAlgorithm:
		return "JWT verification failed: key is not usable for RS256."
	case VerificationFailed:
		return "JWT verification failed."
	case InvalidRequestBody:
		return "Invalid request body."
	case RateLimited:
		return "Too many requests."
	default:
		return "Internal server error."
	}
}
