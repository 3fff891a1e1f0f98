// Package apierr defines the proxy's error taxonomy: every failure surfaced
// to a client or counted by the circuit breaker carries one of these kinds.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure. Kinds are stable identifiers used in config
// (expected breaker errors), logs, and status mapping.
type Kind string

const (
	InvalidRequest    Kind = "invalid_request"
	Authentication    Kind = "authentication_failure"
	UnsupportedModel  Kind = "unsupported_model"
	RateLimited       Kind = "rate_limited"
	UpstreamClient    Kind = "upstream_client_error"
	UpstreamServer    Kind = "upstream_server_error"
	Network           Kind = "network_error"
	Timeout           Kind = "network_timeout"
	CircuitOpen       Kind = "circuit_open"
	ResponseViolation Kind = "response_size_violation"
	Internal          Kind = "internal_error"
)

// ParseKind resolves a config-supplied kind name. Both the identifier form
// ("network_error") and the camel-case form ("NetworkError") are accepted.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "invalid_request", "InvalidRequest":
		return InvalidRequest, true
	case "authentication_failure", "AuthenticationFailure":
		return Authentication, true
	case "unsupported_model", "UnsupportedModel":
		return UnsupportedModel, true
	case "rate_limited", "RateLimited":
		return RateLimited, true
	case "upstream_client_error", "UpstreamClientError":
		return UpstreamClient, true
	case "upstream_server_error", "UpstreamServerError":
		return UpstreamServer, true
	case "network_error", "NetworkError":
		return Network, true
	case "network_timeout", "NetworkTimeout", "TimeoutError":
		return Timeout, true
	case "circuit_open", "CircuitOpen":
		return CircuitOpen, true
	case "response_size_violation", "ResponseSizeViolation":
		return ResponseViolation, true
	case "internal_error", "Internal":
		return Internal, true
	}
	return "", false
}

// Error is a classified failure. Field carries the offending field path for
// validation errors; UpstreamStatus preserves the upstream HTTP status for
// pass-through kinds; NextAttempt is set on circuit-open rejections.
type Error struct {
	Kind           Kind
	Message        string
	Field          string
	UpstreamStatus int
	UpstreamType   string
	NextAttempt    time.Time
	cause          error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that unwraps to cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField attaches the offending field path.
func (e *Error) WithField(path string) *Error {
	e.Field = path
	return e
}

// KindOf extracts the Kind from an error chain; non-classified errors are
// Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// AsError extracts the *Error from a chain, or wraps err as Internal.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Internal, err, "internal error")
}

// HTTPStatus maps a kind to the status code written to clients. Pass-through
// upstream kinds honor the preserved upstream status when plausible.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case InvalidRequest, UnsupportedModel:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamClient:
		if e.UpstreamStatus >= 400 && e.UpstreamStatus < 500 {
			return e.UpstreamStatus
		}
		return http.StatusBadRequest
	case UpstreamServer:
		if e.UpstreamStatus >= 500 && e.UpstreamStatus < 600 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case Network, CircuitOpen:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case ResponseViolation, Internal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// WireType maps a kind to the error "type" label rendered in client
// envelopes. Upstream client errors preserve the upstream-provided type.
func (e *Error) WireType() string {
	switch e.Kind {
	case InvalidRequest, UnsupportedModel:
		return "invalid_request_error"
	case Authentication:
		return "authentication_error"
	case RateLimited:
		return "rate_limit_error"
	case UpstreamClient:
		if e.UpstreamType != "" {
			return e.UpstreamType
		}
		return "invalid_request_error"
	case Network, CircuitOpen:
		return "overloaded_error"
	case UpstreamServer, Timeout, ResponseViolation, Internal:
		return "api_error"
	}
	return "api_error"
}
