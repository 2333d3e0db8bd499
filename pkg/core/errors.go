package core

import (
	"errors"
	"fmt"
)

// Error is the wire error envelope returned by the HTTP surface.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrTransport      ErrorType = "transport_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrTransport:
		return true
	default:
		return false
	}
}

// AuthReason distinguishes why a credential was rejected. It is logged, never
// returned to the caller.
type AuthReason string

const (
	AuthMissing   AuthReason = "missing"
	AuthMalformed AuthReason = "malformed"
	AuthSignature AuthReason = "signature"
	AuthExpired   AuthReason = "expired"
	AuthAudience  AuthReason = "audience"
)

// AuthError reports a rejected credential.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s credential: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s credential", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a failure to acquire a room, credential or peer
// connection. Callers may retry.
type TransportError struct {
	Op   string
	Room string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Room != "" {
		return fmt.Sprintf("transport: %s (room %s): %v", e.Op, e.Room, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PipelineInitError reports that a session's stage chain could not be built.
type PipelineInitError struct {
	Stage string
	Err   error
}

func (e *PipelineInitError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pipeline init: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("pipeline init: %v", e.Err)
}

func (e *PipelineInitError) Unwrap() error { return e.Err }

// ProviderConfigError describes a provider selection that could not be
// honoured. Resolution degrades to the capability default instead of
// returning it; it is only ever logged.
type ProviderConfigError struct {
	Capability string
	Provider   string
	Err        error
}

func (e *ProviderConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider config: %s provider %q: %v", e.Capability, e.Provider, e.Err)
	}
	return fmt.Sprintf("provider config: %s provider %q unsupported", e.Capability, e.Provider)
}

func (e *ProviderConfigError) Unwrap() error { return e.Err }

var (
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminated is returned by stale handles to a session that has
	// already reached a terminal state.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrUserNotFound is returned by stores when a subject has no profile.
	ErrUserNotFound = errors.New("user not found")
)
