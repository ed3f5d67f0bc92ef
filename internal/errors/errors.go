// Package errors provides custom error types for the quillchat client and relay.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrAuthFailed        = errors.New("authentication failed")
	ErrNoCookies         = errors.New("no session cookie found")
	ErrInvalidResponse   = errors.New("invalid response format")
	ErrNotConnected      = errors.New("not connected")
	ErrClosed            = errors.New("channel closed")
	ErrReplyPending      = errors.New("a reply is still in progress")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMissingBackendURL = errors.New("backend URL is not configured")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnknownFrameType  = errors.New("unknown frame type")
	ErrNotFound          = errors.New("not found")
)

// AuthError represents an authentication failure
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed: session cookie may have expired"
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// Is allows comparison with sentinel errors
func (e *AuthError) Is(target error) bool {
	if target == ErrAuthFailed {
		return true
	}
	_, ok := target.(*AuthError)
	return ok
}

// NewAuthError creates a new AuthError
func NewAuthError(message string) *AuthError {
	return &AuthError{Message: message}
}

// APIError represents a backend request that completed with an unexpected status
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error [%d] at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("API error at %s: %s", e.Endpoint, e.Message)
}

// Is matches ErrNotFound for 404 responses and any other APIError.
func (e *APIError) Is(target error) bool {
	if target == ErrNotFound {
		return e.StatusCode == 404
	}
	if target == ErrAuthFailed {
		return e.StatusCode == 401
	}
	_, ok := target.(*APIError)
	return ok
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, endpoint, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
	}
}

// NetworkError wraps a transport-level failure (dial, read, write).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new NetworkError
func NewNetworkError(op, url string, err error) *NetworkError {
	return &NetworkError{Op: op, URL: url, Err: err}
}

// ProtocolError represents a frame that could not be classified
type ProtocolError struct {
	Reason string
	Frame  string
	kind   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.kind
}

// Is allows comparison with sentinel errors
func (e *ProtocolError) Is(target error) bool {
	if target == ErrMalformedFrame || target == ErrUnknownFrameType {
		return e.kind == target
	}
	_, ok := target.(*ProtocolError)
	return ok
}

// NewMalformedFrameError reports a frame that is not a JSON envelope.
func NewMalformedFrameError(reason string, frame []byte) *ProtocolError {
	return &ProtocolError{Reason: reason, Frame: truncate(frame), kind: ErrMalformedFrame}
}

// NewUnknownTypeError reports an envelope with an unrecognised type tag.
func NewUnknownTypeError(typ string, frame []byte) *ProtocolError {
	return &ProtocolError{
		Reason: fmt.Sprintf("unknown frame type %q", typ),
		Frame:  truncate(frame),
		kind:   ErrUnknownFrameType,
	}
}

// ConfigError represents a deployment misconfiguration
type ConfigError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(key, message string, err error) *ConfigError {
	return &ConfigError{Key: key, Message: message, Err: err}
}

// ParseError represents a response parsing error
type ParseError struct {
	Message string
	Path    string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse error: %s", e.Message)
	}
	return fmt.Sprintf("parse error at %s: %s", e.Path, e.Message)
}

// NewParseError creates a new ParseError
func NewParseError(message, path string) *ParseError {
	return &ParseError{Message: message, Path: path}
}

// Is allows comparison with sentinel errors
func (e *ParseError) Is(target error) bool {
	if target == ErrInvalidResponse {
		return true
	}
	_, ok := target.(*ParseError)
	return ok
}

func truncate(frame []byte) string {
	const limit = 256
	if len(frame) > limit {
		return string(frame[:limit]) + "..."
	}
	return string(frame)
}
