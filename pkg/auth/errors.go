package auth

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken is wrapped by RefreshFailedError when no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Protocol error codes raised by HandleCallback before any network call.
const (
	CodeMissingState    = "missing_state"
	CodeStateMismatch   = "state_mismatch"
	CodeMissingVerifier = "missing_verifier"
	CodeMissingCode     = "missing_code"
	CodeInvalidResponse = "invalid_token_response"
)

// ConfigurationError is returned by New for an unusable Config.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a callback that cannot be trusted or completed:
// unknown or mismatched state, a missing verifier or code, or an error
// returned by the platform in the redirect.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("oauth protocol error: %s: %s", e.Code, e.Message)
}

// Is matches any *ProtocolError with the same code, or any *ProtocolError
// when the target has no code.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// RefreshFailedError reports that the session could not be renewed. When it
// wraps a *request.RequestFailedError the stored credentials have already
// been cleared.
type RefreshFailedError struct {
	Err error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}

// IsReauthenticationRequired reports whether err means the user has to log
// in again, i.e. it is a ProtocolError or a RefreshFailedError.
func IsReauthenticationRequired(err error) bool {
	var protoErr *ProtocolError
	var refreshErr *RefreshFailedError
	return errors.As(err, &protoErr) || errors.As(err, &refreshErr)
}
