package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/request"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError means the identity platform could not be reached at all.
type ConnectionError struct {
	// Domain is the platform address that could not be reached.
	Domain string
	Type   ConnectionErrorType
	Reason error
}

// Error returns the failure together with a hint matching its type.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s while contacting %s: %v", e.Type, e.Domain, e.Reason)
	switch e.Type {
	case ConnectionErrorTLS:
		return msg + "\n\nCheck that the domain serves a certificate trusted by this machine."
	case ConnectionErrorDNS:
		return msg + "\n\nCheck the domain in your configuration:\n  authkit config show"
	case ConnectionErrorTimeout, ConnectionErrorNetwork:
		return msg + "\n\nCheck your network connection and try again."
	default:
		return msg
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps err in a ConnectionError of the matching
// type. It returns nil for a nil error.
func ClassifyConnectionError(err error, domain string) *ConnectionError {
	if err == nil {
		return nil
	}

	ce := &ConnectionError{Domain: domain, Reason: err}
	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		ce.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		ce.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		ce.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		ce.Type = ConnectionErrorNetwork
	default:
		ce.Type = ConnectionErrorUnknown
	}
	return ce
}

func isTLSError(err error) bool {
	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	var systemRootsErr *x509.SystemRootsError

	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError means there is no session to work with.
type AuthRequiredError struct {
	// Domain is the platform the user has to log in to.
	Domain string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Not logged in to %s

To authenticate, run:
  authkit login

To check current authentication status:
  authkit status`, e.Domain)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError means the session ended because the platform refused to
// renew it.
type AuthExpiredError struct {
	Domain string
	Reason error
}

func (e *AuthExpiredError) Error() string {
	msg := fmt.Sprintf("Session for %s has expired", e.Domain)
	if e.Reason != nil {
		msg += fmt.Sprintf(": %v", e.Reason)
	}
	return msg + `

To re-authenticate, run:
  authkit login`
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError means a login attempt did not produce a session.
type AuthFailedError struct {
	Domain string
	Reason error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  authkit login`, e.Domain, e.Reason)
}

func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// ClassifySessionError maps an error from a token operation to the CLI
// error the user should see. Errors it does not recognize are returned
// unchanged.
func ClassifySessionError(err error, domain string) error {
	if err == nil {
		return nil
	}

	var refreshErr *auth.RefreshFailedError
	if errors.As(err, &refreshErr) {
		if errors.Is(err, auth.ErrNoRefreshToken) {
			return &AuthRequiredError{Domain: domain}
		}
		var netErr *request.NetworkError
		if !errors.As(err, &netErr) {
			return &AuthExpiredError{Domain: domain, Reason: refreshErr.Err}
		}
	}
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return &AuthRequiredError{Domain: domain}
	}

	var netErr *request.NetworkError
	if errors.As(err, &netErr) {
		return ClassifyConnectionError(netErr.Err, domain)
	}
	return err
}

// ClassifyLoginError maps an error from the login flow to the CLI error the
// user should see.
func ClassifyLoginError(err error, domain string) error {
	if err == nil {
		return nil
	}
	var netErr *request.NetworkError
	if errors.As(err, &netErr) {
		return ClassifyConnectionError(netErr.Err, domain)
	}
	return &AuthFailedError{Domain: domain, Reason: err}
}
