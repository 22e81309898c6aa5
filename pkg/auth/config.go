package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/authkit/pkg/request"
	"github.com/giantswarm/authkit/pkg/storage"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"openid", "profile", "email"}

// Config identifies the application to the identity platform. It is copied
// by New and never changes afterwards.
type Config struct {
	// Domain is the base address of the identity platform, e.g.
	// "https://id.example.com". Required.
	Domain string

	// ClientID is the OAuth client identifier. Required.
	ClientID string

	// RedirectURI is where the platform sends the user back after
	// authorization. Required.
	RedirectURI string

	// Scopes requested on login. Defaults to DefaultScopes.
	Scopes []string

	// Storage selects the credential storage backend. Defaults to
	// storage.KindPersistent.
	Storage storage.Kind

	// HTTPClient replaces the network client used for every request.
	HTTPClient request.Doer
}

// Endpoints are the platform paths, relative to Config.Domain.
type Endpoints struct {
	Authorize string
	Token     string
	Revoke    string
	Logout    string
	UserInfo  string
}

// DefaultEndpoints returns the identity platform's standard paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Authorize: "/oauth/authorize",
		Token:     "/oauth/token",
		Revoke:    "/oauth/revoke",
		Logout:    "/oauth/logout",
		UserInfo:  "/oauth/userinfo",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Authorize == "" {
		e.Authorize = d.Authorize
	}
	if e.Token == "" {
		e.Token = d.Token
	}
	if e.Revoke == "" {
		e.Revoke = d.Revoke
	}
	if e.Logout == "" {
		e.Logout = d.Logout
	}
	if e.UserInfo == "" {
		e.UserInfo = d.UserInfo
	}
	return e
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	c.Domain = strings.TrimSuffix(strings.TrimSpace(c.Domain), "/")
	if c.Domain == "" {
		return &ConfigurationError{Field: "domain", Reason: "is required"}
	}
	if err := validateAbsoluteURL(c.Domain); err != nil {
		return &ConfigurationError{Field: "domain", Reason: err.Error()}
	}

	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigurationError{Field: "clientId", Reason: "is required"}
	}

	if c.RedirectURI == "" {
		return &ConfigurationError{Field: "redirectUri", Reason: "is required"}
	}
	if err := validateAbsoluteURL(c.RedirectURI); err != nil {
		return &ConfigurationError{Field: "redirectUri", Reason: err.Error()}
	}

	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	} else {
		c.Scopes = append([]string(nil), c.Scopes...)
	}

	if c.Storage == "" {
		c.Storage = storage.KindPersistent
	}
	if _, err := storage.ParseKind(string(c.Storage)); err != nil {
		return &ConfigurationError{Field: "storage", Reason: err.Error()}
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", raw)
	}
	return nil
}

// origin identifies the application for storage scoping.
func (c *Config) origin() string {
	return c.Domain + "#" + c.ClientID
}
