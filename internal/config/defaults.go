package config

import (
	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/storage"
)

const (
	// DefaultRedirectURI is where `authkit login` listens for the callback.
	DefaultRedirectURI = "http://127.0.0.1:8085/callback"

	// DefaultServeAddr is the listen address of `authkit serve`.
	DefaultServeAddr = "127.0.0.1:8080"
)

// GetDefaultConfig returns the configuration used when no file exists.
func GetDefaultConfig() AuthkitConfig {
	return AuthkitConfig{
		RedirectURI: DefaultRedirectURI,
		Scopes:      append([]string(nil), auth.DefaultScopes...),
		Storage:     string(storage.KindPersistent),
		ExpirySkew:  Duration(auth.DefaultExpirySkew),
		Serve: ServeConfig{
			Addr: DefaultServeAddr,
		},
		Log: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}
