package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthkitConfig is the top-level configuration structure of the CLI.
type AuthkitConfig struct {
	// Domain is the identity platform base URL.
	Domain string `yaml:"domain"`
	// ClientID is the OAuth client identifier registered for the CLI.
	ClientID string `yaml:"clientId"`
	// RedirectURI must be a loopback http URL for `authkit login`.
	RedirectURI string   `yaml:"redirectUri,omitempty"`
	Scopes      []string `yaml:"scopes,omitempty"`
	// Storage is one of persistent, session, cookie, memory, keyring, redis.
	Storage   string `yaml:"storage,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`

	ExpirySkew Duration `yaml:"expirySkew,omitempty"`
	// AutoRefresh is the lead time of the background refresh; zero disables it.
	AutoRefresh Duration `yaml:"autoRefresh,omitempty"`

	Redis RedisConfig   `yaml:"redis,omitempty"`
	Serve ServeConfig   `yaml:"serve,omitempty"`
	Log   LoggingConfig `yaml:"log,omitempty"`
}

// RedisConfig configures the redis storage backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ServeConfig configures `authkit serve`.
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty"`
	// RedirectURI is the callback URL registered for the server-rendered
	// demo. Defaults to http://<addr>/callback.
	RedirectURI string `yaml:"redirectUri,omitempty"`
}

// LoggingConfig configures CLI logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("10s") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10s\"", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
