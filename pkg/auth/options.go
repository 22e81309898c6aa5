package auth

import (
	"log/slog"
	"time"

	"github.com/giantswarm/authkit/pkg/storage"
)

// DefaultExpirySkew is how long before its expiry an access token is
// already treated as stale.
const DefaultExpirySkew = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStorage uses s instead of building the adapter selected by
// Config.Storage. The client does not close adapters it did not create.
func WithStorage(s storage.Storage) Option {
	return func(c *Client) {
		c.storage = s
	}
}

// WithStorageOptions passes backend settings (directory, cookie carrier,
// redis client) to the adapter built from Config.Storage.
func WithStorageOptions(opts storage.Options) Option {
	return func(c *Client) {
		c.storageOpts = opts
	}
}

// WithStorageWatch makes the client emit events.StorageChanged when another
// process changes the persistent store. It only applies to persistent storage.
func WithStorageWatch() Option {
	return func(c *Client) {
		c.watchStorage = true
	}
}

// WithKeyPrefix namespaces the storage keys.
func WithKeyPrefix(prefix string) Option {
	return func(c *Client) {
		c.keyPrefix = prefix
	}
}

// WithExpirySkew replaces DefaultExpirySkew.
func WithExpirySkew(skew time.Duration) Option {
	return func(c *Client) {
		if skew >= 0 {
			c.skew = skew
		}
	}
}

// WithNowFunc replaces the clock used for expiry computations.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithNavigator sets how Login and Logout send the user to the platform.
// Defaults to opening the system browser.
func WithNavigator(n Navigator) Option {
	return func(c *Client) {
		if n != nil {
			c.navigator = n
		}
	}
}

// WithAutoRefresh refreshes tokens in the background lead before they
// become stale, instead of waiting for the next AccessToken call.
func WithAutoRefresh(lead time.Duration) Option {
	return func(c *Client) {
		c.autoRefresh = true
		c.autoRefreshLead = lead
	}
}

// WithEndpoints overrides the platform paths. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e
	}
}

// WithUserAgent sets the User-Agent of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}
