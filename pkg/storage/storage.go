// Package storage provides the key/value adapters credentials are persisted
// through. Every adapter exposes the same three operations and never returns
// errors from them: a backend that cannot be used degrades to a no-op, and
// failures are logged.
//
// The adapter is chosen explicitly by Kind; no adapter falls back to another.
package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage is a string key/value store.
type Storage interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (string, bool)
	// Set stores value under key, replacing any previous value.
	Set(key, value string)
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string)
}

// Closer is implemented by adapters that hold resources beyond the
// lifetime of a single call (temporary directories, watchers).
type Closer interface {
	Close() error
}

// Kind selects a storage adapter.
type Kind string

const (
	// KindPersistent survives restarts and is scoped to an application origin.
	KindPersistent Kind = "persistent"
	// KindSession lives only as long as the current session.
	KindSession Kind = "session"
	// KindCookie stores values in HTTP cookies of the current request.
	KindCookie Kind = "cookie"
	// KindMemory is process-local and lost on exit.
	KindMemory Kind = "memory"
	// KindKeyring stores values in the operating system keychain.
	KindKeyring Kind = "keyring"
	// KindRedis stores values in a shared Redis server.
	KindRedis Kind = "redis"
)

// DefaultTTL bounds the lifetime of values in stores that support expiry.
const DefaultTTL = 7 * 24 * time.Hour

// Kinds lists all supported kinds.
var Kinds = []Kind{KindPersistent, KindSession, KindCookie, KindMemory, KindKeyring, KindRedis}

// ParseKind converts a textual kind, as found in configuration files, to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown storage kind %q", s)
}

// Options carries the backend-specific settings used by New.
type Options struct {
	// Origin scopes persistent, keyring and redis stores so that different
	// applications sharing a machine or server do not see each other's values.
	Origin string

	// Dir is the base directory of the persistent store. Defaults to
	// <user config dir>/authkit/storage.
	Dir string

	// Cookies is the request/response pair used by the cookie store.
	Cookies *CookieCarrier

	// Redis is the client used by the redis store.
	Redis redis.UniversalClient

	// Logger receives warnings about unusable backends. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// New creates the adapter for kind.
func New(kind Kind, opts Options) (Storage, error) {
	switch kind {
	case KindPersistent:
		return NewFileStore(opts), nil
	case KindSession:
		return NewSessionStore(opts), nil
	case KindCookie:
		return NewCookieStore(opts.Cookies), nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindKeyring:
		return NewKeyringStore(opts), nil
	case KindRedis:
		return NewRedisStore(opts.Redis, opts), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}

// noop silently discards writes and reports every key as absent.
type noop struct{}

func (noop) Get(string) (string, bool) { return "", false }
func (noop) Set(string, string)        {}
func (noop) Remove(string)             {}
