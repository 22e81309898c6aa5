// Package credentials stores the values of an authentication session on top
// of a storage adapter: the token set and the transient PKCE verifier and
// state that only exist between the authorization redirect and the callback.
package credentials

import (
	"encoding/json"
	"log/slog"

	"github.com/giantswarm/authkit/pkg/storage"
)

// DefaultKeyPrefix namespaces the keys written to the underlying storage.
const DefaultKeyPrefix = "authkit"

const (
	tokensSuffix   = ".tokens"
	verifierSuffix = ".pkce_verifier"
	stateSuffix    = ".state"
)

// Store is a typed view over a storage adapter. It adds no locking of its
// own; callers that need compound operations to be atomic must serialize them.
type Store struct {
	storage storage.Storage
	prefix  string
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger used to report unreadable values.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store over s.
func New(s storage.Storage, opts ...Option) *Store {
	store := &Store{
		storage: s,
		prefix:  DefaultKeyPrefix,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// TokensKey returns the storage key of the token set.
func (s *Store) TokensKey() string { return s.prefix + tokensSuffix }

// VerifierKey returns the storage key of the PKCE verifier.
func (s *Store) VerifierKey() string { return s.prefix + verifierSuffix }

// StateKey returns the storage key of the state value.
func (s *Store) StateKey() string { return s.prefix + stateSuffix }

// Tokens returns the stored token set, or nil when none is stored or the
// stored value cannot be decoded.
func (s *Store) Tokens() *TokenSet {
	raw, ok := s.storage.Get(s.TokensKey())
	if !ok || raw == "" {
		return nil
	}

	var tokens TokenSet
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		s.logger.Warn("Ignoring malformed stored token set", "key", s.TokensKey(), "error", err)
		return nil
	}
	if tokens.AccessToken == "" {
		return nil
	}
	return &tokens
}

// SetTokens replaces the stored token set.
func (s *Store) SetTokens(tokens *TokenSet) {
	if tokens == nil {
		s.ClearTokens()
		return
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		s.logger.Error("Failed to encode token set", "error", err)
		return
	}
	s.storage.Set(s.TokensKey(), string(data))
}

// ClearTokens removes the token set.
func (s *Store) ClearTokens() { s.storage.Remove(s.TokensKey()) }

// PKCEVerifier returns the stored code verifier.
func (s *Store) PKCEVerifier() (string, bool) { return s.get(s.VerifierKey()) }

// SetPKCEVerifier stores the code verifier.
func (s *Store) SetPKCEVerifier(v string) { s.storage.Set(s.VerifierKey(), v) }

// ClearPKCEVerifier removes the code verifier.
func (s *Store) ClearPKCEVerifier() { s.storage.Remove(s.VerifierKey()) }

// State returns the stored anti-CSRF state.
func (s *Store) State() (string, bool) { return s.get(s.StateKey()) }

// SetState stores the anti-CSRF state.
func (s *Store) SetState(v string) { s.storage.Set(s.StateKey(), v) }

// ClearState removes the anti-CSRF state.
func (s *Store) ClearState() { s.storage.Remove(s.StateKey()) }

// HasTransient reports whether an authorization is pending, i.e. both a
// verifier and a state are stored.
func (s *Store) HasTransient() bool {
	_, hasVerifier := s.PKCEVerifier()
	_, hasState := s.State()
	return hasVerifier && hasState
}

// ClearTransient removes the verifier and the state.
func (s *Store) ClearTransient() {
	s.ClearPKCEVerifier()
	s.ClearState()
}

// Clear removes every value the store manages.
func (s *Store) Clear() {
	s.ClearTokens()
	s.ClearTransient()
}

// Storage returns the underlying adapter.
func (s *Store) Storage() storage.Storage { return s.storage }

func (s *Store) get(key string) (string, bool) {
	v, ok := s.storage.Get(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
