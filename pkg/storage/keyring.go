package storage

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const keyringServicePrefix = "authkit:"

// KeyringStore keeps values in the operating system keychain (macOS
// Keychain, Windows Credential Manager, Secret Service on Linux) under a
// service name derived from the origin.
type KeyringStore struct {
	service  string
	logger   *slog.Logger
	disabled bool
}

// NewKeyringStore probes the keychain and returns a store for opts.Origin.
// When the keychain is not reachable the store discards writes.
func NewKeyringStore(opts Options) *KeyringStore {
	s := &KeyringStore{
		service: keyringServicePrefix + OriginKey(opts.Origin),
		logger:  opts.logger(),
	}

	const probeKey = "authkit.probe"
	if err := keyring.Set(s.service, probeKey, "ok"); err != nil {
		s.logger.Warn("OS keyring not available, keyring storage disabled", "error", err)
		s.disabled = true
		return s
	}
	_ = keyring.Delete(s.service, probeKey)

	return s
}

func (s *KeyringStore) Get(key string) (string, bool) {
	if s.disabled {
		return "", false
	}
	v, err := keyring.Get(s.service, key)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			s.logger.Warn("Failed to read keyring entry", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *KeyringStore) Set(key, value string) {
	if s.disabled {
		return
	}
	if err := keyring.Set(s.service, key, value); err != nil {
		s.logger.Warn("Failed to write keyring entry", "key", key, "error", err)
	}
}

func (s *KeyringStore) Remove(key string) {
	if s.disabled {
		return
	}
	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.logger.Warn("Failed to delete keyring entry", "key", key, "error", err)
	}
}
