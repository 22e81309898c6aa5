package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// SessionStore is scoped to a single session: its values live in a
// directory unique to the session and are deleted when the session ends.
type SessionStore struct {
	*FileStore

	id   string
	once sync.Once
}

// NewSessionStore creates a store for a new session. When no temporary
// directory is usable the store discards writes.
func NewSessionStore(opts Options) *SessionStore {
	id := uuid.NewString()
	dir := filepath.Join(os.TempDir(), "authkit-session-"+id)
	return &SessionStore{
		FileStore: newFileStoreAt(dir, opts.logger()),
		id:        id,
	}
}

// ID returns the session identifier.
func (s *SessionStore) ID() string {
	return s.id
}

// Close ends the session and deletes everything stored in it.
func (s *SessionStore) Close() error {
	var err error
	s.once.Do(func() {
		if cerr := s.FileStore.Close(); cerr != nil {
			err = cerr
		}
		if s.disabled.Load() {
			return
		}
		if rerr := os.RemoveAll(s.dir); rerr != nil {
			err = fmt.Errorf("failed to remove session directory: %w", rerr)
		}
		s.disabled.Store(true)
	})
	return err
}
