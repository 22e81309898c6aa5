package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// DefaultStorageDir is the directory below the user config directory that
// holds persistent stores.
const DefaultStorageDir = "authkit/storage"

const (
	lockFileName = ".lock"
	tmpPrefix    = ".tmp-"
	valuePrefix  = "v_"
	lockTimeout  = 5 * time.Second
)

// FileStore persists each key as one file inside a directory that is private
// to the owning user. Writes go through a temporary file and a rename under
// an advisory file lock, so concurrent processes never observe a partially
// written value; the last writer wins.
//
// SECURITY: the directory is created 0700 and files 0600. Values are never
// logged.
type FileStore struct {
	dir    string
	logger *slog.Logger

	disabled atomic.Bool

	mu       sync.Mutex
	watchers []*fsnotify.Watcher
}

// NewFileStore creates the persistent store for opts.Origin. If no directory
// can be resolved or created the returned store silently discards writes.
func NewFileStore(opts Options) *FileStore {
	logger := opts.logger()

	base := opts.Dir
	if base == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			logger.Warn("No user config directory available, persistent storage disabled", "error", err)
			s := &FileStore{logger: logger}
			s.disabled.Store(true)
			return s
		}
		base = filepath.Join(configDir, DefaultStorageDir)
	}

	return newFileStoreAt(filepath.Join(base, OriginKey(opts.Origin)), logger)
}

func newFileStoreAt(dir string, logger *slog.Logger) *FileStore {
	s := &FileStore{dir: dir, logger: logger}
	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.Warn("Failed to create storage directory, persistent storage disabled",
			"dir", dir, "error", err)
		s.disabled.Store(true)
	}
	return s
}

// OriginKey returns a filesystem-safe identifier for an application origin.
func OriginKey(origin string) string {
	hash := sha256.Sum256([]byte(origin))
	return hex.EncodeToString(hash[:16])
}

// Dir returns the directory backing the store, empty when disabled.
func (s *FileStore) Dir() string {
	if s.disabled.Load() {
		return ""
	}
	return s.dir
}

func (s *FileStore) Get(key string) (string, bool) {
	if s.disabled.Load() {
		return "", false
	}

	// #nosec G304 -- path is built from the escaped key inside our own directory
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to read stored value", "key", key, "error", err)
		}
		return "", false
	}
	return string(data), true
}

func (s *FileStore) Set(key, value string) {
	if s.disabled.Load() {
		return
	}
	if err := s.withLock(func() error { return s.writeAtomic(key, value) }); err != nil {
		s.logger.Warn("Failed to store value", "key", key, "error", err)
	}
}

func (s *FileStore) Remove(key string) {
	if s.disabled.Load() {
		return
	}
	err := s.withLock(func() error {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to remove stored value", "key", key, "error", err)
	}
}

// Watch calls fn with the key whenever a value in the store directory
// changes, whether through this store or another process sharing the
// directory. It returns once the watcher is running; watching stops when ctx
// is done or the store is closed.
func (s *FileStore) Watch(ctx context.Context, fn func(key string)) error {
	if s.disabled.Load() {
		return errors.New("persistent storage is disabled")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, watcher)
	s.mu.Unlock()

	// Capture channels before starting so Close cannot race the reader.
	go s.processEvents(ctx, watcher, watcher.Events, watcher.Errors, fn)
	return nil
}

func (s *FileStore) processEvents(ctx context.Context, w *fsnotify.Watcher, eventsCh <-chan fsnotify.Event, errorsCh <-chan error, fn func(string)) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if key, ok := keyFromFile(filepath.Base(event.Name)); ok {
				fn(key)
			}
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			s.logger.Warn("Storage watcher error", "error", err)
		}
	}
}

// Close stops all watchers started by Watch.
func (s *FileStore) Close() error {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

func (s *FileStore) withLock(fn func() error) error {
	lock := flock.New(filepath.Join(s.dir, lockFileName))
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock: timeout after %v", lockTimeout)
	}
	defer lock.Unlock()

	return fn()
}

func (s *FileStore) writeAtomic(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write value: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmpName, s.path(key))
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, valuePrefix+url.PathEscape(key))
}

func keyFromFile(name string) (string, bool) {
	if !strings.HasPrefix(name, valuePrefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(name, valuePrefix))
	if err != nil {
		return "", false
	}
	return key, true
}
