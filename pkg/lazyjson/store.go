package lazyjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Store is the unified lazy façade over the configured backends. The first
// backend is the primary: reads fall through the list in order, writes
// commit to the primary first and then fan out.
type Store struct {
	backends []Backend
	cache    *FileCache
	locks    *keyLocks
	logger   *slog.Logger

	// pendingDir queues fan-out writes for unhealthy secondaries, replayed
	// on next process start.
	pendingDir string

	mu        sync.Mutex
	unhealthy map[string]bool

	reads  atomic.Int64
	writes atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithCache enables the local file cache for non-file primaries.
func WithCache(cache *FileCache) Option {
	return func(s *Store) { s.cache = cache }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPendingDir sets the directory for the queued fan-out writes.
func WithPendingDir(dir string) Option {
	return func(s *Store) { s.pendingDir = dir }
}

// NewStore builds a store over the ordered backend list. The list must be
// non-empty; the first entry is the primary and must be writable.
func NewStore(backends []Backend, opts ...Option) (*Store, error) {
	if len(backends) == 0 {
		return nil, errors.New("lazyjson: no backends configured")
	}

	if _, readOnly := backends[0].(*MirrorBackend); readOnly {
		return nil, errors.New("lazyjson: primary backend must be writable")
	}

	s := &Store{
		backends:  backends,
		logger:    slog.Default(),
		unhealthy: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	lockDir := s.pendingDir
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), "feedbot-locks")
	}

	s.locks = newKeyLocks(backends[0], filepath.Join(lockDir, "locks"))

	return s, nil
}

// Primary returns the primary backend.
func (s *Store) Primary() Backend { return s.backends[0] }

// Stats reports cumulative read/write counts.
func (s *Store) Stats() (reads, writes int64) {
	return s.reads.Load(), s.writes.Load()
}

// CacheStats reports file cache counters; zero stats when disabled.
func (s *Store) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}

	return s.cache.Stats()
}

func (s *Store) healthy(b Backend) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.unhealthy[b.Name()]
}

// markUnhealthy removes a backend from reads for the remainder of the
// process after its retries are exhausted.
func (s *Store) markUnhealthy(b Backend, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.unhealthy[b.Name()] {
		s.unhealthy[b.Name()] = true
		s.logger.Warn("backend marked unhealthy", "backend", b.Name(), "error", err)
	}
}

// Exists reports key presence in any healthy backend.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var lastErr error

	for _, b := range s.backends {
		if !s.healthy(b) {
			continue
		}

		found, err := b.Exists(ctx, key)
		if err != nil {
			lastErr = err

			continue
		}

		if found {
			return true, nil
		}
	}

	return false, lastErr
}

// GetBytes reads key, falling through the backend list on miss. Fetches
// through non-file backends populate the file cache when enabled.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	s.reads.Add(1)

	for _, b := range s.backends {
		if !s.healthy(b) {
			continue
		}

		data, err := s.getFromBackend(ctx, b, key)
		if errors.Is(err, ErrMissing) {
			continue
		}

		if err != nil {
			if !retryable(err) {
				return nil, err
			}

			s.markUnhealthy(b, err)

			continue
		}

		return data, nil
	}

	return nil, ErrMissing
}

func (s *Store) getFromBackend(ctx context.Context, b Backend, key string) ([]byte, error) {
	_, isFile := b.(*FileBackend)

	if s.cache != nil && !isFile {
		token, err := withRetryBytesToken(ctx, func() (string, error) { return b.Token(ctx, key) })
		if err != nil {
			return nil, err
		}

		if data, ok := s.cache.Get(key, token); ok {
			return data, nil
		}

		var data []byte

		err = withRetry(ctx, func() error {
			var getErr error
			data, getErr = b.GetBytes(ctx, key)

			return getErr
		})
		if err != nil {
			return nil, err
		}

		s.cache.Put(key, token, data)

		return data, nil
	}

	var data []byte

	err := withRetry(ctx, func() error {
		var getErr error
		data, getErr = b.GetBytes(ctx, key)

		return getErr
	})

	return data, err
}

// withRetryBytesToken adapts withRetry to a string-returning op.
func withRetryBytesToken(ctx context.Context, op func() (string, error)) (string, error) {
	var out string

	err := withRetry(ctx, func() error {
		var opErr error
		out, opErr = op()

		return opErr
	})

	return out, err
}

// PutBytes writes key to the primary, then fans out to the remaining
// writable backends. A fan-out failure leaves the primary write committed:
// the failed write is queued for replay and a warning logged.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte) error {
	s.writes.Add(1)

	primary := s.backends[0]
	if err := withRetry(ctx, func() error { return primary.PutBytes(ctx, key, data) }); err != nil {
		return fmt.Errorf("primary write %s: %w", key, err)
	}

	if s.cache != nil {
		s.cache.Invalidate(key)
	}

	for _, b := range s.backends[1:] {
		if _, readOnly := b.(*MirrorBackend); readOnly {
			continue
		}

		err := withRetry(ctx, func() error { return b.PutBytes(ctx, key, data) })
		if err != nil {
			s.markUnhealthy(b, err)
			s.queuePending(b.Name(), key)
			s.logger.Warn("fan-out write failed, queued for replay",
				"backend", b.Name(), "key", key, "error", err)
		}
	}

	return nil
}

// Delete removes key from every writable backend.
func (s *Store) Delete(ctx context.Context, key string) error {
	for _, b := range s.backends {
		if _, readOnly := b.(*MirrorBackend); readOnly {
			continue
		}

		if err := withRetry(ctx, func() error { return b.Delete(ctx, key) }); err != nil {
			return fmt.Errorf("delete %s from %s: %w", key, b.Name(), err)
		}
	}

	if s.cache != nil {
		s.cache.Invalidate(key)
	}

	return nil
}

// KeysPrefix enumerates keys from the first backend able to.
func (s *Store) KeysPrefix(ctx context.Context, prefix string) ([]string, error) {
	var lastErr error

	for _, b := range s.backends {
		if !s.healthy(b) {
			continue
		}

		keys, err := b.KeysPrefix(ctx, prefix)
		if errors.Is(err, ErrNotSupported) {
			continue
		}

		if err != nil {
			lastErr = err

			continue
		}

		return keys, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, ErrNotSupported
}

// pendingEntry is one queued fan-out write.
type pendingEntry struct {
	Backend string `json:"backend"`
	Key     string `json:"key"`
}

func (s *Store) queuePending(backendName, key string) {
	if s.pendingDir == "" {
		return
	}

	if err := os.MkdirAll(s.pendingDir, dirPerm); err != nil {
		return
	}

	data, err := json.Marshal(pendingEntry{Backend: backendName, Key: key})
	if err != nil {
		return
	}

	path := filepath.Join(s.pendingDir, uuid.NewString()+".json")
	if err := os.WriteFile(path, data, filePerm); err != nil {
		s.logger.Warn("queue pending write failed", "key", key, "error", err)
	}
}

// ReplayPending retries queued fan-out writes from a previous process.
// Entries that still fail stay queued.
func (s *Store) ReplayPending(ctx context.Context) error {
	if s.pendingDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read pending dir: %w", err)
	}

	byName := make(map[string]Backend, len(s.backends))
	for _, b := range s.backends {
		byName[b.Name()] = b
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(s.pendingDir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var pending pendingEntry
		if err := json.Unmarshal(raw, &pending); err != nil {
			os.Remove(path)

			continue
		}

		backend, ok := byName[pending.Backend]
		if !ok {
			os.Remove(path)

			continue
		}

		data, err := s.backends[0].GetBytes(ctx, pending.Key)
		if errors.Is(err, ErrMissing) {
			os.Remove(path)

			continue
		}

		if err != nil {
			continue
		}

		if err := backend.PutBytes(ctx, pending.Key, data); err != nil {
			s.logger.Warn("pending replay failed", "key", pending.Key, "error", err)

			continue
		}

		os.Remove(path)
	}

	return nil
}

// Sync forces reconciliation of all keys across the configured backends.
// Keys present anywhere are copied to every writable backend that lacks
// them; where values conflict, the primary's value wins.
func (s *Store) Sync(ctx context.Context) error {
	union := make(map[string]bool)

	for _, b := range s.backends {
		keys, err := b.KeysPrefix(ctx, "")
		if errors.Is(err, ErrNotSupported) {
			continue
		}

		if err != nil {
			return fmt.Errorf("sync enumerate %s: %w", b.Name(), err)
		}

		for _, k := range keys {
			union[k] = true
		}
	}

	for key := range union {
		if err := s.syncKey(ctx, key); err != nil {
			s.logger.Warn("sync key failed", "key", key, "error", err)
		}
	}

	return nil
}

func (s *Store) syncKey(ctx context.Context, key string) error {
	// Authoritative value: primary if present, else first backend holding it.
	var (
		data  []byte
		token string
	)

	for _, b := range s.backends {
		got, err := b.GetBytes(ctx, key)
		if errors.Is(err, ErrMissing) {
			continue
		}

		if err != nil {
			return err
		}

		data = got
		token = ContentToken(got)

		break
	}

	if data == nil {
		return nil
	}

	for _, b := range s.backends {
		if _, readOnly := b.(*MirrorBackend); readOnly {
			continue
		}

		current, err := b.Token(ctx, key)
		if err == nil && current == token {
			continue
		}

		if err != nil && !errors.Is(err, ErrMissing) {
			return err
		}

		if err := b.PutBytes(ctx, key, data); err != nil {
			return err
		}
	}

	return nil
}
