package lazyjson

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handle is a lazy reference to one key. The document is fetched and
// parsed on first Load; mutation goes through Stage, which marks the
// handle dirty; Flush writes dirty bytes back through the store.
type Handle struct {
	store *Store
	key   string

	mu     sync.Mutex
	loaded bool
	found  bool
	raw    []byte
	dirty  bool
}

// Handle returns a lazy handle for key. No I/O happens until Load.
func (s *Store) Handle(key string) *Handle {
	return &Handle{store: s, key: key}
}

// Key returns the handle's key.
func (h *Handle) Key() string { return h.key }

// Load fetches (once) and decodes the document into v. The second result
// is false when the key does not exist, in which case v is left untouched
// so callers start from the zero record.
func (h *Handle) Load(ctx context.Context, v any) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		data, err := h.store.GetBytes(ctx, h.key)
		if err != nil && !errors.Is(err, ErrMissing) {
			return false, err
		}

		h.loaded = true
		h.found = err == nil
		h.raw = data
	}

	if !h.found {
		return false, nil
	}

	if err := DecodeRecord(h.key, h.raw, v); err != nil {
		return true, err
	}

	return true, nil
}

// Exists reports presence without decoding.
func (h *Handle) Exists(ctx context.Context) (bool, error) {
	h.mu.Lock()

	if h.loaded {
		found := h.found
		h.mu.Unlock()

		return found, nil
	}

	h.mu.Unlock()

	return h.store.Exists(ctx, h.key)
}

// Stage serializes v as the handle's new content and marks it dirty.
// Nothing is written until Flush.
func (h *Handle) Stage(v any) error {
	data, err := CanonicalJSON(v)
	if err != nil {
		return fmt.Errorf("stage %s: %w", h.key, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.loaded = true
	h.found = true
	h.raw = data
	h.dirty = true

	return nil
}

// Dirty reports whether the handle holds unflushed changes.
func (h *Handle) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.dirty
}

// Flush writes dirty content to all writable backends, primary first. On a
// secondary failure the handle stays clean (the primary write committed);
// on a primary failure the handle stays dirty and the error is returned.
func (h *Handle) Flush(ctx context.Context) error {
	h.mu.Lock()

	if !h.dirty {
		h.mu.Unlock()

		return nil
	}

	data := h.raw
	h.mu.Unlock()

	if err := h.store.PutBytes(ctx, h.key, data); err != nil {
		return err
	}

	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()

	return nil
}

// Update runs fn inside a write scope for key: the per-key lock is held,
// the current document (if any) is decoded into v, and the record is
// staged and flushed at scope exit whether or not fn succeeded, so partial
// progress recorded on v is never lost. Corrupt records abort before fn.
func (s *Store) Update(ctx context.Context, key string, v any, fn func(found bool) error) error {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	handle := s.Handle(key)

	found, err := handle.Load(ctx, v)
	if err != nil {
		return err
	}

	fnErr := fn(found)

	if stageErr := handle.Stage(v); stageErr != nil {
		return errors.Join(fnErr, stageErr)
	}

	if flushErr := handle.Flush(ctx); flushErr != nil {
		return errors.Join(fnErr, flushErr)
	}

	return fnErr
}

// View decodes key into v without taking the write lock. Returns found.
func (s *Store) View(ctx context.Context, key string, v any) (bool, error) {
	return s.Handle(key).Load(ctx, v)
}
