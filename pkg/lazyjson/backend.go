// Package lazyjson implements the graph store: a key→JSON mapping served
// through an ordered list of backends with lazy handles, dirty-write flush,
// an optional compressed file cache, and per-key advisory locking.
//
// The first configured backend is the primary: reads are served from it
// (falling through the list on miss) and writes commit to it before fanning
// out to the rest.
package lazyjson

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by backends and the store.
var (
	// ErrMissing reports that a key is not present in a backend.
	ErrMissing = errors.New("lazyjson: key missing")

	// ErrReadOnlyBackend reports a write against a read-only backend.
	ErrReadOnlyBackend = errors.New("lazyjson: backend is read-only")

	// ErrCorruptRecord reports that a stored value is not valid JSON.
	// Fatal for the key; the process continues with other keys.
	ErrCorruptRecord = errors.New("lazyjson: corrupt record")

	// ErrNotSupported reports that a backend cannot serve an operation
	// (e.g. key enumeration over a plain HTTP mirror).
	ErrNotSupported = errors.New("lazyjson: operation not supported")
)

// Backend is one concrete implementation of the key→bytes mapping.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and configuration ("file",
	// "mirror", "database").
	Name() string

	// Exists reports key presence without materializing the value.
	Exists(ctx context.Context, key string) (bool, error)

	// GetBytes returns the raw stored bytes, or ErrMissing.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// PutBytes writes or overwrites the key. Atomic per key.
	PutBytes(ctx context.Context, key string, data []byte) error

	// Delete removes the key. Idempotent: deleting an absent key is nil.
	Delete(ctx context.Context, key string) error

	// KeysPrefix enumerates keys under a logical prefix. Backends that
	// cannot enumerate return ErrNotSupported.
	KeysPrefix(ctx context.Context, prefix string) ([]string, error)

	// Token returns an opaque version token for the stored value (content
	// hash or ETag-equivalent), or ErrMissing. Used for cache staleness
	// checks and cross-backend reconciliation.
	Token(ctx context.Context, key string) (string, error)
}

// Hashmapper is the optional batched small-map capability: per-package
// compact maps stored as one document. The file and database backends
// implement it; the mirror does not.
type Hashmapper interface {
	ReadMap(ctx context.Context, key string) (map[string]string, error)
	WriteMap(ctx context.Context, key string, m map[string]string) error
}
