package lazyjson

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// flockRetryInterval is the poll interval while waiting on a cross-process
// sidecar lock.
const flockRetryInterval = 100 * time.Millisecond

// keyLocks serializes write scopes per key within one process, and layers a
// sidecar .lock flock on top for cross-process advisory locking.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// lockDir hosts the sidecar files when the primary backend has no
	// natural on-disk path for a key.
	lockDir string

	// pathFor maps a key to its sidecar lock path.
	pathFor func(key string) string
}

// newKeyLocks builds the lock table. When primary is a FileBackend the
// sidecar sits next to the record file; otherwise sidecars live under
// lockDir.
func newKeyLocks(primary Backend, lockDir string) *keyLocks {
	kl := &keyLocks{
		locks:   make(map[string]*sync.Mutex),
		lockDir: lockDir,
	}

	if fb, ok := primary.(*FileBackend); ok {
		kl.pathFor = func(key string) string { return fb.KeyPath(key) + ".lock" }
	} else {
		kl.pathFor = func(key string) string {
			return filepath.Join(lockDir, ShardedRelPath(key, DefaultShardDepth)+".lock")
		}
	}

	return kl
}

// acquire takes the in-process mutex and the cross-process flock for key.
// The returned release function undoes both.
func (kl *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	kl.mu.Lock()

	mu, ok := kl.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		kl.locks[key] = mu
	}

	kl.mu.Unlock()

	mu.Lock()

	sidecar := kl.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(sidecar), dirPerm); err != nil {
		mu.Unlock()

		return nil, fmt.Errorf("lock dir for %s: %w", key, err)
	}

	fl := flock.New(sidecar)

	locked, err := fl.TryLockContext(ctx, flockRetryInterval)
	if err != nil {
		mu.Unlock()

		return nil, fmt.Errorf("flock %s: %w", key, err)
	}

	if !locked {
		mu.Unlock()

		return nil, fmt.Errorf("flock %s: not acquired", key)
	}

	return func() {
		fl.Unlock()
		mu.Unlock()
	}, nil
}
