package lazyjson

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultShardDepth is the number of single-character shard directories
// prepended to each key path. Mandatory for revisions with 10^5+ files;
// configured once per deployment.
const DefaultShardDepth = 5

// filePerm is the mode for created record files.
const filePerm = 0o644

// dirPerm is the mode for created shard directories.
const dirPerm = 0o755

// FileBackend stores each key as a JSON file under a sharded relative
// path: the first N hex characters of sha256(key), one directory per
// character, then <key>.json. Writes are atomic (temp file + rename).
type FileBackend struct {
	root       string
	shardDepth int
}

// NewFileBackend creates a file backend rooted at dir. A shardDepth of
// zero selects DefaultShardDepth.
func NewFileBackend(dir string, shardDepth int) *FileBackend {
	if shardDepth <= 0 {
		shardDepth = DefaultShardDepth
	}

	return &FileBackend{root: dir, shardDepth: shardDepth}
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Root returns the backend's root directory.
func (b *FileBackend) Root() string { return b.root }

// KeyPath returns the sharded on-disk path for key.
func (b *FileBackend) KeyPath(key string) string {
	return filepath.Join(b.root, ShardedRelPath(key, b.shardDepth))
}

// ShardedRelPath computes the sharded relative path for a key: one
// directory per hash character, then the key itself with a .json suffix.
// Keys may contain "/" (logical prefixes become subdirectories).
func ShardedRelPath(key string, shardDepth int) string {
	sum := sha256.Sum256([]byte(key))
	hexed := hex.EncodeToString(sum[:])

	parts := make([]string, 0, shardDepth+1)
	for i := range shardDepth {
		parts = append(parts, string(hexed[i]))
	}

	parts = append(parts, filepath.FromSlash(key)+".json")

	return filepath.Join(parts...)
}

// Exists implements Backend.
func (b *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.KeyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat %s: %w", key, err)
	}

	return true, nil
}

// GetBytes implements Backend.
func (b *FileBackend) GetBytes(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.KeyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}

		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return data, nil
}

// PutBytes implements Backend. The write is atomic per key: the bytes land
// in a temp file in the destination directory and are renamed over the
// target.
func (b *FileBackend) PutBytes(_ context.Context, key string, data []byte) error {
	path := b.KeyPath(key)

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("mkdir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", key, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close %s: %w", key, err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("chmod %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("rename %s: %w", key, err)
	}

	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.KeyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// KeysPrefix implements Backend by walking the shard tree and
// reconstructing keys from the path components below the shard layers.
func (b *FileBackend) KeysPrefix(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(b.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}

		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}

		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) <= b.shardDepth {
			return nil
		}

		key := strings.TrimSuffix(strings.Join(parts[b.shardDepth:], "/"), ".json")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("walk %s: %w", b.root, err)
	}

	return keys, nil
}

// Token implements Backend: the token is the content hash of the stored
// bytes.
func (b *FileBackend) Token(ctx context.Context, key string) (string, error) {
	data, err := b.GetBytes(ctx, key)
	if err != nil {
		return "", err
	}

	return ContentToken(data), nil
}

// ReadMap implements Hashmapper.
func (b *FileBackend) ReadMap(ctx context.Context, key string) (map[string]string, error) {
	data, err := b.GetBytes(ctx, key)
	if err != nil {
		return nil, err
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}

	return m, nil
}

// WriteMap implements Hashmapper.
func (b *FileBackend) WriteMap(ctx context.Context, key string, m map[string]string) error {
	data, err := CanonicalJSON(m)
	if err != nil {
		return err
	}

	return b.PutBytes(ctx, key, data)
}

// ContentToken returns the opaque version token for a byte value.
func ContentToken(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
