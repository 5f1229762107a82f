package lazyjson

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"
)

// FileCache mirrors fetched records on local disk, lz4-compressed. Each
// entry carries the primary backend's version token on its first line; a
// token mismatch on open is treated as stale and triggers a refetch.
type FileCache struct {
	root       string
	shardDepth int

	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

// NewFileCache creates a cache rooted at dir.
func NewFileCache(dir string, shardDepth int) *FileCache {
	if shardDepth <= 0 {
		shardDepth = DefaultShardDepth
	}

	return &FileCache{root: dir, shardDepth: shardDepth}
}

func (c *FileCache) entryPath(key string) string {
	return filepath.Join(c.root, ShardedRelPath(key, c.shardDepth)+".lz4")
}

// Get returns the cached bytes for key if present and the token matches.
func (c *FileCache) Get(key, wantToken string) ([]byte, bool) {
	file, err := os.Open(c.entryPath(key))
	if err != nil {
		c.misses.Add(1)

		return nil, false
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	tokenLine, err := reader.ReadString('\n')
	if err != nil {
		c.misses.Add(1)

		return nil, false
	}

	if strings.TrimSuffix(tokenLine, "\n") != wantToken {
		c.stale.Add(1)

		return nil, false
	}

	data, err := io.ReadAll(lz4.NewReader(reader))
	if err != nil {
		c.misses.Add(1)

		return nil, false
	}

	c.hits.Add(1)

	return data, true
}

// Put stores bytes for key under the given token. Cache write failures are
// swallowed; the cache is best-effort.
func (c *FileCache) Put(key, token string, data []byte) {
	path := c.entryPath(key)

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return
	}

	var buf bytes.Buffer

	buf.WriteString(token)
	buf.WriteByte('\n')

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return
	}

	if err := zw.Close(); err != nil {
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
	}
}

// Invalidate drops the cache entry for key.
func (c *FileCache) Invalidate(key string) {
	os.Remove(c.entryPath(key))
}

// CacheStats holds cache effectiveness counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Stale  int64
}

// Stats returns a snapshot of the counters.
func (c *FileCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stale:  c.stale.Load(),
	}
}

// HitRate returns the fraction of lookups served from cache.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses + s.Stale
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// String renders the stats for debug logging.
func (s CacheStats) String() string {
	return fmt.Sprintf("hits=%d misses=%d stale=%d", s.Hits, s.Misses, s.Stale)
}
