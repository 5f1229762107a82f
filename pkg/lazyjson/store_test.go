package lazyjson_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
)

func newFileStore(t *testing.T) (*lazyjson.Store, string) {
	t.Helper()

	root := t.TempDir()

	store, err := lazyjson.NewStore(
		[]lazyjson.Backend{lazyjson.NewFileBackend(root, 2)},
		lazyjson.WithPendingDir(filepath.Join(t.TempDir(), "pending")),
	)
	require.NoError(t, err)

	return store, root
}

func TestFileBackendRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := lazyjson.NewFileBackend(t.TempDir(), 3)

	_, err := backend.GetBytes(ctx, "versions/foo")
	require.ErrorIs(t, err, lazyjson.ErrMissing)

	require.NoError(t, backend.PutBytes(ctx, "versions/foo", []byte(`{"a":1}`)))

	found, err := backend.Exists(ctx, "versions/foo")
	require.NoError(t, err)
	assert.True(t, found)

	data, err := backend.GetBytes(ctx, "versions/foo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	require.NoError(t, backend.Delete(ctx, "versions/foo"))
	require.NoError(t, backend.Delete(ctx, "versions/foo"), "delete is idempotent")
}

func TestFileBackendShardedLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	backend := lazyjson.NewFileBackend(root, 4)

	require.NoError(t, backend.PutBytes(context.Background(), "node_attrs/zlib", []byte(`{}`)))

	rel := lazyjson.ShardedRelPath("node_attrs/zlib", 4)
	parts := strings.Split(filepath.ToSlash(rel), "/")

	// Four single-character shard directories, then the key path.
	require.Len(t, parts, 6)
	for _, shard := range parts[:4] {
		assert.Len(t, shard, 1)
	}

	assert.Equal(t, "zlib.json", parts[5])

	_, err := os.Stat(filepath.Join(root, rel))
	require.NoError(t, err)
}

func TestFileBackendKeysPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := lazyjson.NewFileBackend(t.TempDir(), 2)

	for _, key := range []string{"pr_info/a", "pr_info/b", "versions/a"} {
		require.NoError(t, backend.PutBytes(ctx, key, []byte(`{}`)))
	}

	keys, err := backend.KeysPrefix(ctx, "pr_info/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pr_info/a", "pr_info/b"}, keys)
}

func TestMirrorBackendIsReadOnly(t *testing.T) {
	t.Parallel()

	mirror := lazyjson.NewMirrorBackend("http://localhost:1", 2)

	assert.ErrorIs(t, mirror.PutBytes(context.Background(), "k", nil), lazyjson.ErrReadOnlyBackend)
	assert.ErrorIs(t, mirror.Delete(context.Background(), "k"), lazyjson.ErrReadOnlyBackend)

	_, err := mirror.KeysPrefix(context.Background(), "")
	assert.ErrorIs(t, err, lazyjson.ErrNotSupported)
}

func TestStoreFallsThroughToMirror(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// The mirror serves the sharded layout over HTTP.
	payload := []byte(`{"new_version": "1.2.3"}` + "\n")
	wantPath := "/" + filepath.ToSlash(lazyjson.ShardedRelPath("versions/foo", 2))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			http.NotFound(w, r)

			return
		}

		w.Write(payload)
	}))
	defer server.Close()

	store, err := lazyjson.NewStore(
		[]lazyjson.Backend{
			lazyjson.NewFileBackend(t.TempDir(), 2),
			lazyjson.NewMirrorBackend(server.URL, 2),
		},
		lazyjson.WithPendingDir(t.TempDir()),
	)
	require.NoError(t, err)

	data, err := store.GetBytes(ctx, "versions/foo")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = store.GetBytes(ctx, "versions/ghost")
	assert.ErrorIs(t, err, lazyjson.ErrMissing)
}

func TestStoreWriteReadBackFreshProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()

	store, err := lazyjson.NewStore(
		[]lazyjson.Backend{lazyjson.NewFileBackend(root, 2)},
		lazyjson.WithPendingDir(t.TempDir()),
	)
	require.NoError(t, err)

	type rec struct {
		Value string `json:"value"`
	}

	require.NoError(t, store.Update(ctx, "node_attrs/foo", &rec{}, func(found bool) error {
		assert.False(t, found)

		return nil
	}))

	// A freshly-opened store over the same root observes the bytes.
	fresh, err := lazyjson.NewStore(
		[]lazyjson.Backend{lazyjson.NewFileBackend(root, 2)},
		lazyjson.WithPendingDir(t.TempDir()),
	)
	require.NoError(t, err)

	first, err := store.GetBytes(ctx, "node_attrs/foo")
	require.NoError(t, err)

	second, err := fresh.GetBytes(ctx, "node_attrs/foo")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasSuffix(string(second), "\n"), "records end with a newline")
}

func TestUpdatePersistsPartialProgressOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newFileStore(t)

	type rec struct {
		Bad string `json:"bad,omitempty"`
	}

	sentinel := errors.New("migrate failed")

	var doc rec

	err := store.Update(ctx, "node_attrs/foo", &doc, func(bool) error {
		doc.Bad = "migrate: boom"

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// The mutation made before the failure was still flushed.
	var reread rec

	found, err := store.View(ctx, "node_attrs/foo", &reread)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "migrate: boom", reread.Bad)
}

func TestCorruptRecordSurfaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, root := newFileStore(t)

	path := filepath.Join(root, lazyjson.ShardedRelPath("node_attrs/foo", 2))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	var doc map[string]any

	_, err := store.View(ctx, "node_attrs/foo", &doc)
	assert.ErrorIs(t, err, lazyjson.ErrCorruptRecord)
}

func TestHandleLazyAndDirty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newFileStore(t)

	handle := store.Handle("versions/foo")
	assert.False(t, handle.Dirty())

	var doc map[string]string

	found, err := handle.Load(ctx, &doc)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, handle.Stage(map[string]string{"new_version": "2.0"}))
	assert.True(t, handle.Dirty())

	require.NoError(t, handle.Flush(ctx))
	assert.False(t, handle.Dirty())

	var reread map[string]string

	found, err = store.View(ctx, "versions/foo", &reread)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2.0", reread["new_version"])
}

func TestSyncCopiesMissingKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	primaryRoot, secondaryRoot := t.TempDir(), t.TempDir()

	primary := lazyjson.NewFileBackend(primaryRoot, 2)
	secondary := lazyjson.NewFileBackend(secondaryRoot, 2)

	require.NoError(t, primary.PutBytes(ctx, "versions/only-primary", []byte(`{"v":1}`)))
	require.NoError(t, secondary.PutBytes(ctx, "versions/only-secondary", []byte(`{"v":2}`)))

	store, err := lazyjson.NewStore(
		[]lazyjson.Backend{primary, secondary},
		lazyjson.WithPendingDir(t.TempDir()),
	)
	require.NoError(t, err)

	require.NoError(t, store.Sync(ctx))

	// Both backends now hold both keys.
	for _, backend := range []lazyjson.Backend{primary, secondary} {
		for _, key := range []string{"versions/only-primary", "versions/only-secondary"} {
			found, err := backend.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, found, "%s missing %s", backend.Name(), key)
		}
	}
}

func TestFileCacheTokenStaleness(t *testing.T) {
	t.Parallel()

	cache := lazyjson.NewFileCache(t.TempDir(), 2)

	cache.Put("versions/foo", "token-1", []byte("payload"))

	data, ok := cache.Get("versions/foo", "token-1")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	// A changed token invalidates the entry.
	_, ok = cache.Get("versions/foo", "token-2")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Stale)
}

func TestDatabaseBackendRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	backend, err := lazyjson.OpenDB(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)

	t.Cleanup(func() { backend.Close() })

	require.NoError(t, backend.PutBytes(ctx, "pr_json/1", []byte(`{"id":1}`)))
	require.NoError(t, backend.PutBytes(ctx, "pr_json/1", []byte(`{"id":1,"state":"open"}`)))

	data, err := backend.GetBytes(ctx, "pr_json/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"state":"open"}`, string(data))

	keys, err := backend.KeysPrefix(ctx, "pr_json/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pr_json/1"}, keys)

	token, err := backend.Token(ctx, "pr_json/1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = backend.Token(ctx, "pr_json/2")
	assert.ErrorIs(t, err, lazyjson.ErrMissing)
}
