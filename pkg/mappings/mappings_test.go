package mappings_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/mappings"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

func newStore(t *testing.T) *lazyjson.Store {
	t.Helper()

	backend := lazyjson.NewFileBackend(t.TempDir(), 2)
	store, err := lazyjson.NewStore([]lazyjson.Backend{backend},
		lazyjson.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	return store
}

func seed(t *testing.T, store *lazyjson.Store, rec model.PackageRecord) {
	t.Helper()

	require.NoError(t, store.Update(context.Background(),
		model.PrefixNode+rec.Name, &rec, func(bool) error { return nil }))
}

func TestBuildImportToPackage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	seed(t, store, model.PackageRecord{Name: "pillow", ImportNames: []string{"PIL"}})
	seed(t, store, model.PackageRecord{Name: "pil-compat", ImportNames: []string{"PIL"}})
	seed(t, store, model.PackageRecord{Name: "requests", ImportNames: []string{"requests"}})
	seed(t, store, model.PackageRecord{Name: "ctoolchain"})

	b := mappings.NewBuilder(store, slog.New(slog.DiscardHandler))

	n, err := b.BuildImportToPackage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var mapping model.ImportMappingRecord

	found, err := store.View(ctx, model.KeyImportToPackage, &mapping)
	require.NoError(t, err)
	require.True(t, found)

	// Providers come back sorted.
	assert.Equal(t, []string{"pil-compat", "pillow"}, mapping.Imports["PIL"])
	assert.Equal(t, []string{"requests"}, mapping.Imports["requests"])
}

func TestBuildPackageToFeedstock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	seed(t, store, model.PackageRecord{Name: "foo", FeedstockName: "foolib"})
	seed(t, store, model.PackageRecord{Name: "bar"})

	b := mappings.NewBuilder(store, slog.New(slog.DiscardHandler))

	n, err := b.BuildPackageToFeedstock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var mapping model.FeedstockMappingRecord

	_, err = store.View(ctx, model.KeyPackageFeedstocks, &mapping)
	require.NoError(t, err)
	assert.Equal(t, "foolib", mapping.Feedstocks["foo"])
	// Feedstock name defaults to the package name.
	assert.Equal(t, "bar", mapping.Feedstocks["bar"])
}

func TestBuildAllSkipsCorruptRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	seed(t, store, model.PackageRecord{Name: "good", ImportNames: []string{"good"}})
	require.NoError(t, store.PutBytes(ctx, model.PrefixNode+"mangled", []byte("{oops")))

	b := mappings.NewBuilder(store, slog.New(slog.DiscardHandler))
	require.NoError(t, b.BuildAll(ctx))

	var mapping model.ImportMappingRecord

	_, err := store.View(ctx, model.KeyImportToPackage, &mapping)
	require.NoError(t, err)
	assert.Contains(t, mapping.Imports, "good")
}
