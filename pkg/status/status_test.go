package status_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/status"
)

func newStore(t *testing.T) *lazyjson.Store {
	t.Helper()

	backend := lazyjson.NewFileBackend(t.TempDir(), 2)
	store, err := lazyjson.NewStore([]lazyjson.Backend{backend},
		lazyjson.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	return store
}

func seedPackage(t *testing.T, store *lazyjson.Store, name string,
	mutate func(*model.PackageRecord, *model.VersionRecord, *model.PRInfoRecord),
) {
	t.Helper()

	ctx := context.Background()

	rec := model.PackageRecord{Name: name, FeedstockName: name, Version: "1.0.0"}
	vrec := model.VersionRecord{}
	info := model.PRInfoRecord{}

	if mutate != nil {
		mutate(&rec, &vrec, &info)
	}

	require.NoError(t, store.Update(ctx, model.PrefixNode+name, &rec,
		func(bool) error { return nil }))
	require.NoError(t, store.Update(ctx, model.PrefixVersions+name, &vrec,
		func(bool) error { return nil }))
	require.NoError(t, store.Update(ctx, model.PrefixPRInfo+name, &info,
		func(bool) error { return nil }))
}

func versionRegistry() *migrators.Registry {
	reg := migrators.NewRegistry()
	reg.MustRegister(migrators.NewVersion(nil))

	return reg
}

func buildReport(t *testing.T, store *lazyjson.Store, reg *migrators.Registry) *status.Report {
	t.Helper()

	rep, err := status.NewReporter(store, reg, slog.New(slog.DiscardHandler)).
		Build(context.Background())
	require.NoError(t, err)

	return rep
}

func TestClassification(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	reg := versionRegistry()
	m, _ := reg.Get("version")

	// No pending version: filter passes nothing, classified done.
	seedPackage(t, store, "settled", nil)

	// Pending version, no PR yet.
	seedPackage(t, store, "pending", func(_ *model.PackageRecord, v *model.VersionRecord, _ *model.PRInfoRecord) {
		v.NewVersion = "1.0.1"
	})

	// Pending version with an open PR.
	seedPackage(t, store, "inflight", func(_ *model.PackageRecord, v *model.VersionRecord, i *model.PRInfoRecord) {
		v.NewVersion = "1.0.1"
		i.PRs = []model.PRFingerprintEntry{{
			Fingerprint: `{"migrator":"version","target":"1.0.1"}`,
			PRState:     model.PRStateOpen,
			PRURL:       "https://github.test/pull/1",
		}}
	})

	// Merged PR.
	seedPackage(t, store, "landed", func(_ *model.PackageRecord, v *model.VersionRecord, i *model.PRInfoRecord) {
		v.NewVersion = "1.0.1"
		i.PRs = []model.PRFingerprintEntry{{
			Fingerprint: `{"migrator":"version","target":"1.0.1"}`,
			PRState:     model.PRStateMerged,
			Merged:      true,
		}}
	})

	// Recorded bot failure.
	seedPackage(t, store, "broken", func(r *model.PackageRecord, v *model.VersionRecord, _ *model.PRInfoRecord) {
		v.NewVersion = "1.0.1"
		r.Bad = &model.BadInfo{Kind: "migrate", Reason: "no version line"}
	})

	report := buildReport(t, store, reg)
	states := report.Migrators[m.Name()]

	assert.Equal(t, status.StatusDone, states["settled"].Status)
	assert.Equal(t, status.StatusAwaitingPR, states["pending"].Status)
	assert.Equal(t, status.StatusInPR, states["inflight"].Status)
	assert.Equal(t, "https://github.test/pull/1", states["inflight"].PRURL)
	assert.Equal(t, status.StatusDone, states["landed"].Status)
	assert.Equal(t, status.StatusBotError, states["broken"].Status)

	totals := report.Totals["version"]
	assert.Equal(t, 2, totals[status.StatusDone])
	assert.Equal(t, 1, totals[status.StatusInPR])
}

func TestAwaitingParents(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	reg := versionRegistry()

	seedPackage(t, store, "parent", func(_ *model.PackageRecord, v *model.VersionRecord, _ *model.PRInfoRecord) {
		v.NewVersion = "2.0"
	})
	seedPackage(t, store, "child", func(r *model.PackageRecord, v *model.VersionRecord, _ *model.PRInfoRecord) {
		r.Requirements = model.Requirements{Host: []string{"parent"}}
		v.NewVersion = "2.0"
	})

	report := buildReport(t, store, reg)
	states := report.Migrators["version"]

	assert.Equal(t, status.StatusAwaitingPR, states["parent"].Status)
	assert.Equal(t, status.StatusAwaitingParents, states["child"].Status)
}

func TestNodeGraphInfo(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	seedPackage(t, store, "base", nil)
	seedPackage(t, store, "mid", func(r *model.PackageRecord, _ *model.VersionRecord, _ *model.PRInfoRecord) {
		r.Requirements = model.Requirements{Host: []string{"base"}}
	})
	seedPackage(t, store, "leaf", func(r *model.PackageRecord, _ *model.VersionRecord, _ *model.PRInfoRecord) {
		r.Requirements = model.Requirements{Host: []string{"mid"}}
	})

	report := buildReport(t, store, versionRegistry())

	assert.Equal(t, 2, report.Nodes["base"].NumDescendants)
	assert.Equal(t, []string{"mid"}, report.Nodes["base"].ImmediateChildren)
	assert.Empty(t, report.Nodes["leaf"].ImmediateChildren)
}

func TestCorruptKeysSurface(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	seedPackage(t, store, "good", nil)
	require.NoError(t, store.PutBytes(ctx, model.PrefixNode+"mangled", []byte("{not json")))

	report := buildReport(t, store, versionRegistry())

	assert.Contains(t, report.CorruptKeys, model.PrefixNode+"mangled")
	assert.Contains(t, report.Migrators["version"], "good")
	assert.NotContains(t, report.Migrators["version"], "mangled")
}

func TestJSONDeterministic(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedPackage(t, store, "b", nil)
	seedPackage(t, store, "a", nil)

	reg := versionRegistry()

	first, err := buildReport(t, store, reg).JSON()
	require.NoError(t, err)

	second, err := buildReport(t, store, reg).JSON()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, bytes.HasSuffix(first, []byte("\n")))
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedPackage(t, store, "pending", func(_ *model.PackageRecord, v *model.VersionRecord, _ *model.PRInfoRecord) {
		v.NewVersion = "1.0.1"
	})

	var buf bytes.Buffer

	buildReport(t, store, versionRegistry()).RenderTable(&buf)

	out := buf.String()
	assert.Contains(t, out, "version")
	assert.Contains(t, out, "awaiting-pr")
}
