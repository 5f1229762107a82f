package probes

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDeduceByHost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		name string
	}{
		{"https://github.com/foo/bar/archive/v{{ version }}.tar.gz", "github_tags"},
		{"https://pypi.io/packages/source/f/foo/foo-{{ version }}.tar.gz", "pypi"},
		{"https://registry.npmjs.org/foo/-/foo-{{ version }}.tgz", "npm"},
		{"https://ftp.gnu.org/gnu/foo/foo-{{ version }}.tar.gz", "raw_listing"},
	}

	for _, tc := range cases {
		prober, err := Deduce(&model.PackageRecord{SourceURL: tc.url})
		require.NoError(t, err)
		assert.Equal(t, tc.name, prober.Name(), tc.url)
	}

	_, err := Deduce(&model.PackageRecord{})
	assert.ErrorIs(t, err, ErrNoSourceURL)
}

func TestSelectLatest(t *testing.T) {
	t.Parallel()

	out := selectLatest([]string{"1.0", "1.2", "1.1"}, "1.0", false)
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "1.2", out.Version)

	// Pre-releases are dropped unless opted in.
	out = selectLatest([]string{"1.0", "2.0rc1"}, "1.0", false)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	out = selectLatest([]string{"1.0", "2.0rc1"}, "1.0", true)
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "2.0rc1", out.Version)

	// Nothing newer than current.
	out = selectLatest([]string{"0.9", "1.0"}, "1.0", false)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	// Nothing acceptable at all.
	out = selectLatest(nil, "1.0", false)
	assert.Equal(t, OutcomeUnavailable, out.Kind)
}

func TestGitTagsProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/foo/tags", r.URL.Path)
		w.Write([]byte(`[{"name":"v1.2.0"},{"name":"v1.1.0"},{"name":"v2.0.0rc1"}]`))
	}))
	defer srv.Close()

	prober := &GitTags{APIBase: srv.URL, Client: srv.Client()}

	rec := &model.PackageRecord{
		Name:      "foo",
		Version:   "1.1.0",
		SourceURL: "https://github.com/acme/foo/archive/v{{ version }}.tar.gz",
	}

	out := prober.Probe(context.Background(), rec)
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "1.2.0", out.Version)
}

func TestPyPIProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pypi/foo/json", r.URL.Path)
		w.Write([]byte(`{"releases":{"1.0.0":[{}],"1.0.1":[{}],"0.9":[{}],"1.1.0":[]}}`))
	}))
	defer srv.Close()

	prober := &PyPI{APIBase: srv.URL, Client: srv.Client()}

	rec := &model.PackageRecord{
		Name:      "foo",
		Version:   "1.0.0",
		SourceURL: "https://pypi.io/packages/source/f/foo/foo-{{ version }}.tar.gz",
	}

	// 1.1.0 has no files and is skipped.
	out := prober.Probe(context.Background(), rec)
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "1.0.1", out.Version)
}

func TestNPMProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/foo", r.URL.Path)
		w.Write([]byte(`{"versions":{"1.0.0":{},"1.2.3":{}}}`))
	}))
	defer srv.Close()

	prober := &NPM{APIBase: srv.URL, Client: srv.Client()}

	out := prober.Probe(context.Background(), &model.PackageRecord{Name: "foo", Version: "1.0.0"})
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "1.2.3", out.Version)
}

func TestRawListingProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gnu/foo/", r.URL.Path)
		w.Write([]byte(`<a href="foo-1.0.tar.gz">foo-1.0.tar.gz</a>
<a href="foo-1.4.tar.gz">foo-1.4.tar.gz</a>
<a href="foo-doc-7.7.tar.gz">unrelated</a>`))
	}))
	defer srv.Close()

	prober := &RawListing{Client: srv.Client()}

	rec := &model.PackageRecord{
		Name:      "foo",
		Version:   "1.0",
		SourceURL: srv.URL + "/gnu/foo/foo-{{ version }}.tar.gz",
	}

	out := prober.Probe(context.Background(), rec)
	require.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "1.4", out.Version)
}

func TestProbeUnavailableOnHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	prober := &NPM{APIBase: srv.URL, Client: srv.Client()}

	out := prober.Probe(context.Background(), &model.PackageRecord{Name: "foo"})
	assert.Equal(t, OutcomeUnavailable, out.Kind)
	assert.NotEmpty(t, out.Reason)
}

// fakeProber lets runner tests skip the network.
type fakeProber struct {
	outcome Outcome
}

func (f fakeProber) Name() string { return "fake" }

func (f fakeProber) Probe(context.Context, *model.PackageRecord) Outcome { return f.outcome }

func newTestStore(t *testing.T) *lazyjson.Store {
	t.Helper()

	backend := lazyjson.NewFileBackend(t.TempDir(), 2)

	store, err := lazyjson.NewStore([]lazyjson.Backend{backend},
		lazyjson.WithLogger(discardLogger()))
	require.NoError(t, err)

	return store
}

func TestRunnerWritesVersionRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	rec := model.PackageRecord{Name: "foo", FeedstockName: "foo", Version: "1.0.0"}
	require.NoError(t, store.Update(ctx, model.PrefixNode+"foo", &rec, func(bool) error { return nil }))

	runner := NewRunner(store, discardLogger())
	runner.deduce = func(*model.PackageRecord) (Prober, error) {
		return fakeProber{outcome: Found("1.0.1")}, nil
	}

	require.NoError(t, runner.Run(ctx))

	var vrec model.VersionRecord

	found, err := store.View(ctx, model.PrefixVersions+"foo", &vrec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1.0.1", vrec.NewVersion)
	assert.Nil(t, vrec.Bad)
}

func TestRunnerKeepsNewVersionOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	rec := model.PackageRecord{Name: "foo", Version: "1.0.0"}
	require.NoError(t, store.Update(ctx, model.PrefixNode+"foo", &rec, func(bool) error { return nil }))

	prior := model.VersionRecord{NewVersion: "1.0.1", NewVersionAttempts: map[string]int{"1.0.1": 1}}
	require.NoError(t, store.Update(ctx, model.PrefixVersions+"foo", &prior, func(bool) error { return nil }))

	runner := NewRunner(store, discardLogger())
	runner.deduce = func(*model.PackageRecord) (Prober, error) {
		return fakeProber{outcome: Unavailable("upstream down")}, nil
	}

	require.NoError(t, runner.Run(ctx))

	var vrec model.VersionRecord

	_, err := store.View(ctx, model.PrefixVersions+"foo", &vrec)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", vrec.NewVersion, "failure must not reset new_version")
	require.NotNil(t, vrec.Bad)
	assert.Equal(t, "version_probe", vrec.Bad.Kind)
	assert.Equal(t, 1, vrec.NewVersionAttempts["1.0.1"], "attempt counters survive the sweep")
}

func TestRunnerGuardsNonNewerCandidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	rec := model.PackageRecord{Name: "foo", Version: "2.0"}
	require.NoError(t, store.Update(ctx, model.PrefixNode+"foo", &rec, func(bool) error { return nil }))

	runner := NewRunner(store, discardLogger())
	runner.deduce = func(*model.PackageRecord) (Prober, error) {
		return fakeProber{outcome: Found("1.0")}, nil
	}

	require.NoError(t, runner.Run(ctx))

	var vrec model.VersionRecord

	_, err := store.View(ctx, model.PrefixVersions+"foo", &vrec)
	require.NoError(t, err)
	assert.Empty(t, vrec.NewVersion)
	assert.Nil(t, vrec.Bad)
}

func TestRunnerSharding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	names := []string{"alpha", "beta", "gamma", "delta"}
	for _, name := range names {
		rec := model.PackageRecord{Name: name, Version: "1.0"}
		require.NoError(t, store.Update(ctx, model.PrefixNode+name, &rec, func(bool) error { return nil }))
	}

	const nJobs = 2

	probed := map[string]bool{}

	for job := range nJobs {
		runner := NewRunner(store, discardLogger())
		runner.Job = job
		runner.NJobs = nJobs
		runner.deduce = func(rec *model.PackageRecord) (Prober, error) {
			probed[rec.Name] = true

			return fakeProber{outcome: Unchanged()}, nil
		}

		require.NoError(t, runner.Run(ctx))
	}

	// Every package lands in exactly one shard; two jobs cover all.
	assert.Len(t, probed, len(names))
}
