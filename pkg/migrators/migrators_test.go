package migrators_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

const testMeta = `{% set name = "foo" %}
{% set version = "1.0.0" %}

package:
  name: {{ name }}
  version: {{ version }}

source:
  url: https://example.com/{{ name }}-{{ version }}.tar.gz
  sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa

build:
  number: 2

requirements:
  host:
    - python
    - oldlib
  run:
    - python
`

func newTree(t *testing.T) string {
	t.Helper()

	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, recipe.RecipeDir), 0o755))
	require.NoError(t, recipe.WriteMeta(tree, testMeta))

	return tree
}

func fooPackage() *model.Package {
	return &model.Package{
		Name: "foo",
		Record: &model.PackageRecord{
			Name:      "foo",
			Version:   "1.0.0",
			SourceURL: "https://example.com/{{ name }}-{{ version }}.tar.gz",
			Requirements: model.Requirements{
				Host: []string{"python", "oldlib"},
				Run:  []string{"python"},
			},
		},
		Version: &model.VersionRecord{NewVersion: "1.0.1"},
		PRInfo:  &model.PRInfoRecord{},
	}
}

func fixedHasher(hash string) migrators.URLHasher {
	return func(context.Context, string) (string, error) {
		return hash, nil
	}
}

const newHash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestFingerprintCanonical(t *testing.T) {
	t.Parallel()

	fp := migrators.Fingerprint(map[string]any{"target": "1.0.1", "migrator": "version"})
	assert.Equal(t, `{"migrator":"version","target":"1.0.1"}`, fp)
}

func TestRegistryOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	reg := migrators.NewRegistry()
	reg.MustRegister(migrators.NewPin("oldlib", "newlib"))
	reg.MustRegister(migrators.NewVersion(fixedHasher(newHash)))

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "pin-oldlib", all[0].Name())
	assert.Equal(t, "version", all[1].Name())

	err := reg.Register(migrators.NewVersion(fixedHasher(newHash)))
	assert.ErrorIs(t, err, migrators.ErrDuplicateMigrator)

	got, ok := reg.Get("version")
	require.True(t, ok)
	assert.Equal(t, "version", got.Name())
}

func TestVersionFilter(t *testing.T) {
	t.Parallel()

	m := migrators.NewVersion(fixedHasher(newHash))

	pkg := fooPackage()
	assert.False(t, m.Filter(pkg), "pending version means work")

	pkg.Version.NewVersion = ""
	assert.True(t, m.Filter(pkg), "no discovered version")

	pkg.Version.NewVersion = "1.0.0"
	assert.True(t, m.Filter(pkg), "already at the discovered version")

	pkg.Version.NewVersion = "1.0.1"
	pkg.Version.NewVersionAttempts = map[string]int{"1.0.1": 3}
	assert.True(t, m.Filter(pkg), "attempt budget burned")
}

func TestVersionMigrateIdempotent(t *testing.T) {
	t.Parallel()

	m := migrators.NewVersion(fixedHasher(newHash))
	tree := newTree(t)
	pkg := fooPackage()

	fp, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Equal(t, `{"migrator":"version","target":"1.0.1"}`, fp)

	meta, err := recipe.ReadMeta(tree)
	require.NoError(t, err)
	assert.Contains(t, meta, `{% set version = "1.0.1" %}`)
	assert.Contains(t, meta, "sha256: "+newHash)

	number, err := recipe.BuildNumber(meta)
	require.NoError(t, err)
	assert.Zero(t, number)

	// Second run over the migrated tree yields the same fingerprint and
	// the same tree.
	again, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Equal(t, fp, again)

	after, err := recipe.ReadMeta(tree)
	require.NoError(t, err)
	assert.Equal(t, meta, after)
}

func TestVersionPRStrings(t *testing.T) {
	t.Parallel()

	m := migrators.NewVersion(fixedHasher(newHash))
	pkg := fooPackage()

	assert.Equal(t, "foo v1.0.1", m.PRTitle(pkg))
	assert.Equal(t, "bump-1.0.1", m.RemoteBranch(pkg))
	assert.Contains(t, m.PRBody(pkg), `"migrator_fingerprint"`)
	assert.Contains(t, m.PRBody(pkg), "```json")
}

func TestPinFilterAndMigrate(t *testing.T) {
	t.Parallel()

	m := migrators.NewPin("oldlib", "newlib")
	pkg := fooPackage()

	assert.False(t, m.Filter(pkg))

	other := fooPackage()
	other.Record.Requirements = model.Requirements{Run: []string{"python"}}
	assert.True(t, m.Filter(other), "no dependency on oldlib")

	tree := newTree(t)

	fp, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Equal(t, `{"migrator":"pin","new":"newlib","old":"oldlib"}`, fp)

	meta, err := recipe.ReadMeta(tree)
	require.NoError(t, err)
	assert.Contains(t, meta, "- newlib")
	assert.NotContains(t, meta, "oldlib")

	number, err := recipe.BuildNumber(meta)
	require.NoError(t, err)
	assert.Equal(t, 3, number, "replacement bumps the build number")
}

func TestRebuildTargetsDescendants(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	for _, n := range []string{"anchor", "mid", "leaf", "other"} {
		g.AddNode(n)
	}

	g.AddEdge("anchor", "mid")
	g.AddEdge("mid", "leaf")

	m := migrators.NewRebuild("anchor", "abi break", g)

	mid := fooPackage()
	mid.Name = "mid"
	assert.False(t, m.Filter(mid))

	outside := fooPackage()
	outside.Name = "other"
	assert.True(t, m.Filter(outside))

	anchor := fooPackage()
	anchor.Name = "anchor"
	assert.True(t, m.Filter(anchor), "the anchor itself is not rebuilt")

	tree := newTree(t)

	_, err := m.Migrate(context.Background(), tree, mid)
	require.NoError(t, err)

	meta, err := recipe.ReadMeta(tree)
	require.NoError(t, err)

	number, err := recipe.BuildNumber(meta)
	require.NoError(t, err)
	assert.Equal(t, 3, number)
}

func TestRebuildMigrateIdempotent(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	g.AddNode("anchor")
	g.AddNode("mid")
	g.AddEdge("anchor", "mid")

	m := migrators.NewRebuild("anchor", "abi break", g)
	tree := newTree(t)

	mid := fooPackage()
	mid.Name = "mid"

	fp, err := m.Migrate(context.Background(), tree, mid)
	require.NoError(t, err)

	meta, err := recipe.ReadMeta(tree)
	require.NoError(t, err)

	number, err := recipe.BuildNumber(meta)
	require.NoError(t, err)
	assert.Equal(t, 3, number)

	// A second pass over the migrated tree changes nothing.
	again, err := m.Migrate(context.Background(), tree, mid)
	require.NoError(t, err)
	assert.Equal(t, fp, again)

	after, err := recipe.ReadMeta(tree)
	require.NoError(t, err)
	assert.Equal(t, meta, after)

	number, err = recipe.BuildNumber(after)
	require.NoError(t, err)
	assert.Equal(t, 3, number)
}

func TestArchMigrateIdempotent(t *testing.T) {
	t.Parallel()

	m := migrators.NewArch([]string{"linux_aarch64", "linux_ppc64le"}, "default")
	tree := newTree(t)
	pkg := fooPackage()

	fp, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)

	cfg, err := recipe.LoadForgeConfig(tree)
	require.NoError(t, err)
	assert.True(t, cfg.HasProvider("linux_aarch64"))
	assert.True(t, cfg.HasProvider("linux_ppc64le"))

	again, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Equal(t, fp, again)
}

func TestCrossCompileMigrate(t *testing.T) {
	t.Parallel()

	m := migrators.NewCrossCompile(map[string]string{"linux_aarch64": "linux_64"})
	tree := newTree(t)
	pkg := fooPackage()

	fp, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Contains(t, fp, "linux_aarch64:linux_64")

	cfg, err := recipe.LoadForgeConfig(tree)
	require.NoError(t, err)

	platforms := cfg.BuildPlatforms()
	assert.Equal(t, "linux_64", platforms["linux_aarch64"])

	again, err := m.Migrate(context.Background(), tree, pkg)
	require.NoError(t, err)
	assert.Equal(t, fp, again)
}

func TestOrderIsCyclicToposort(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	for _, n := range []string{"a", "b", "c"} {
		g.AddNode(n)
	}

	// a feeds b feeds c.
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	m := migrators.NewVersion(fixedHasher(newHash))
	assert.Equal(t, []string{"a", "b", "c"}, m.Order(g, g))
}
