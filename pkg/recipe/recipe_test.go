package recipe_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

const sampleMeta = `{% set name = "foo" %}
{% set version = "1.0.0" %}

package:
  name: {{ name }}
  version: {{ version }}

source:
  url: https://example.com/{{ name }}-{{ version }}.tar.gz
  sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa

build:
  number: 3

requirements:
  host:
    - python
    - oldlib >=2
  run:
    - python
`

func TestSetVersionJinja(t *testing.T) {
	t.Parallel()

	edited, err := recipe.SetVersion(sampleMeta, "1.0.1")
	require.NoError(t, err)
	assert.Contains(t, edited, `{% set version = "1.0.1" %}`)
	assert.NotContains(t, edited, "1.0.0")

	// Idempotent.
	again, err := recipe.SetVersion(edited, "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, edited, again)
}

func TestSetVersionLiteralField(t *testing.T) {
	t.Parallel()

	src := "package:\n  name: bar\n  version: 2.4\n"

	edited, err := recipe.SetVersion(src, "2.5")
	require.NoError(t, err)
	assert.Contains(t, edited, "version: 2.5")
}

func TestSetVersionMissing(t *testing.T) {
	t.Parallel()

	_, err := recipe.SetVersion("package:\n  name: bar\n", "1.0")
	assert.ErrorIs(t, err, recipe.ErrNoVersionLine)
}

func TestSetHash(t *testing.T) {
	t.Parallel()

	newHash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	edited, err := recipe.SetHash(sampleMeta, newHash)
	require.NoError(t, err)
	assert.Contains(t, edited, "sha256: "+newHash)
}

func TestBuildNumberRoundTrip(t *testing.T) {
	t.Parallel()

	n, err := recipe.BuildNumber(sampleMeta)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	edited, err := recipe.SetBuildNumber(sampleMeta, 0)
	require.NoError(t, err)

	n, err = recipe.BuildNumber(edited)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVersionRead(t *testing.T) {
	t.Parallel()

	v, err := recipe.Version(sampleMeta)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestRenderURL(t *testing.T) {
	t.Parallel()

	url := recipe.RenderURL(
		"https://example.com/{{ name }}-{{ version }}.tar.gz",
		map[string]string{"name": "foo", "version": "1.0.1"},
	)
	assert.Equal(t, "https://example.com/foo-1.0.1.tar.gz", url)

	// Unknown slots survive.
	keep := recipe.RenderURL("https://x/{{ mystery }}", map[string]string{})
	assert.Equal(t, "https://x/{{ mystery }}", keep)
}

func TestReplaceRequirement(t *testing.T) {
	t.Parallel()

	edited, changed := recipe.ReplaceRequirement(sampleMeta, "oldlib", "newlib")
	require.True(t, changed)
	assert.Contains(t, edited, "- newlib >=2")
	assert.NotContains(t, edited, "oldlib")

	// Unmatched names change nothing.
	same, changed := recipe.ReplaceRequirement(sampleMeta, "ghost", "x")
	assert.False(t, changed)
	assert.Equal(t, sampleMeta, same)
}

func TestReplaceRequirementRemoval(t *testing.T) {
	t.Parallel()

	edited, changed := recipe.ReplaceRequirement(sampleMeta, "oldlib", "")
	require.True(t, changed)
	assert.NotContains(t, edited, "oldlib")
}

func TestMetaFileRoundTrip(t *testing.T) {
	t.Parallel()

	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, recipe.RecipeDir), 0o755))
	require.NoError(t, recipe.WriteMeta(tree, sampleMeta))

	read, err := recipe.ReadMeta(tree)
	require.NoError(t, err)
	assert.Equal(t, sampleMeta, read)
}

func TestForgeConfigProviders(t *testing.T) {
	t.Parallel()

	tree := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(tree, recipe.ForgeConfigName),
		[]byte("provider:\n  linux_64: azure\ncustom_key: keepme\n"),
		0o644,
	))

	cfg, err := recipe.LoadForgeConfig(tree)
	require.NoError(t, err)

	assert.True(t, cfg.HasProvider("linux_64"))
	assert.True(t, cfg.AddProvider("linux_aarch64", "default"))
	assert.False(t, cfg.AddProvider("linux_aarch64", "default"), "second add is a no-op")

	require.NoError(t, cfg.Save(tree))

	reread, err := recipe.LoadForgeConfig(tree)
	require.NoError(t, err)

	// Unknown keys survive the round trip.
	v, ok := reread.Get("custom_key")
	require.True(t, ok)
	assert.Equal(t, "keepme", v)
	assert.True(t, reread.HasProvider("linux_aarch64"))
}

func TestForgeConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := recipe.LoadForgeConfig(t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.HasProvider("linux_64"))
}

func TestForgeConfigBuildPlatforms(t *testing.T) {
	t.Parallel()

	cfg, err := recipe.LoadForgeConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.SetBuildPlatform("linux_aarch64", "linux_64"))
	assert.False(t, cfg.SetBuildPlatform("linux_aarch64", "linux_64"))
}
