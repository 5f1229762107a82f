package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/internal/config"
)

// load runs the loader against an isolated CWD so stray .feedbot.yaml
// files never leak into tests. Not parallel: t.Setenv and os.Chdir.
func load(t *testing.T, path string) (*config.Config, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	return config.LoadConfig(path)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, []string{config.BackendFile}, cfg.BackendList())
	assert.True(t, cfg.Graph.FileCache)
	assert.Equal(t, config.DefaultShardDepth, cfg.Graph.ShardDepth)
	assert.Equal(t, config.DefaultOrg, cfg.Forge.Org)
	assert.Equal(t, 2*time.Hour, cfg.Timeout())
	assert.Equal(t, uint64(7)<<30, cfg.MemoryFloor())
	assert.Equal(t, config.DefaultRateFloor, cfg.Scheduler.RateFloor)
	assert.Equal(t, 21*24*time.Hour, cfg.RetryWindow())
}

func TestBackendListSplitsOnColon(t *testing.T) {
	t.Setenv("GRAPH_BACKENDS", "file:mirror:database")
	t.Setenv("DATABASE_URL", "file:graph.db")
	t.Setenv("FEEDBOT_GRAPH_MIRROR_URL", "https://mirror.test/graph")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"file", "mirror", "database"}, cfg.BackendList())
	assert.True(t, cfg.HasBackend(config.BackendDatabase))
	assert.False(t, cfg.HasBackend("s3"))
}

func TestBareEnvOverrides(t *testing.T) {
	t.Setenv("TIMEOUT", "600")
	t.Setenv("MEMORY_FLOOR_GB", "2")
	t.Setenv("RUN_URL", "https://ci.test/runs/42")
	t.Setenv("GRAPH_USE_FILE_CACHE", "false")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Timeout())
	assert.Equal(t, uint64(2)<<30, cfg.MemoryFloor())
	assert.Equal(t, "https://ci.test/runs/42", cfg.RunURL)
	assert.False(t, cfg.Graph.FileCache)
}

func TestPrefixedEnvWinsOverBare(t *testing.T) {
	t.Setenv("TIMEOUT", "600")
	t.Setenv("FEEDBOT_SCHEDULER_TIMEOUT", "900")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Timeout())
}

func TestTokenAndDeprecatedAlias(t *testing.T) {
	t.Setenv("BOT_TOKEN", "legacy-secret")

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", cfg.Forge.Token)

	t.Setenv("FORGE_TOKEN", "current-secret")

	cfg, err = load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "current-secret", cfg.Forge.Token)
	assert.NoError(t, cfg.RequireToken())
}

func TestRequireTokenWithoutCredential(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.ErrorIs(t, cfg.RequireToken(), config.ErrMissingToken)
}

func TestMirrorBackendNeedsURL(t *testing.T) {
	t.Setenv("GRAPH_BACKENDS", "file:mirror")

	_, err := load(t, "")
	assert.ErrorIs(t, err, config.ErrMirrorURLRequired)
}

func TestDatabaseBackendNeedsURL(t *testing.T) {
	t.Setenv("GRAPH_BACKENDS", "file:database")

	_, err := load(t, "")
	assert.ErrorIs(t, err, config.ErrDatabaseURLRequired)
}

func TestUnknownBackendRejected(t *testing.T) {
	t.Setenv("GRAPH_BACKENDS", "file:redis")

	_, err := load(t, "")
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestEmptyBackendsRejected(t *testing.T) {
	t.Setenv("GRAPH_BACKENDS", ":")

	_, err := load(t, "")
	assert.ErrorIs(t, err, config.ErrNoBackends)
}

func TestInvalidTimeoutRejected(t *testing.T) {
	t.Setenv("TIMEOUT", "0")

	_, err := load(t, "")
	assert.ErrorIs(t, err, config.ErrInvalidTimeout)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedbot.yaml")

	yaml := []byte(`
forge:
  org: my-channel
  bot_name: my-bot
scheduler:
  rate_floor: 100
  workers: 2
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "my-channel", cfg.Forge.Org)
	assert.Equal(t, "my-bot", cfg.Forge.BotName)
	assert.Equal(t, 100, cfg.Scheduler.RateFloor)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	// File settings merge with defaults.
	assert.Equal(t, []string{config.BackendFile}, cfg.BackendList())
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run_url: from-file\n"), 0o644))

	t.Setenv("RUN_URL", "from-env")

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.RunURL)
}
