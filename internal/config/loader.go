package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".feedbot"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for feedbot settings.
const envPrefix = "FEEDBOT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default resource knobs.
const (
	DefaultShardDepth      = 5
	DefaultTimeoutSeconds  = 7200
	DefaultMemoryFloorGB   = 7
	DefaultDiskFloorGB     = 2
	DefaultRateFloor       = 500
	DefaultRetryWindowDays = 21
	DefaultWorkers         = 4
	DefaultOrg             = "conda-forge"
	DefaultBotName         = "feedbot"
	DefaultBotEmail        = "feedbot@users.noreply.github.com"
)

// legacyEnvAliases maps viper keys to the bare environment variable names
// the hosting automation exports, checked after the FEEDBOT_-prefixed form.
// BOT_TOKEN is a deprecated alias for FORGE_TOKEN.
var legacyEnvAliases = map[string][]string{
	"graph.backends":            {"GRAPH_BACKENDS"},
	"graph.file_cache":          {"GRAPH_USE_FILE_CACHE"},
	"graph.database_url":        {"DATABASE_URL"},
	"forge.token":               {"FORGE_TOKEN", "BOT_TOKEN"},
	"scheduler.timeout":         {"TIMEOUT"},
	"scheduler.memory_floor_gb": {"MEMORY_FLOOR_GB"},
	"run_url":                   {"RUN_URL"},
	"scratch":                   {"TMPDIR"},
}

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	bindErr := bindLegacyEnv(viperCfg)
	if bindErr != nil {
		return nil, bindErr
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// bindLegacyEnv binds each viper key to its prefixed form plus the bare
// legacy names, in precedence order.
func bindLegacyEnv(viperCfg *viper.Viper) error {
	for key, aliases := range legacyEnvAliases {
		prefixed := envPrefix + envKeySeparator +
			strings.ToUpper(strings.ReplaceAll(key, ".", envKeySeparator))

		names := append([]string{key, prefixed}, aliases...)

		if err := viperCfg.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	return nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("graph.backends", BackendFile)
	viperCfg.SetDefault("graph.file_cache", true)
	viperCfg.SetDefault("graph.shard_depth", DefaultShardDepth)
	viperCfg.SetDefault("graph.dir", ".")
	viperCfg.SetDefault("graph.mirror_url", "")

	viperCfg.SetDefault("forge.org", DefaultOrg)
	viperCfg.SetDefault("forge.bot_name", DefaultBotName)
	viperCfg.SetDefault("forge.bot_email", DefaultBotEmail)

	viperCfg.SetDefault("scheduler.timeout", DefaultTimeoutSeconds)
	viperCfg.SetDefault("scheduler.memory_floor_gb", DefaultMemoryFloorGB)
	viperCfg.SetDefault("scheduler.disk_floor_gb", DefaultDiskFloorGB)
	viperCfg.SetDefault("scheduler.rate_floor", DefaultRateFloor)
	viperCfg.SetDefault("scheduler.retry_window_days", DefaultRetryWindowDays)
	viperCfg.SetDefault("scheduler.workers", DefaultWorkers)

	viperCfg.SetDefault("scratch", os.TempDir())
	viperCfg.SetDefault("run_url", "")
	viperCfg.SetDefault("debug", false)
	viperCfg.SetDefault("log_file", "")
}
