// Package config loads and validates feedbot settings from environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Backend names accepted in graph.backends.
const (
	BackendFile     = "file"
	BackendMirror   = "mirror"
	BackendDatabase = "database"
)

// knownBackends is the accepted backend set, in no particular order.
var knownBackends = []string{BackendFile, BackendMirror, BackendDatabase}

// backendSeparator splits the GRAPH_BACKENDS value.
const backendSeparator = ":"

// Config is the top-level configuration struct for feedbot.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Graph     GraphConfig     `mapstructure:"graph"`
	Forge     ForgeConfig     `mapstructure:"forge"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RunURL    string          `mapstructure:"run_url"`
	Scratch   string          `mapstructure:"scratch"`
	Debug     bool            `mapstructure:"debug"`
	LogFile   string          `mapstructure:"log_file"`
}

// GraphConfig holds graph store settings.
type GraphConfig struct {
	// Backends is a colon-separated list, e.g. "file:mirror:database".
	Backends    string `mapstructure:"backends"`
	FileCache   bool   `mapstructure:"file_cache"`
	DatabaseURL string `mapstructure:"database_url"`
	MirrorURL   string `mapstructure:"mirror_url"`
	ShardDepth  int    `mapstructure:"shard_depth"`
	Dir         string `mapstructure:"dir"`
}

// ForgeConfig holds forge gateway settings. Token is a credential and
// must never appear in logs.
type ForgeConfig struct {
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	BotName  string `mapstructure:"bot_name"`
	BotEmail string `mapstructure:"bot_email"`
	Host     string `mapstructure:"host"`
}

// SchedulerConfig holds auto-tick resource knobs.
type SchedulerConfig struct {
	// Timeout is the wall-clock budget in seconds.
	Timeout int `mapstructure:"timeout"`
	// MemoryFloorGB is the available-memory floor in GiB.
	MemoryFloorGB int `mapstructure:"memory_floor_gb"`
	// DiskFloorGB is the free-disk floor in GiB.
	DiskFloorGB int `mapstructure:"disk_floor_gb"`
	// RateFloor stops a cycle when the forge budget drops below it.
	RateFloor int `mapstructure:"rate_floor"`
	// RetryWindowDays gates reopening PRs a human closed.
	RetryWindowDays int `mapstructure:"retry_window_days"`
	Workers         int `mapstructure:"workers"`
}

// Sentinel errors for configuration validation.
var (
	// ErrNoBackends indicates graph.backends resolved to an empty list.
	ErrNoBackends = errors.New("graph.backends must name at least one backend")
	// ErrUnknownBackend indicates a backend name outside file/mirror/database.
	ErrUnknownBackend = errors.New("graph.backends contains an unknown backend")
	// ErrDatabaseURLRequired indicates the database backend lacks a DSN.
	ErrDatabaseURLRequired = errors.New("graph.database_url is required with the database backend")
	// ErrMirrorURLRequired indicates the mirror backend lacks a base URL.
	ErrMirrorURLRequired = errors.New("graph.mirror_url is required with the mirror backend")
	// ErrInvalidShardDepth indicates the shard depth is out of range.
	ErrInvalidShardDepth = errors.New("graph.shard_depth must be between 1 and 16")
	// ErrInvalidTimeout indicates the timeout is not positive.
	ErrInvalidTimeout = errors.New("scheduler.timeout must be positive")
	// ErrInvalidMemoryFloor indicates the memory floor is negative.
	ErrInvalidMemoryFloor = errors.New("scheduler.memory_floor_gb must be non-negative")
	// ErrInvalidRateFloor indicates the rate floor is negative.
	ErrInvalidRateFloor = errors.New("scheduler.rate_floor must be non-negative")
	// ErrInvalidWorkers indicates the worker count is not positive.
	ErrInvalidWorkers = errors.New("scheduler.workers must be positive")
	// ErrMissingToken indicates an online verb was invoked without a credential.
	ErrMissingToken = errors.New("forge.token is required for online operation")
)

// BackendList returns the parsed backend names in configured order.
func (c *Config) BackendList() []string {
	parts := strings.Split(c.Graph.Backends, backendSeparator)

	backends := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			backends = append(backends, part)
		}
	}

	return backends
}

// HasBackend reports whether the named backend is configured.
func (c *Config) HasBackend(name string) bool {
	return slices.Contains(c.BackendList(), name)
}

// Timeout returns the wall-clock budget as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Scheduler.Timeout) * time.Second
}

// MemoryFloor returns the memory floor in bytes.
func (c *Config) MemoryFloor() uint64 {
	return uint64(c.Scheduler.MemoryFloorGB) << 30
}

// DiskFloor returns the disk floor in bytes.
func (c *Config) DiskFloor() uint64 {
	return uint64(c.Scheduler.DiskFloorGB) << 30
}

// RetryWindow returns the closed-PR retry window as a duration.
func (c *Config) RetryWindow() time.Duration {
	return time.Duration(c.Scheduler.RetryWindowDays) * 24 * time.Hour
}

// RequireToken is called by verbs that write to the forge.
func (c *Config) RequireToken() error {
	if c.Forge.Token == "" {
		return ErrMissingToken
	}

	return nil
}

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	graphErr := c.validateGraph()
	if graphErr != nil {
		return graphErr
	}

	return c.validateScheduler()
}

func (c *Config) validateGraph() error {
	backends := c.BackendList()
	if len(backends) == 0 {
		return ErrNoBackends
	}

	for _, backend := range backends {
		if !slices.Contains(knownBackends, backend) {
			return fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
		}
	}

	if slices.Contains(backends, BackendDatabase) && c.Graph.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}

	if slices.Contains(backends, BackendMirror) && c.Graph.MirrorURL == "" {
		return ErrMirrorURLRequired
	}

	if c.Graph.ShardDepth < 1 || c.Graph.ShardDepth > 16 {
		return ErrInvalidShardDepth
	}

	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Scheduler.MemoryFloorGB < 0 {
		return ErrInvalidMemoryFloor
	}

	if c.Scheduler.RateFloor < 0 {
		return ErrInvalidRateFloor
	}

	if c.Scheduler.Workers <= 0 {
		return ErrInvalidWorkers
	}

	return nil
}
