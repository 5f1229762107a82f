package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ForgeConfig is the feedstock-level configuration document. It is plain
// (untemplated) YAML; the whole document is kept as a generic map so keys
// the bot does not understand survive a round trip.
type ForgeConfig struct {
	doc map[string]any
}

// LoadForgeConfig reads conda-forge.yml from a working tree. A missing
// file yields an empty config.
func LoadForgeConfig(treeDir string) (*ForgeConfig, error) {
	data, err := os.ReadFile(forgeConfigPath(treeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &ForgeConfig{doc: map[string]any{}}, nil
		}

		return nil, fmt.Errorf("read forge config: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse forge config: %w", err)
	}

	if doc == nil {
		doc = map[string]any{}
	}

	return &ForgeConfig{doc: doc}, nil
}

// Save writes the config back to the working tree.
func (c *ForgeConfig) Save(treeDir string) error {
	data, err := yaml.Marshal(c.doc)
	if err != nil {
		return fmt.Errorf("marshal forge config: %w", err)
	}

	if err := os.WriteFile(forgeConfigPath(treeDir), data, 0o644); err != nil {
		return fmt.Errorf("write forge config: %w", err)
	}

	return nil
}

// Providers returns the configured provider map (platform → provider),
// creating it on first use.
func (c *ForgeConfig) Providers() map[string]any {
	providers, ok := c.doc["provider"].(map[string]any)
	if !ok {
		providers = map[string]any{}
		c.doc["provider"] = providers
	}

	return providers
}

// HasProvider reports whether a platform already has a provider entry.
func (c *ForgeConfig) HasProvider(platform string) bool {
	_, ok := c.Providers()[platform]

	return ok
}

// AddProvider records a provider entry for a platform. Returns false when
// the entry was already present.
func (c *ForgeConfig) AddProvider(platform, provider string) bool {
	providers := c.Providers()
	if _, exists := providers[platform]; exists {
		return false
	}

	providers[platform] = provider

	return true
}

// BuildPlatforms returns the cross-compilation build_platform map,
// creating it on first use.
func (c *ForgeConfig) BuildPlatforms() map[string]any {
	platforms, ok := c.doc["build_platform"].(map[string]any)
	if !ok {
		platforms = map[string]any{}
		c.doc["build_platform"] = platforms
	}

	return platforms
}

// SetBuildPlatform records a target→build platform mapping. Returns false
// when the mapping already existed with the same value.
func (c *ForgeConfig) SetBuildPlatform(target, buildOn string) bool {
	platforms := c.BuildPlatforms()
	if current, ok := platforms[target]; ok && current == buildOn {
		return false
	}

	platforms[target] = buildOn

	return true
}

// Set stores an arbitrary top-level key.
func (c *ForgeConfig) Set(key string, value any) {
	c.doc[key] = value
}

// Get reads an arbitrary top-level key.
func (c *ForgeConfig) Get(key string) (any, bool) {
	v, ok := c.doc[key]

	return v, ok
}

// Keys returns the sorted top-level keys (for tests and reports).
func (c *ForgeConfig) Keys() []string {
	keys := make([]string, 0, len(c.doc))
	for k := range c.doc {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func forgeConfigPath(treeDir string) string {
	return filepath.Join(treeDir, ForgeConfigName)
}
