package migrators

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// Arch enables additional build platforms in the feedstock's forge
// configuration.
type Arch struct {
	// Platforms are the platform keys to enable, e.g. linux_aarch64.
	Platforms []string

	// Provider is the CI provider entry written for each platform.
	Provider string

	// Limit overrides the per-cycle PR cap.
	Limit int
}

var _ Migrator = (*Arch)(nil)

// NewArch builds the architecture migrator.
func NewArch(platforms []string, provider string) *Arch {
	sorted := make([]string, len(platforms))
	copy(sorted, platforms)
	sort.Strings(sorted)

	return &Arch{Platforms: sorted, Provider: provider}
}

func (m *Arch) Name() string { return "arch" }

// Filter never skips up front; already-enabled platforms make Migrate a
// no-op and the fingerprint de-dup prevents repeat PRs.
func (m *Arch) Filter(pkg *model.Package) bool {
	return pkg.Record.Bad != nil
}

func (m *Arch) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate adds the missing provider entries to conda-forge.yml.
func (m *Arch) Migrate(_ context.Context, treeDir string, pkg *model.Package) (string, error) {
	cfg, err := recipe.LoadForgeConfig(treeDir)
	if err != nil {
		return "", err
	}

	changed := false
	for _, platform := range m.Platforms {
		if cfg.AddProvider(platform, m.Provider) {
			changed = true
		}
	}

	if changed {
		if err := cfg.Save(treeDir); err != nil {
			return "", err
		}
	}

	return m.Fingerprint(pkg), nil
}

func (m *Arch) Fingerprint(_ *model.Package) string {
	return Fingerprint(map[string]any{
		"migrator":  m.Name(),
		"platforms": strings.Join(m.Platforms, ","),
	})
}

func (m *Arch) PRTitle(pkg *model.Package) string {
	return fmt.Sprintf("%s: enable %s builds", pkg.Name, strings.Join(m.Platforms, ", "))
}

func (m *Arch) PRBody(pkg *model.Package) string {
	body := fmt.Sprintf(
		"Enables the following build platforms in the feedstock configuration: %s.",
		strings.Join(m.Platforms, ", "))

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *Arch) CommitMessage(_ *model.Package) string {
	return "enabled platforms " + strings.Join(m.Platforms, ", ")
}

func (m *Arch) RemoteBranch(_ *model.Package) string {
	return "arch-" + strings.Join(m.Platforms, "-")
}

func (m *Arch) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *Arch) PRLimit() int { return prLimitOrDefault(m.Limit) }
