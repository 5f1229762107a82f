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

// CrossCompile switches emulated platforms over to cross-compilation by
// writing build_platform mappings into the feedstock configuration.
type CrossCompile struct {
	// Mappings maps target platform to the platform building it, e.g.
	// linux_aarch64 -> linux_64.
	Mappings map[string]string

	// Limit overrides the per-cycle PR cap.
	Limit int
}

var _ Migrator = (*CrossCompile)(nil)

// NewCrossCompile builds the cross-compilation migrator.
func NewCrossCompile(mappings map[string]string) *CrossCompile {
	return &CrossCompile{Mappings: mappings}
}

func (m *CrossCompile) Name() string { return "cross-compile" }

func (m *CrossCompile) Filter(pkg *model.Package) bool {
	return pkg.Record.Bad != nil
}

func (m *CrossCompile) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate writes the missing build_platform entries.
func (m *CrossCompile) Migrate(_ context.Context, treeDir string, pkg *model.Package) (string, error) {
	cfg, err := recipe.LoadForgeConfig(treeDir)
	if err != nil {
		return "", err
	}

	changed := false
	for _, target := range m.sortedTargets() {
		if cfg.SetBuildPlatform(target, m.Mappings[target]) {
			changed = true
		}
	}

	if changed {
		// Tests still run under emulation once builds cross-compile.
		cfg.Set("test", "native_and_emulated")

		if err := cfg.Save(treeDir); err != nil {
			return "", err
		}
	}

	return m.Fingerprint(pkg), nil
}

// sortedTargets returns the mapping keys in stable order.
func (m *CrossCompile) sortedTargets() []string {
	targets := make([]string, 0, len(m.Mappings))
	for target := range m.Mappings {
		targets = append(targets, target)
	}

	sort.Strings(targets)

	return targets
}

func (m *CrossCompile) Fingerprint(_ *model.Package) string {
	pairs := make([]string, 0, len(m.Mappings))
	for _, target := range m.sortedTargets() {
		pairs = append(pairs, target+":"+m.Mappings[target])
	}

	return Fingerprint(map[string]any{
		"migrator": m.Name(),
		"mappings": strings.Join(pairs, ","),
	})
}

func (m *CrossCompile) PRTitle(pkg *model.Package) string {
	return fmt.Sprintf("%s: cross-compile %s", pkg.Name, strings.Join(m.sortedTargets(), ", "))
}

func (m *CrossCompile) PRBody(pkg *model.Package) string {
	body := "Switches emulated platform builds over to cross-compilation: " +
		strings.Join(m.sortedTargets(), ", ") + "."

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *CrossCompile) CommitMessage(_ *model.Package) string {
	return "enabled cross-compilation for " + strings.Join(m.sortedTargets(), ", ")
}

func (m *CrossCompile) RemoteBranch(_ *model.Package) string {
	return "cross-compile"
}

func (m *CrossCompile) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *CrossCompile) PRLimit() int { return prLimitOrDefault(m.Limit) }
