package migrators

import (
	"context"
	"fmt"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// Rerender refreshes feedstocks whose generated CI scaffolding lags the
// current tooling. The tree mutation itself is the scheduler's re-render
// step; this migrator only selects the packages and identifies the
// attempt.
type Rerender struct {
	// Tooling is the current scaffolding generator version.
	Tooling string

	// Pinning is the current global pinning version.
	Pinning string

	// Limit overrides the per-cycle PR cap.
	Limit int
}

var _ Migrator = (*Rerender)(nil)

// NewRerender builds the re-render migrator for the current tooling.
func NewRerender(tooling, pinning string) *Rerender {
	return &Rerender{Tooling: tooling, Pinning: pinning}
}

func (m *Rerender) Name() string { return "rerender" }

// Filter skips packages already rendered with the current tooling.
func (m *Rerender) Filter(pkg *model.Package) bool {
	return pkg.PRInfo.SmithyVersion == m.Tooling &&
		pkg.PRInfo.PinningVersion == m.Pinning
}

func (m *Rerender) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate leaves the tree alone; the re-render step supplies the diff.
func (m *Rerender) Migrate(_ context.Context, _ string, pkg *model.Package) (string, error) {
	return m.Fingerprint(pkg), nil
}

func (m *Rerender) Fingerprint(_ *model.Package) string {
	return Fingerprint(map[string]any{
		"migrator": m.Name(),
		"tooling":  m.Tooling,
	})
}

func (m *Rerender) PRTitle(pkg *model.Package) string {
	return fmt.Sprintf("Re-render %s with tooling %s", pkg.Name, m.Tooling)
}

func (m *Rerender) PRBody(pkg *model.Package) string {
	body := fmt.Sprintf(
		"Regenerates the CI scaffolding with tooling version **%s** and "+
			"pinning version **%s**. No recipe changes.",
		m.Tooling, m.Pinning)

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *Rerender) CommitMessage(_ *model.Package) string {
	return "re-rendered with tooling " + m.Tooling
}

func (m *Rerender) RemoteBranch(_ *model.Package) string {
	return "rerender-" + m.Tooling
}

func (m *Rerender) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *Rerender) PRLimit() int { return prLimitOrDefault(m.Limit) }
