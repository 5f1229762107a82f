package migrators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// migrationDir holds the applied-migration markers inside a checked-out
// recipe directory.
const migrationDir = "migrations"

// Rebuild bumps the build number of every descendant of an anchor
// package, forcing rebuilds after an ABI-relevant change landed in the
// anchor.
type Rebuild struct {
	Anchor string
	Reason string

	// Limit overrides the per-cycle PR cap.
	Limit int

	targets map[string]bool
}

var _ Migrator = (*Rebuild)(nil)

// NewRebuild builds the rebuild migrator; the target set is the anchor's
// transitive downstream closure in g at construction time.
func NewRebuild(anchor, reason string, g *depgraph.Graph) *Rebuild {
	targets := map[string]bool{}
	for _, name := range g.Descendants(anchor) {
		targets[name] = true
	}

	return &Rebuild{Anchor: anchor, Reason: reason, targets: targets}
}

func (m *Rebuild) Name() string { return "rebuild-" + m.Anchor }

// Filter skips everything outside the anchor's downstream closure.
func (m *Rebuild) Filter(pkg *model.Package) bool {
	return !m.targets[pkg.Name]
}

func (m *Rebuild) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate bumps the build number once per tree. The marker written
// under recipe/migrations makes a repeat pass over the same tree a
// no-op, so the bump never compounds.
func (m *Rebuild) Migrate(_ context.Context, treeDir string, pkg *model.Package) (string, error) {
	marker := m.markerPath(treeDir)
	if _, err := os.Stat(marker); err == nil {
		return m.Fingerprint(pkg), nil
	}

	meta, err := recipe.ReadMeta(treeDir)
	if err != nil {
		return "", err
	}

	number, err := recipe.BuildNumber(meta)
	if err != nil {
		return "", err
	}

	meta, err = recipe.SetBuildNumber(meta, number+1)
	if err != nil {
		return "", err
	}

	if err := recipe.WriteMeta(treeDir, meta); err != nil {
		return "", err
	}

	if err := m.writeMarker(marker); err != nil {
		return "", err
	}

	return m.Fingerprint(pkg), nil
}

// markerPath is the applied marker for this migrator inside treeDir.
func (m *Rebuild) markerPath(treeDir string) string {
	return filepath.Join(treeDir, recipe.RecipeDir, migrationDir, m.Name()+".yaml")
}

// writeMarker records the applied rebuild in the tree itself.
func (m *Rebuild) writeMarker(path string) error {
	note, err := yaml.Marshal(struct {
		Anchor string `yaml:"anchor"`
		Reason string `yaml:"reason"`
	}{m.Anchor, m.Reason})
	if err != nil {
		return fmt.Errorf("marshal migration marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, note, 0o644)
}

func (m *Rebuild) Fingerprint(_ *model.Package) string {
	return Fingerprint(map[string]any{
		"migrator": "rebuild",
		"anchor":   m.Anchor,
		"reason":   m.Reason,
	})
}

func (m *Rebuild) PRTitle(pkg *model.Package) string {
	return fmt.Sprintf("Rebuild %s for %s", pkg.Name, m.Anchor)
}

func (m *Rebuild) PRBody(pkg *model.Package) string {
	body := fmt.Sprintf(
		"Bumps the build number to rebuild against the updated `%s`.\n\nReason: %s",
		m.Anchor, m.Reason)

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *Rebuild) CommitMessage(_ *model.Package) string {
	return "bumped build number for " + m.Anchor + " rebuild"
}

func (m *Rebuild) RemoteBranch(_ *model.Package) string {
	return "rebuild-" + m.Anchor
}

func (m *Rebuild) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *Rebuild) PRLimit() int { return prLimitOrDefault(m.Limit) }
