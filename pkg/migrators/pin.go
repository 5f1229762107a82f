package migrators

import (
	"context"
	"fmt"
	"slices"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// Pin renames or removes one dependency across the ecosystem. An empty
// NewName removes the dependency instead of replacing it.
type Pin struct {
	OldName string
	NewName string

	// Limit overrides the per-cycle PR cap.
	Limit int
}

var _ Migrator = (*Pin)(nil)

// NewPin builds the replacement migrator.
func NewPin(oldName, newName string) *Pin {
	return &Pin{OldName: oldName, NewName: newName}
}

func (m *Pin) Name() string { return "pin-" + m.OldName }

// Filter skips packages that do not depend on the old name.
func (m *Pin) Filter(pkg *model.Package) bool {
	reqs := pkg.Record.Requirements

	for _, section := range [][]string{reqs.Build, reqs.Host, reqs.Run, reqs.Test} {
		if slices.Contains(section, m.OldName) {
			return false
		}
	}

	return true
}

func (m *Pin) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate swaps the requirement and bumps the build number so the change
// produces new artifacts.
func (m *Pin) Migrate(_ context.Context, treeDir string, pkg *model.Package) (string, error) {
	meta, err := recipe.ReadMeta(treeDir)
	if err != nil {
		return "", err
	}

	edited, changed := recipe.ReplaceRequirement(meta, m.OldName, m.NewName)
	if changed {
		number, err := recipe.BuildNumber(edited)
		if err != nil {
			return "", err
		}

		edited, err = recipe.SetBuildNumber(edited, number+1)
		if err != nil {
			return "", err
		}

		if err := recipe.WriteMeta(treeDir, edited); err != nil {
			return "", err
		}
	}

	// An unchanged tree means a prior run already applied the swap;
	// same fingerprint either way.
	return m.Fingerprint(pkg), nil
}

func (m *Pin) Fingerprint(_ *model.Package) string {
	return Fingerprint(map[string]any{
		"migrator": "pin",
		"old":      m.OldName,
		"new":      m.NewName,
	})
}

func (m *Pin) PRTitle(pkg *model.Package) string {
	if m.NewName == "" {
		return fmt.Sprintf("%s: drop dependency %s", pkg.Name, m.OldName)
	}

	return fmt.Sprintf("%s: replace %s with %s", pkg.Name, m.OldName, m.NewName)
}

func (m *Pin) PRBody(pkg *model.Package) string {
	var body string
	if m.NewName == "" {
		body = fmt.Sprintf("Removes the `%s` dependency from the recipe.", m.OldName)
	} else {
		body = fmt.Sprintf("Replaces the `%s` dependency with `%s` in the recipe.",
			m.OldName, m.NewName)
	}

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *Pin) CommitMessage(_ *model.Package) string {
	if m.NewName == "" {
		return "removed dependency " + m.OldName
	}

	return fmt.Sprintf("replaced %s with %s", m.OldName, m.NewName)
}

func (m *Pin) RemoteBranch(_ *model.Package) string {
	if m.NewName == "" {
		return "drop-" + m.OldName
	}

	return fmt.Sprintf("swap-%s-%s", m.OldName, m.NewName)
}

func (m *Pin) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *Pin) PRLimit() int { return prLimitOrDefault(m.Limit) }
