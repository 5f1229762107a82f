package migrators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// maxVersionAttempts caps bump attempts per discovered version before
// the version is left alone.
const maxVersionAttempts = 3

// URLHasher computes the integrity hash of the artifact behind a URL.
type URLHasher func(ctx context.Context, url string) (string, error)

// HTTPHasher downloads the artifact and returns its sha256 hex digest.
func HTTPHasher(client *http.Client) URLHasher {
	return func(ctx context.Context, url string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("download artifact: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("download artifact: status %d", resp.StatusCode)
		}

		digest := sha256.New()
		if _, err := io.Copy(digest, resp.Body); err != nil {
			return "", fmt.Errorf("hash artifact: %w", err)
		}

		return hex.EncodeToString(digest.Sum(nil)), nil
	}
}

// Version rewrites a recipe to the newest upstream version: version
// line, integrity hash of the re-resolved tarball, and a reset build
// number.
type Version struct {
	// Hasher resolves the new artifact's integrity hash.
	Hasher URLHasher

	// Limit overrides the per-cycle PR cap.
	Limit int
}

var _ Migrator = (*Version)(nil)

// NewVersion builds the version migrator with the given hasher.
func NewVersion(hasher URLHasher) *Version {
	return &Version{Hasher: hasher}
}

func (m *Version) Name() string { return "version" }

// Filter skips packages without a pending newer version, and versions
// that already burned their attempt budget.
func (m *Version) Filter(pkg *model.Package) bool {
	target := m.target(pkg)
	if target == "" {
		return true
	}

	return pkg.Version.NewVersionAttempts[target] >= maxVersionAttempts
}

// target is the pending version, empty when nothing is pending.
func (m *Version) target(pkg *model.Package) string {
	v := pkg.Version.NewVersion
	if v == "" || v == pkg.Record.Version {
		return ""
	}

	return v
}

// AttemptKey implements AttemptKeyer: failures count against the
// pending version.
func (m *Version) AttemptKey(pkg *model.Package) string {
	return m.target(pkg)
}

func (m *Version) Order(sub, _ *depgraph.Graph) []string {
	return defaultOrder(sub)
}

// Migrate rewrites version, hash, and build number in the working tree.
func (m *Version) Migrate(ctx context.Context, treeDir string, pkg *model.Package) (string, error) {
	target := m.target(pkg)
	if target == "" {
		return "", fmt.Errorf("no pending version for %s", pkg.Name)
	}

	meta, err := recipe.ReadMeta(treeDir)
	if err != nil {
		return "", err
	}

	meta, err = recipe.SetVersion(meta, target)
	if err != nil {
		return "", err
	}

	url := recipe.RenderURL(pkg.Record.SourceURL, map[string]string{
		"name":    pkg.Name,
		"version": target,
	})

	hash, err := m.Hasher(ctx, url)
	if err != nil {
		return "", fmt.Errorf("resolve hash for %s: %w", url, err)
	}

	meta, err = recipe.SetHash(meta, hash)
	if err != nil {
		return "", err
	}

	// A new version always starts at build number zero.
	meta, err = recipe.SetBuildNumber(meta, 0)
	if err != nil {
		return "", err
	}

	if err := recipe.WriteMeta(treeDir, meta); err != nil {
		return "", err
	}

	return m.Fingerprint(pkg), nil
}

func (m *Version) Fingerprint(pkg *model.Package) string {
	return Fingerprint(map[string]any{
		"migrator": m.Name(),
		"target":   m.target(pkg),
	})
}

func (m *Version) PRTitle(pkg *model.Package) string {
	return fmt.Sprintf("%s v%s", pkg.Name, m.target(pkg))
}

func (m *Version) PRBody(pkg *model.Package) string {
	body := fmt.Sprintf(
		"Updates %s to the latest upstream release **%s**.\n\n"+
			"The version line, source hash, and build number were rewritten "+
			"automatically. Close this PR to skip the release.",
		pkg.Name, m.target(pkg))

	return body + fingerprintBlock(m.Fingerprint(pkg))
}

func (m *Version) CommitMessage(pkg *model.Package) string {
	return fmt.Sprintf("updated v%s", m.target(pkg))
}

func (m *Version) RemoteBranch(pkg *model.Package) string {
	return "bump-" + m.target(pkg)
}

func (m *Version) RerenderPolicy() RerenderPolicy { return RerenderAlways }

func (m *Version) PRLimit() int { return prLimitOrDefault(m.Limit) }
