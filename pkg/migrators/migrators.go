// Package migrators defines the unit of automated change. A migrator
// inspects a package, decides whether work is pending, mutates a checked
// out working tree, and identifies the intended change with a stable
// fingerprint so an attempt is never repeated.
package migrators

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// RerenderPolicy states when the external re-render step must follow a
// migration.
type RerenderPolicy int

const (
	// RerenderAlways re-renders after every migration.
	RerenderAlways RerenderPolicy = iota

	// RerenderIfToolingChanged re-renders only when the recorded smithy
	// or pinning versions lag the current ones.
	RerenderIfToolingChanged

	// RerenderNever skips re-rendering.
	RerenderNever
)

// defaultPRLimit bounds PRs per migrator per cycle when the variant does
// not set its own.
const defaultPRLimit = 5

// Migrator is the capability set the scheduler drives.
type Migrator interface {
	// Name identifies the migrator in records, branches, and logs.
	Name() string

	// Filter reports whether the package has no work pending right now.
	Filter(pkg *model.Package) bool

	// Order sequences the eligible packages. sub is the migrator's
	// pruned subgraph; full is the whole dependency graph.
	Order(sub, full *depgraph.Graph) []string

	// Migrate mutates the working tree at treeDir and returns the
	// fingerprint of the applied change. Idempotent: migrating an
	// already-migrated tree returns the same fingerprint.
	Migrate(ctx context.Context, treeDir string, pkg *model.Package) (string, error)

	// Fingerprint identifies the intended change without touching a
	// tree. Canonical JSON with sorted keys.
	Fingerprint(pkg *model.Package) string

	PRTitle(pkg *model.Package) string
	PRBody(pkg *model.Package) string
	CommitMessage(pkg *model.Package) string

	// RemoteBranch uniquely names this attempt's head branch.
	RemoteBranch(pkg *model.Package) string

	RerenderPolicy() RerenderPolicy

	// PRLimit caps PRs opened by this migrator per scheduler cycle.
	PRLimit() int
}

// AttemptKeyer is implemented by migrators whose failures burn a
// bounded attempt budget. The scheduler increments the version record's
// attempt counter under the returned key after a failed migration.
type AttemptKeyer interface {
	// AttemptKey names the attempt bucket, empty when none applies.
	AttemptKey(pkg *model.Package) string
}

// Fingerprint serializes identity fields canonically: JSON object with
// lexicographically sorted keys.
func Fingerprint(fields map[string]any) string {
	out, err := json.Marshal(fields)
	if err != nil {
		// Only non-serializable values can land here; identity fields
		// are strings and numbers.
		panic(fmt.Sprintf("fingerprint fields not serializable: %v", err))
	}

	return string(out)
}

// fingerprintBlock renders the machine-readable footer appended to every
// PR body. The fenced block lets the bot recover fingerprints from the
// forge if the store is lost.
func fingerprintBlock(fingerprint string) string {
	return "\n\n<!--  bot metadata, do not edit  -->\n```json\n" +
		`{"bot": {"migrator_fingerprint": ` + fingerprint + "}}\n```\n"
}

// defaultOrder is the cyclic topological walk over the subgraph.
func defaultOrder(sub *depgraph.Graph) []string {
	return sub.CyclicToposort(sub.Nodes())
}

// prLimitOrDefault resolves a variant's configured limit. Zero means
// unset; a negative limit disables PR opening entirely.
func prLimitOrDefault(limit int) int {
	switch {
	case limit < 0:
		return 0
	case limit == 0:
		return defaultPRLimit
	default:
		return limit
	}
}
