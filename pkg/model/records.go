// Package model defines the record shapes persisted in the graph store.
//
// Every record is a plain struct with JSON tags. PackageRecord additionally
// preserves unknown keys in an Extra map so that recipe evolution does not
// require code changes before the bot can round-trip a record.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Store key prefixes. Records of one kind live under one logical prefix.
const (
	PrefixNode      = "node_attrs/"
	PrefixVersions  = "versions/"
	PrefixPRInfo    = "pr_info/"
	PrefixVersionPR = "version_pr_info/"
	PrefixPRJSON    = "pr_json/"
)

// Singleton keys for derived documents.
const (
	KeyGraph             = "graph"
	KeyAllFeedstocks     = "all_feedstocks"
	KeyMigrations        = "migrations"
	KeyImportToPackage   = "mappings/import_to_pkg"
	KeyPackageFeedstocks = "mappings/pkg_to_feedstock"
)

// PR lifecycle states as reported by the forge.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// Requirements holds the declared dependency names of a recipe, by section.
type Requirements struct {
	Build []string `json:"build,omitempty"`
	Host  []string `json:"host,omitempty"`
	Run   []string `json:"run,omitempty"`
	Test  []string `json:"test,omitempty"`
}

// BadInfo describes a recorded bot-side failure on a package.
// A nil BadInfo means the package is healthy.
type BadInfo struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Traceback string `json:"traceback,omitempty"`
}

func (b *BadInfo) String() string {
	if b == nil {
		return ""
	}

	return fmt.Sprintf("%s: %s", b.Kind, b.Reason)
}

// PackageRecord is the per-package document under node_attrs/.
// The recipe tree itself is opaque to the core; only the fields the bot
// reads are typed here. Unknown keys survive in Extra.
type PackageRecord struct {
	Name          string       `json:"name"`
	FeedstockName string       `json:"feedstock_name"`
	Version       string       `json:"version"`
	HashType      string       `json:"hash_type,omitempty"`
	SourceURL     string       `json:"source_url,omitempty"`
	Requirements  Requirements `json:"requirements"`
	ImportNames   []string     `json:"import_names,omitempty"`
	Archived      bool         `json:"archived,omitempty"`
	PreRelease    bool         `json:"pre_release,omitempty"`
	Bad           *BadInfo     `json:"bad,omitempty"`

	// Extra preserves keys this binary does not understand.
	Extra map[string]json.RawMessage `json:"-"`
}

// packageRecordAlias avoids MarshalJSON recursion.
type packageRecordAlias PackageRecord

// knownPackageKeys lists the JSON keys owned by the typed fields above.
var knownPackageKeys = map[string]bool{
	"name": true, "feedstock_name": true, "version": true,
	"hash_type": true, "source_url": true, "requirements": true,
	"import_names": true, "archived": true, "pre_release": true, "bad": true,
}

// UnmarshalJSON decodes the typed fields and captures unknown keys in Extra.
func (p *PackageRecord) UnmarshalJSON(data []byte) error {
	var alias packageRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("unmarshal package record: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("unmarshal package record keys: %w", err)
	}

	for key := range all {
		if knownPackageKeys[key] {
			delete(all, key)
		}
	}

	*p = PackageRecord(alias)
	if len(all) > 0 {
		p.Extra = all
	}

	return nil
}

// MarshalJSON re-emits the typed fields together with the preserved keys.
func (p PackageRecord) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(packageRecordAlias(p))
	if err != nil {
		return nil, fmt.Errorf("marshal package record: %w", err)
	}

	if len(p.Extra) == 0 {
		return typed, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, fmt.Errorf("remarshal package record: %w", err)
	}

	for key, raw := range p.Extra {
		if _, owned := merged[key]; !owned {
			merged[key] = raw
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged package record: %w", err)
	}

	return out, nil
}

// VersionRecord is the per-package document under versions/.
// It is rewritten in full on each probe cycle.
type VersionRecord struct {
	NewVersion         string         `json:"new_version,omitempty"`
	NewVersionAttempts map[string]int `json:"new_version_attempts,omitempty"`
	Bad                *BadInfo       `json:"bad,omitempty"`
}

// PRFingerprintEntry records one PR ever opened by the bot for a package.
type PRFingerprintEntry struct {
	Fingerprint string    `json:"data"`
	PRState     string    `json:"pr_state"`
	PRURL       string    `json:"pr_url,omitempty"`
	PRID        int64     `json:"pr_id,omitempty"`
	PRNumber    int       `json:"pr_number,omitempty"`
	HeadBranch  string    `json:"head_branch,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ClosedAt    time.Time `json:"closed_at,omitzero"`
	Merged      bool      `json:"merged,omitempty"`
}

// PRInfoRecord is the per-package document under pr_info/.
// Entries are append-mostly: new fingerprints appended, existing ones
// mutated in place only to reflect forge state.
type PRInfoRecord struct {
	PRs            []PRFingerprintEntry `json:"PRed"`
	Bad            *BadInfo             `json:"bad,omitempty"`
	SmithyVersion  string               `json:"smithy_version,omitempty"`
	PinningVersion string               `json:"pinning_version,omitempty"`
}

// Find returns the entry with the given fingerprint, or nil.
func (r *PRInfoRecord) Find(fingerprint string) *PRFingerprintEntry {
	for i := range r.PRs {
		if r.PRs[i].Fingerprint == fingerprint {
			return &r.PRs[i]
		}
	}

	return nil
}

// VersionPRInfoRecord specializes PR-info for version bump attempts.
type VersionPRInfoRecord struct {
	Attempts map[string]int    `json:"new_version_attempts,omitempty"`
	Branches map[string]string `json:"branches,omitempty"`
}

// PRJSONRecord mirrors the forge's PR resource minimally needed for
// tracking; one per opened PR, keyed pr_json/<id>.
type PRJSONRecord struct {
	ID       int64     `json:"id"`
	Number   int       `json:"number"`
	State    string    `json:"state"`
	HeadRef  string    `json:"head_ref"`
	BaseRef  string    `json:"base_ref"`
	HTMLURL  string    `json:"html_url"`
	Merged   bool      `json:"merged"`
	MergedAt time.Time `json:"merged_at,omitzero"`
	ClosedAt time.Time `json:"closed_at,omitzero"`
}

// GraphRecord is the materialized dependency graph under the graph key:
// sorted node names plus sorted [requirement, dependent] edge pairs.
type GraphRecord struct {
	Nodes []string    `json:"nodes"`
	Edges [][2]string `json:"edges"`
}

// AllFeedstocksRecord is the discovered feedstock list.
type AllFeedstocksRecord struct {
	Names    []string  `json:"names"`
	Archived []string  `json:"archived,omitempty"`
	Updated  time.Time `json:"updated"`
}

// MigrationSpec declares one configured migration. Kind selects the
// migrator variant; the remaining fields are variant parameters.
type MigrationSpec struct {
	Kind      string            `json:"kind"`
	OldName   string            `json:"old_name,omitempty"`
	NewName   string            `json:"new_name,omitempty"`
	Anchor    string            `json:"anchor,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Platforms []string          `json:"platforms,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Mappings  map[string]string `json:"mappings,omitempty"`
	Tooling   string            `json:"tooling,omitempty"`
	Pinning   string            `json:"pinning,omitempty"`
}

// MigrationSetRecord is the operator-maintained migration list under the
// migrations key.
type MigrationSetRecord struct {
	Migrations []MigrationSpec `json:"migrations"`
}

// ImportMappingRecord maps declared import names to the packages that
// provide them.
type ImportMappingRecord struct {
	Imports map[string][]string `json:"imports"`
}

// FeedstockMappingRecord maps package names to their feedstock repos.
type FeedstockMappingRecord struct {
	Feedstocks map[string]string `json:"feedstocks"`
}

// Package aggregates the per-package records a migrator sees for one node.
// Version and PRInfo may be freshly zeroed records when the corresponding
// keys do not exist yet.
type Package struct {
	Name    string
	Record  *PackageRecord
	Version *VersionRecord
	PRInfo  *PRInfoRecord
}

// EffectiveHostRequirements returns the host section, falling back to build
// when host is empty (recipes place compile-time deps in either).
func (r Requirements) EffectiveHostRequirements() []string {
	if len(r.Host) > 0 {
		return r.Host
	}

	return r.Build
}
