// Package recipe performs surface edits on feedstock recipe files.
//
// Recipe files are templated YAML, so they cannot be parsed with a YAML
// library without losing the templating; version, hash, and build-number
// edits are line-surgical instead. The untemplated feedstock configuration
// (conda-forge.yml) is edited through yaml.v3 with unknown keys preserved.
package recipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// MetaFileName is the recipe file within a feedstock working tree.
const MetaFileName = "meta.yaml"

// RecipeDir is the recipe directory within a feedstock working tree.
const RecipeDir = "recipe"

// ForgeConfigName is the feedstock-level configuration file.
const ForgeConfigName = "conda-forge.yml"

// Sentinel errors for callers that branch on edit outcomes.
var (
	// ErrNoVersionLine reports that no version declaration was found.
	ErrNoVersionLine = errors.New("recipe: no version line found")

	// ErrNoHashLine reports that no integrity hash was found.
	ErrNoHashLine = errors.New("recipe: no hash line found")

	// ErrNoBuildNumber reports that no build number line was found.
	ErrNoBuildNumber = errors.New("recipe: no build number found")
)

// Line patterns for the recipe surface the bot edits.
var (
	// versionSetPattern matches {% set version = "1.2.3" %}.
	versionSetPattern = regexp.MustCompile(`^(\s*\{%\s*set\s+version\s*=\s*")([^"]+)("\s*%\}\s*)$`)

	// versionFieldPattern matches a literal "version: 1.2.3" field.
	versionFieldPattern = regexp.MustCompile(`^(\s*version:\s*["']?)([^"'\s{][^"']*?)(["']?\s*)$`)

	// hashPattern matches sha256/md5 fields with a literal hex value.
	hashPattern = regexp.MustCompile(`^(\s*(?:sha256|md5):\s*["']?)([0-9a-fA-F]{32,64})(["']?\s*)$`)

	// buildNumberPattern matches "number: N" under the build section.
	buildNumberPattern = regexp.MustCompile(`^(\s*number:\s*)(\d+)(\s*)$`)

	// jinjaVarPattern matches {{ name }} template slots in source URLs.
	jinjaVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
)

// SetVersion rewrites the source version declaration, returning the edited
// text. Both the jinja set-line and literal version fields are handled; the
// first match wins. Idempotent.
func SetVersion(src, newVersion string) (string, error) {
	lines := strings.Split(src, "\n")

	for i, line := range lines {
		if m := versionSetPattern.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + newVersion + m[3]

			return strings.Join(lines, "\n"), nil
		}

		if m := versionFieldPattern.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + newVersion + m[3]

			return strings.Join(lines, "\n"), nil
		}
	}

	return src, ErrNoVersionLine
}

// SetHash rewrites the first integrity hash value. Idempotent.
func SetHash(src, newHash string) (string, error) {
	lines := strings.Split(src, "\n")

	for i, line := range lines {
		if m := hashPattern.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + newHash + m[3]

			return strings.Join(lines, "\n"), nil
		}
	}

	return src, ErrNoHashLine
}

// SetBuildNumber rewrites the first build number. Idempotent.
func SetBuildNumber(src string, number int) (string, error) {
	lines := strings.Split(src, "\n")

	for i, line := range lines {
		if m := buildNumberPattern.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + strconv.Itoa(number) + m[3]

			return strings.Join(lines, "\n"), nil
		}
	}

	return src, ErrNoBuildNumber
}

// BuildNumber reads the current build number.
func BuildNumber(src string) (int, error) {
	for _, line := range strings.Split(src, "\n") {
		if m := buildNumberPattern.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return 0, fmt.Errorf("parse build number: %w", err)
			}

			return n, nil
		}
	}

	return 0, ErrNoBuildNumber
}

// Version reads the declared source version.
func Version(src string) (string, error) {
	for _, line := range strings.Split(src, "\n") {
		if m := versionSetPattern.FindStringSubmatch(line); m != nil {
			return m[2], nil
		}

		if m := versionFieldPattern.FindStringSubmatch(line); m != nil {
			return m[2], nil
		}
	}

	return "", ErrNoVersionLine
}

// RenderURL substitutes {{ var }} slots in a source URL template from the
// given variables. Unknown slots are left in place.
func RenderURL(template string, vars map[string]string) string {
	return jinjaVarPattern.ReplaceAllStringFunc(template, func(slot string) string {
		name := jinjaVarPattern.FindStringSubmatch(slot)[1]
		if value, ok := vars[name]; ok {
			return value
		}

		return slot
	})
}

// ReplaceRequirement renames dependency occurrences in requirement list
// items ("  - old" → "  - new", with optional version constraints kept).
// Passing newName == "" removes the requirement line. Returns the edited
// text and whether anything changed.
func ReplaceRequirement(src, oldName, newName string) (string, bool) {
	pattern := regexp.MustCompile(`^(\s*-\s+)` + regexp.QuoteMeta(oldName) + `(\s.*|)$`)

	lines := strings.Split(src, "\n")
	out := make([]string, 0, len(lines))
	changed := false

	for _, line := range lines {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)

			continue
		}

		changed = true

		if newName != "" {
			out = append(out, m[1]+newName+m[2])
		}
	}

	return strings.Join(out, "\n"), changed
}

// ReadMeta reads the recipe file from a feedstock working tree.
func ReadMeta(treeDir string) (string, error) {
	data, err := os.ReadFile(MetaPath(treeDir))
	if err != nil {
		return "", fmt.Errorf("read recipe: %w", err)
	}

	return string(data), nil
}

// WriteMeta writes the recipe file back.
func WriteMeta(treeDir, content string) error {
	if err := os.WriteFile(MetaPath(treeDir), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write recipe: %w", err)
	}

	return nil
}

// MetaPath returns the recipe file path within a working tree.
func MetaPath(treeDir string) string {
	return filepath.Join(treeDir, RecipeDir, MetaFileName)
}
