// Package vercmp implements the ecosystem's total ordering over version
// strings: dot-separated numeric segments with optional dev/pre/post
// suffixes and an optional local segment after "+".
//
// The phase ordering is dev < a < b < rc < release < post. Local segments
// compare lexicographically and sort after the same version without one.
// Strings that do not parse sort strictly below every parseable version and
// compare among themselves by raw string ordering so the relation stays
// total.
package vercmp

import (
	"regexp"
	"strconv"
	"strings"
)

// Release phases, ordered.
const (
	phaseDev = iota
	phaseAlpha
	phaseBeta
	phaseRC
	phaseFinal
	phasePost
)

// versionPattern accepts the ecosystem's version grammar:
// N(.N)* [ {a|b|rc|dev} N ] [ .post N ] [ + local ].
var versionPattern = regexp.MustCompile(
	`^v?(\d+(?:\.\d+)*)` +
		`(?:[._-]?(dev|a|alpha|b|beta|rc|c)[._-]?(\d*))?` +
		`(?:[._-]?(post)[._-]?(\d*))?` +
		`(?:\+([0-9a-zA-Z_.]+))?$`,
)

// Version is a parsed version string. The zero value is not meaningful;
// use Parse.
type Version struct {
	raw     string
	release []int
	phase   int
	phaseN  int
	postN   int
	local   string
	valid   bool
}

// Parse interprets s as a version. Unparseable input yields a Version that
// reports IsValid() == false and sorts below all valid versions.
func Parse(s string) Version {
	trimmed := strings.TrimSpace(s)

	match := versionPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return Version{raw: s}
	}

	parsed := Version{raw: s, phase: phaseFinal, valid: true}

	for _, part := range strings.Split(match[1], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{raw: s}
		}

		parsed.release = append(parsed.release, n)
	}

	if match[2] != "" {
		switch match[2] {
		case "dev":
			parsed.phase = phaseDev
		case "a", "alpha":
			parsed.phase = phaseAlpha
		case "b", "beta":
			parsed.phase = phaseBeta
		case "rc", "c":
			parsed.phase = phaseRC
		}

		if match[3] != "" {
			parsed.phaseN, _ = strconv.Atoi(match[3])
		}
	}

	if match[4] != "" {
		parsed.phase = phasePost
		if match[5] != "" {
			parsed.postN, _ = strconv.Atoi(match[5])
		}
	}

	parsed.local = match[6]

	return parsed
}

// IsValid reports whether the string parsed as a version.
func (v Version) IsValid() bool { return v.valid }

// String returns the original input.
func (v Version) String() string { return v.raw }

// IsPreRelease reports whether v carries a dev or pre-release phase.
func (v Version) IsPreRelease() bool {
	return v.valid && v.phase < phaseFinal
}

// Compare returns -1, 0, or +1 as v sorts before, equal to, or after o.
func (v Version) Compare(o Version) int {
	if !v.valid || !o.valid {
		return compareInvalid(v, o)
	}

	if c := compareRelease(v.release, o.release); c != 0 {
		return c
	}

	if c := cmpInt(v.phase, o.phase); c != 0 {
		return c
	}

	if c := cmpInt(v.phaseN, o.phaseN); c != 0 {
		return c
	}

	if c := cmpInt(v.postN, o.postN); c != 0 {
		return c
	}

	return strings.Compare(v.local, o.local)
}

// compareInvalid handles orderings involving unparseable versions.
func compareInvalid(a, b Version) int {
	switch {
	case a.valid:
		return 1
	case b.valid:
		return -1
	case a.raw == b.raw:
		return 0
	default:
		return strings.Compare(a.raw, b.raw)
	}
}

// compareRelease compares numeric segments, treating missing trailing
// segments as zero (1.0 == 1.0.0).
func compareRelease(a, b []int) int {
	n := max(len(a), len(b))
	for i := range n {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}

		if i < len(b) {
			bv = b[i]
		}

		if c := cmpInt(av, bv); c != 0 {
			return c
		}
	}

	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders two raw version strings.
func Compare(a, b string) int {
	return Parse(a).Compare(Parse(b))
}

// Less reports whether a sorts strictly before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }

// Max returns the greatest of the candidate strings under the ordering.
// Returns "" for an empty slice.
func Max(candidates []string) string {
	best := ""
	for _, c := range candidates {
		if best == "" || Compare(c, best) > 0 {
			best = c
		}
	}

	return best
}
