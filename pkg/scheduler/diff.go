package scheduler

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// recipeDiff renders the changed lines between two recipe revisions for
// the PR body: deletions prefixed "-", insertions "+", context dropped.
func recipeDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()

	charsA, charsB, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(charsA, charsB, false), lines)

	var sb strings.Builder

	for _, d := range diffs {
		var prefix string

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffEqual:
			continue
		}

		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}
