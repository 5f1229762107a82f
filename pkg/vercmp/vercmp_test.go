package vercmp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/vercmp"
)

func TestCompareOrdering(t *testing.T) {
	t.Parallel()

	// Each version must sort strictly before the next one.
	ordered := []string{
		"not-a-version",
		"0.9",
		"1.0.dev1",
		"1.0a1",
		"1.0a2",
		"1.0b1",
		"1.0rc1",
		"1.0",
		"1.0+local",
		"1.0.post1",
		"1.0.1",
		"1.1",
		"2.0",
		"10.0",
	}

	for i := 0; i < len(ordered)-1; i++ {
		a, b := ordered[i], ordered[i+1]
		assert.Negative(t, vercmp.Compare(a, b), "%s < %s", a, b)
		assert.Positive(t, vercmp.Compare(b, a), "%s > %s", b, a)
	}
}

func TestCompareEquality(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
	}{
		{"1.0", "1.0.0"},
		{"1.0", "v1.0"},
		{"1.0rc1", "1.0c1"},
		{"garbage", "garbage"},
	}

	for _, tc := range cases {
		assert.Zero(t, vercmp.Compare(tc.a, tc.b), "%s == %s", tc.a, tc.b)
	}
}

func TestInvalidSortsBelowValid(t *testing.T) {
	t.Parallel()

	assert.True(t, vercmp.Less("2026-08-01", "0.0.1"))
	assert.False(t, vercmp.Less("0.0.1", "2026-08-01"))
}

func TestNumericNotLexicographic(t *testing.T) {
	t.Parallel()

	assert.True(t, vercmp.Less("1.9", "1.10"))
	assert.True(t, vercmp.Less("1.2.9", "1.2.10"))
}

func TestPreReleaseDetection(t *testing.T) {
	t.Parallel()

	require.True(t, vercmp.Parse("1.0rc1").IsPreRelease())
	require.True(t, vercmp.Parse("1.0.dev0").IsPreRelease())
	require.False(t, vercmp.Parse("1.0").IsPreRelease())
	require.False(t, vercmp.Parse("1.0.post1").IsPreRelease())
	require.False(t, vercmp.Parse("junk").IsPreRelease())
}

func TestMax(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2.1", vercmp.Max([]string{"1.0", "2.1", "2.0", "bad"}))
	assert.Empty(t, vercmp.Max(nil))
}

func TestTotalOrderOnInvalid(t *testing.T) {
	t.Parallel()

	// Distinct unparseable strings still order deterministically.
	assert.Negative(t, vercmp.Compare("aaa", "bbb"))
	assert.Positive(t, vercmp.Compare("bbb", "aaa"))
}
