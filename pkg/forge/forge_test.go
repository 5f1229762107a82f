package forge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedstock-bot/feedbot/pkg/forge"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

func TestErrorKindClassification(t *testing.T) {
	t.Parallel()

	wrapped := forge.NewError(forge.KindArchived, "open_pr", errors.New("archived"))
	assert.Equal(t, forge.KindArchived, forge.KindOf(wrapped))
	assert.True(t, forge.IsKind(wrapped, forge.KindArchived))
	assert.False(t, forge.IsKind(wrapped, forge.KindRateLimited))

	// Anything else is treated as transient.
	assert.Equal(t, forge.KindTransient, forge.KindOf(errors.New("boom")))
	assert.False(t, forge.IsKind(nil, forge.KindTransient))

	// The kind survives further wrapping.
	outer := errors.Join(errors.New("context"), wrapped)
	assert.Equal(t, forge.KindArchived, forge.KindOf(outer))
}

func TestPullStateRecordState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.PRStateOpen, forge.PullState{State: "open"}.RecordState())
	assert.Equal(t, model.PRStateClosed, forge.PullState{State: "closed"}.RecordState())
	assert.Equal(t, model.PRStateMerged, forge.PullState{State: "closed", Merged: true}.RecordState())
}

func TestFakeCloneSeedsFixture(t *testing.T) {
	t.Parallel()

	fake := forge.NewFake()
	fake.Seed("conda-forge", "foo-feedstock", map[string]string{
		"recipe/meta.yaml": "package:\n  name: foo\n",
	})

	dir := t.TempDir()
	require.NoError(t, fake.Clone(context.Background(), "conda-forge", "foo-feedstock", dir))

	body, err := os.ReadFile(filepath.Join(dir, "recipe", "meta.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "name: foo")

	err = fake.Clone(context.Background(), "conda-forge", "missing-feedstock", dir)
	assert.True(t, forge.IsKind(err, forge.KindNotFound))
}

func TestFakeOpenPullRequestLifecycle(t *testing.T) {
	t.Parallel()

	fake := forge.NewFake()

	state, err := fake.OpenPullRequest(context.Background(), forge.PullRequestSpec{
		Owner:     "conda-forge",
		Repo:      "foo-feedstock",
		HeadOwner: fake.BotName,
		Branch:    "bump-1.0.1",
		Base:      "main",
		Title:     "foo v1.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "open", state.State)
	assert.Equal(t, model.PRStateOpen, state.RecordState())

	ref := forge.PullRef{Owner: "conda-forge", Repo: "foo-feedstock", Number: state.Number}

	mergedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fake.MergePull(state.Number, mergedAt)

	after, err := fake.GetPullRequest(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.PRStateMerged, after.RecordState())
	assert.Equal(t, mergedAt, after.MergedAt)
}

func TestFakeRateExhaustion(t *testing.T) {
	t.Parallel()

	fake := forge.NewFake()
	fake.Rate = 1

	spec := forge.PullRequestSpec{Owner: "o", Repo: "r", Branch: "b"}

	_, err := fake.OpenPullRequest(context.Background(), spec)
	require.NoError(t, err)

	_, err = fake.OpenPullRequest(context.Background(), spec)
	assert.True(t, forge.IsKind(err, forge.KindRateLimited))
}

func TestFakeArchivedAndDuplicate(t *testing.T) {
	t.Parallel()

	fake := forge.NewFake()
	fake.ArchivedRepos["conda-forge/dead-feedstock"] = true
	fake.RejectHeads["bump-dup"] = true

	_, err := fake.OpenPullRequest(context.Background(), forge.PullRequestSpec{
		Owner: "conda-forge", Repo: "dead-feedstock", Branch: "bump-1.0",
	})
	assert.True(t, forge.IsKind(err, forge.KindArchived))

	_, err = fake.OpenPullRequest(context.Background(), forge.PullRequestSpec{
		Owner: "conda-forge", Repo: "live-feedstock", Branch: "bump-dup",
	})
	assert.True(t, forge.IsKind(err, forge.KindValidationFailed))
}

func TestFakeListFeedstocksSorted(t *testing.T) {
	t.Parallel()

	fake := forge.NewFake()
	fake.Feedstocks = []forge.Feedstock{
		{Name: "zlib"},
		{Name: "abc", Archived: true},
		{Name: "numpy"},
	}

	got, err := fake.ListFeedstocks(context.Background(), "conda-forge")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "abc", got[0].Name)
	assert.True(t, got[0].Archived)
	assert.Equal(t, "zlib", got[2].Name)
}
