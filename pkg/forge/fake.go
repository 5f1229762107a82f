package forge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Gateway for tests. It hands out fixture working
// trees on Clone, records opened pull requests, and exposes knobs for
// the failure modes the scheduler has to survive.
type Fake struct {
	mu sync.Mutex

	// BotName is returned as the fork owner.
	BotName string

	// Rate is the remaining API budget reported by RateRemaining. Each
	// OpenPullRequest call decrements it.
	Rate int

	// Fixtures maps "owner/repo" to file trees (relative path -> body)
	// seeded into the directory on Clone.
	Fixtures map[string]map[string]string

	// ArchivedRepos makes OpenPullRequest fail with KindArchived.
	ArchivedRepos map[string]bool

	// RejectHeads makes OpenPullRequest fail validation for the given
	// head branch names, mimicking a duplicate PR.
	RejectHeads map[string]bool

	// Feedstocks backs ListFeedstocks.
	Feedstocks []Feedstock

	// Opened accumulates every pull request successfully opened.
	Opened []PullRequestSpec

	// Pulls holds the live state of opened pull requests, addressable by
	// number. Tests mutate entries to simulate merges and closes.
	Pulls map[int]*PullState

	// Labels records labels added per pull number.
	Labels map[int][]string

	// Commits records commit messages per clone directory.
	Commits map[string][]string

	// Pushed records "owner/repo@branch" for every push.
	Pushed []string

	nextNumber int
}

var _ Gateway = (*Fake)(nil)

// NewFake returns a Fake with a healthy rate budget.
func NewFake() *Fake {
	return &Fake{
		BotName:       "feedbot-test",
		Rate:          5000,
		Fixtures:      map[string]map[string]string{},
		ArchivedRepos: map[string]bool{},
		RejectHeads:   map[string]bool{},
		Pulls:         map[int]*PullState{},
		Labels:        map[int][]string{},
		Commits:       map[string][]string{},
	}
}

// Seed registers a fixture tree for owner/repo.
func (f *Fake) Seed(owner, repo string, files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Fixtures[owner+"/"+repo] = files
}

// EnsureFork implements Gateway.
func (f *Fake) EnsureFork(_ context.Context, owner, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ArchivedRepos[owner+"/"+repo] {
		return "", NewError(KindArchived, "fork", errors.New("repository is archived"))
	}

	return f.BotName, nil
}

// Clone implements Gateway by materializing the fixture tree under dir.
func (f *Fake) Clone(_ context.Context, owner, repo, dir string) error {
	f.mu.Lock()
	files, ok := f.Fixtures[owner+"/"+repo]
	f.mu.Unlock()

	if !ok {
		return NewError(KindNotFound, "clone", fmt.Errorf("no fixture for %s/%s", owner, repo))
	}

	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// CheckoutBranch implements Gateway.
func (f *Fake) CheckoutBranch(_ context.Context, _, _ string) error {
	return nil
}

// CommitAll implements Gateway.
func (f *Fake) CommitAll(_ context.Context, dir, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Commits[dir] = append(f.Commits[dir], message)

	return nil
}

// Push implements Gateway.
func (f *Fake) Push(_ context.Context, _, owner, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Pushed = append(f.Pushed, fmt.Sprintf("%s/%s@%s", owner, repo, branch))

	return nil
}

// OpenPullRequest implements Gateway.
func (f *Fake) OpenPullRequest(_ context.Context, spec PullRequestSpec) (*PullState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Rate <= 0 {
		return nil, NewError(KindRateLimited, "open_pr", errors.New("rate budget exhausted"))
	}

	f.Rate--

	if f.ArchivedRepos[spec.Owner+"/"+spec.Repo] {
		return nil, NewError(KindArchived, "open_pr", errors.New("repository is archived"))
	}

	if f.RejectHeads[spec.Branch] {
		return nil, NewError(KindValidationFailed, "open_pr",
			fmt.Errorf("a pull request already exists for %s:%s", spec.HeadOwner, spec.Branch))
	}

	f.nextNumber++
	state := &PullState{
		ID:      int64(f.nextNumber) * 1000,
		Number:  f.nextNumber,
		State:   "open",
		HeadRef: spec.Branch,
		BaseRef: spec.Base,
		HTMLURL: fmt.Sprintf("https://github.test/%s/%s/pull/%d", spec.Owner, spec.Repo, f.nextNumber),
	}

	f.Opened = append(f.Opened, spec)
	f.Pulls[state.Number] = state

	return clonePullState(state), nil
}

// GetPullRequest implements Gateway.
func (f *Fake) GetPullRequest(_ context.Context, ref PullRef) (*PullState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.Pulls[ref.Number]
	if !ok {
		return nil, NewError(KindNotFound, "get_pr", fmt.Errorf("no pull %d", ref.Number))
	}

	return clonePullState(state), nil
}

// AddLabels implements Gateway.
func (f *Fake) AddLabels(_ context.Context, ref PullRef, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Labels[ref.Number] = append(f.Labels[ref.Number], labels...)

	return nil
}

// ListFeedstocks implements Gateway.
func (f *Fake) ListFeedstocks(_ context.Context, _ string) ([]Feedstock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Feedstock, len(f.Feedstocks))
	copy(out, f.Feedstocks)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// RateRemaining implements Gateway.
func (f *Fake) RateRemaining(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Rate, nil
}

// MergePull flips an open pull to merged, for tracker tests.
func (f *Fake) MergePull(number int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if state, ok := f.Pulls[number]; ok {
		state.State = "closed"
		state.Merged = true
		state.MergedAt = at
		state.ClosedAt = at
	}
}

// ClosePull flips an open pull to closed-unmerged.
func (f *Fake) ClosePull(number int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if state, ok := f.Pulls[number]; ok {
		state.State = "closed"
		state.ClosedAt = at
	}
}

func clonePullState(s *PullState) *PullState {
	out := *s

	return &out
}
