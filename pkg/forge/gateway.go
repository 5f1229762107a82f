package forge

import (
	"context"
	"time"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	// Owner/Repo locate the upstream feedstock repository.
	Owner string
	Repo  string

	// HeadOwner is the fork owner holding the head branch.
	HeadOwner string
	Branch    string
	Base      string

	Title string
	Body  string
}

// PullRef locates an existing pull request.
type PullRef struct {
	Owner  string
	Repo   string
	Number int
}

// PullState is the gateway's view of a pull request, mirroring the fields
// the tracker persists.
type PullState struct {
	ID       int64
	Number   int
	State    string
	HeadRef  string
	BaseRef  string
	HTMLURL  string
	Merged   bool
	MergedAt time.Time
	ClosedAt time.Time
}

// RecordState maps the forge view onto the stored state vocabulary.
func (p PullState) RecordState() string {
	switch {
	case p.Merged:
		return model.PRStateMerged
	case p.State == "closed":
		return model.PRStateClosed
	default:
		return model.PRStateOpen
	}
}

// Gateway is the full forge capability set the core depends on. All
// methods honor context cancellation; network failures come back as *Error.
type Gateway interface {
	// EnsureFork creates (or finds) the bot's fork of owner/repo and
	// returns the fork owner login.
	EnsureFork(ctx context.Context, owner, repo string) (string, error)

	// Clone produces a shallow working tree of the fork at dir, with the
	// upstream configured as a second remote.
	Clone(ctx context.Context, owner, repo, dir string) error

	// CheckoutBranch creates and switches to a fresh branch in dir.
	CheckoutBranch(ctx context.Context, dir, branch string) error

	// CommitAll stages and commits every change in dir.
	CommitAll(ctx context.Context, dir, message string) error

	// Push pushes the branch from dir to the fork with injected
	// credentials. The token never reaches logs.
	Push(ctx context.Context, dir, owner, repo, branch string) error

	// OpenPullRequest opens a PR against the upstream repository.
	OpenPullRequest(ctx context.Context, spec PullRequestSpec) (*PullState, error)

	// GetPullRequest fetches the current state of a PR.
	GetPullRequest(ctx context.Context, ref PullRef) (*PullState, error)

	// AddLabels labels a PR. Best-effort; label failures are not fatal.
	AddLabels(ctx context.Context, ref PullRef, labels []string) error

	// ListFeedstocks enumerates repositories under the ecosystem org
	// whose names carry the feedstock suffix. Archived repos are included
	// with archived=true so discovery can tombstone them.
	ListFeedstocks(ctx context.Context, org string) ([]Feedstock, error)

	// RateRemaining returns the remaining API budget. Implementations
	// poll the forge's rate endpoint at most once per minute.
	RateRemaining(ctx context.Context) (int, error)
}

// Feedstock is one discovered feedstock repository.
type Feedstock struct {
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
}
