package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v75/github"
)

// ratePollInterval caps how often the forge's rate endpoint is queried.
const ratePollInterval = 60 * time.Second

// defaultBaseBranch is the base ref for opened pull requests.
const defaultBaseBranch = "main"

// GitHubConfig configures the GitHub gateway.
type GitHubConfig struct {
	// Token authenticates API and push traffic. Never logged.
	Token string

	// BotName is the bot account login (fork owner and commit author).
	BotName string

	// BotEmail is the commit author email.
	BotEmail string

	// Host is the forge hostname, default "github.com".
	Host string
}

// GitHub implements Gateway against the GitHub REST API and the git CLI.
type GitHub struct {
	client *github.Client
	git    *gitRunner
	cfg    GitHubConfig

	rateMu      sync.Mutex
	rateValue   int
	rateFetched time.Time
}

var _ Gateway = (*GitHub)(nil)

// NewGitHub creates the GitHub gateway.
func NewGitHub(cfg GitHubConfig) *GitHub {
	if cfg.Host == "" {
		cfg.Host = "github.com"
	}

	if cfg.BotEmail == "" {
		cfg.BotEmail = cfg.BotName + "@users.noreply.github.com"
	}

	return &GitHub{
		client: github.NewClient(nil).WithAuthToken(cfg.Token),
		git: &gitRunner{
			token:    cfg.Token,
			botName:  cfg.BotName,
			botEmail: cfg.BotEmail,
			host:     cfg.Host,
		},
		cfg: cfg,
	}
}

// classify maps go-github errors onto gateway error kinds.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return NewError(KindRateLimited, op, err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return NewError(KindRateLimited, op, err)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	switch status {
	case http.StatusNotFound:
		return NewError(KindNotFound, op, err)
	case http.StatusUnauthorized:
		return NewError(KindAuthFailed, op, err)
	case http.StatusUnprocessableEntity:
		return NewError(KindValidationFailed, op, err)
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(err.Error()), "archived") {
			return NewError(KindArchived, op, err)
		}

		return NewError(KindRateLimited, op, err)
	default:
		return NewError(KindTransient, op, err)
	}
}

// EnsureFork implements Gateway. GitHub answers 202 while the fork is
// being created; that is success for our purposes.
func (g *GitHub) EnsureFork(ctx context.Context, owner, repo string) (string, error) {
	_, resp, err := g.client.Repositories.CreateFork(ctx, owner, repo, nil)
	if err != nil {
		var accepted *github.AcceptedError
		if !errors.As(err, &accepted) {
			return "", classify("fork", resp, err)
		}
	}

	return g.cfg.BotName, nil
}

// Clone implements Gateway by shelling out to git (shallow, with retry).
func (g *GitHub) Clone(ctx context.Context, owner, repo, dir string) error {
	if err := g.git.clone(ctx, owner, repo, dir); err != nil {
		return NewError(KindTransient, "clone", err)
	}

	return nil
}

// CheckoutBranch implements Gateway.
func (g *GitHub) CheckoutBranch(ctx context.Context, dir, branch string) error {
	if err := g.git.checkoutBranch(ctx, dir, branch); err != nil {
		return NewError(KindTransient, "checkout", err)
	}

	return nil
}

// CommitAll implements Gateway.
func (g *GitHub) CommitAll(ctx context.Context, dir, message string) error {
	if err := g.git.commitAll(ctx, dir, message); err != nil {
		return NewError(KindTransient, "commit", err)
	}

	return nil
}

// Push implements Gateway.
func (g *GitHub) Push(ctx context.Context, dir, owner, repo, branch string) error {
	if err := g.git.push(ctx, dir, owner, repo, branch); err != nil {
		return NewError(KindTransient, "push", err)
	}

	return nil
}

// OpenPullRequest implements Gateway.
func (g *GitHub) OpenPullRequest(ctx context.Context, spec PullRequestSpec) (*PullState, error) {
	base := spec.Base
	if base == "" {
		base = defaultBaseBranch
	}

	pr, resp, err := g.client.PullRequests.Create(ctx, spec.Owner, spec.Repo, &github.NewPullRequest{
		Title:               github.Ptr(spec.Title),
		Body:                github.Ptr(spec.Body),
		Head:                github.Ptr(spec.HeadOwner + ":" + spec.Branch),
		Base:                github.Ptr(base),
		MaintainerCanModify: github.Ptr(true),
	})
	if err != nil {
		return nil, classify("open_pr", resp, err)
	}

	return pullState(pr), nil
}

// GetPullRequest implements Gateway.
func (g *GitHub) GetPullRequest(ctx context.Context, ref PullRef) (*PullState, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return nil, classify("get_pr", resp, err)
	}

	return pullState(pr), nil
}

// AddLabels implements Gateway.
func (g *GitHub) AddLabels(ctx context.Context, ref PullRef, labels []string) error {
	_, resp, err := g.client.Issues.AddLabelsToIssue(ctx, ref.Owner, ref.Repo, ref.Number, labels)
	if err != nil {
		return classify("label", resp, err)
	}

	return nil
}

// feedstockSuffix identifies feedstock repositories within the org.
const feedstockSuffix = "-feedstock"

// ListFeedstocks implements Gateway by paging through the org's
// repositories.
func (g *GitHub) ListFeedstocks(ctx context.Context, org string) ([]Feedstock, error) {
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []Feedstock

	for {
		repos, resp, err := g.client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, classify("list_feedstocks", resp, err)
		}

		for _, repo := range repos {
			name := repo.GetName()
			if !strings.HasSuffix(name, feedstockSuffix) {
				continue
			}

			out = append(out, Feedstock{
				Name:     strings.TrimSuffix(name, feedstockSuffix),
				Archived: repo.GetArchived(),
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return out, nil
}

// RateRemaining implements Gateway with a 60-second cache over the rate
// endpoint.
func (g *GitHub) RateRemaining(ctx context.Context) (int, error) {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()

	if time.Since(g.rateFetched) < ratePollInterval && !g.rateFetched.IsZero() {
		return g.rateValue, nil
	}

	limits, resp, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		return 0, classify("rate", resp, err)
	}

	g.rateValue = limits.GetCore().Remaining
	g.rateFetched = time.Now()

	return g.rateValue, nil
}

// pullState converts the API resource.
func pullState(pr *github.PullRequest) *PullState {
	state := &PullState{
		ID:      pr.GetID(),
		Number:  pr.GetNumber(),
		State:   pr.GetState(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		HTMLURL: pr.GetHTMLURL(),
		Merged:  pr.GetMerged(),
	}

	if ts := pr.GetMergedAt(); !ts.IsZero() {
		state.MergedAt = ts.Time
	}

	if ts := pr.GetClosedAt(); !ts.IsZero() {
		state.ClosedAt = ts.Time
	}

	return state
}

// String renders a pull ref for logs.
func (r PullRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}
