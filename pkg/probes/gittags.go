package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// githubAPIBase is the REST endpoint for tag listings.
const githubAPIBase = "https://api.github.com"

// githubPathPattern pulls owner/repo out of a source URL template like
// https://github.com/OWNER/REPO/archive/....
var githubPathPattern = regexp.MustCompile(`github\.com/([^/{}\s]+)/([^/{}\s]+)`)

// GitTags probes release tags of a repository on the code forge.
type GitTags struct {
	// APIBase overrides the REST endpoint, for tests.
	APIBase string

	// Client is the HTTP client; defaults to a 30 s-timeout client.
	Client *http.Client
}

// NewGitTags returns the tag prober with production defaults.
func NewGitTags() *GitTags {
	return &GitTags{APIBase: githubAPIBase, Client: newHTTPClient()}
}

func (p *GitTags) Name() string { return "github_tags" }

// tagResource is the slice element of the tags listing.
type tagResource struct {
	Name string `json:"name"`
}

// Probe implements Prober.
func (p *GitTags) Probe(ctx context.Context, rec *model.PackageRecord) Outcome {
	owner, repo, err := splitGitHubPath(rec.SourceURL)
	if err != nil {
		return Unavailable("%v", err)
	}

	body, err := fetch(ctx, p.Client, joinURL(p.APIBase, "repos", owner, repo, "tags")+"?per_page=100")
	if err != nil {
		return Unavailable("list tags: %v", err)
	}

	var tags []tagResource
	if err := json.Unmarshal(body, &tags); err != nil {
		return Unavailable("decode tags: %v", err)
	}

	candidates := make([]string, 0, len(tags))
	for _, tag := range tags {
		candidates = append(candidates, cleanTag(tag.Name, repo))
	}

	return selectLatest(candidates, rec.Version, rec.PreRelease)
}

// splitGitHubPath extracts owner and repository from the URL template.
func splitGitHubPath(sourceURL string) (string, string, error) {
	m := githubPathPattern.FindStringSubmatch(sourceURL)
	if m == nil {
		return "", "", fmt.Errorf("no owner/repo in source url")
	}

	repo := strings.TrimSuffix(m[2], ".git")

	return m[1], repo, nil
}

// cleanTag strips common tag decorations ("v1.2", "foo-1.2") down to the
// bare version string.
func cleanTag(tag, repo string) string {
	tag = strings.TrimPrefix(tag, repo+"-")
	tag = strings.TrimPrefix(tag, "release-")
	tag = strings.TrimPrefix(tag, "v")

	return tag
}
