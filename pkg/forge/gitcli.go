package forge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Git CLI parameters.
const (
	// cloneDepth keeps working trees shallow; feedstock history is not
	// needed for a recipe edit.
	cloneDepth = "1"

	// cloneAttempts retries flaky shallow clones.
	cloneAttempts = 3

	// cloneRetryDelay spaces the clone attempts.
	cloneRetryDelay = 5 * time.Second
)

// gitRunner shells out to the git CLI for repository operations. Push URLs
// carry the token inline; command lines are scrubbed before logging.
type gitRunner struct {
	token    string
	botName  string
	botEmail string
	host     string
}

// run executes git with the given arguments in dir. stderr is captured
// into the returned error with the token scrubbed.
func (g *gitRunner) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := g.scrub(strings.TrimSpace(stderr.String()))

		return fmt.Errorf("git %s: %w: %s", g.scrub(args[0]), err, detail)
	}

	return nil
}

// scrub removes the credential from any text destined for errors or logs.
func (g *gitRunner) scrub(s string) string {
	if g.token == "" {
		return s
	}

	return strings.ReplaceAll(s, g.token, "***")
}

// authURL builds the token-injected HTTPS remote URL.
func (g *gitRunner) authURL(owner, repo string) string {
	return fmt.Sprintf("https://x-access-token:%s@%s/%s/%s.git", g.token, g.host, owner, repo)
}

// plainURL builds the credential-free HTTPS remote URL.
func (g *gitRunner) plainURL(owner, repo string) string {
	return fmt.Sprintf("https://%s/%s/%s.git", g.host, owner, repo)
}

// clone performs a shallow clone with retry.
func (g *gitRunner) clone(ctx context.Context, owner, repo, dir string) error {
	var lastErr error

	for attempt := range cloneAttempts {
		lastErr = g.run(ctx, "", "clone", "--depth", cloneDepth, g.plainURL(owner, repo), dir)
		if lastErr == nil {
			return nil
		}

		if attempt < cloneAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cloneRetryDelay):
			}
		}
	}

	return lastErr
}

// checkoutBranch creates and switches to branch.
func (g *gitRunner) checkoutBranch(ctx context.Context, dir, branch string) error {
	return g.run(ctx, dir, "checkout", "-b", branch)
}

// commitAll stages everything and commits with the bot identity.
func (g *gitRunner) commitAll(ctx context.Context, dir, message string) error {
	if err := g.run(ctx, dir, "add", "-A"); err != nil {
		return err
	}

	return g.run(ctx, dir,
		"-c", "user.name="+g.botName,
		"-c", "user.email="+g.botEmail,
		"commit", "-m", message)
}

// push pushes branch to the fork with credentials injected into the
// remote URL for this invocation only.
func (g *gitRunner) push(ctx context.Context, dir, owner, repo, branch string) error {
	return g.run(ctx, dir, "push", g.authURL(owner, repo), "HEAD:"+branch, "--force-with-lease")
}
