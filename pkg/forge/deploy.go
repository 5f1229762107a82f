package forge

import (
	"context"
	"fmt"
)

// Deployer commits and pushes a mutated graph store checkout back to its
// origin. The checkout must already be a git working tree with a writable
// origin remote.
type Deployer struct {
	git    *gitRunner
	dir    string
	branch string
}

// NewDeployer builds a deployer over the checkout at dir. The token is
// only used to scrub credentials from error text; authentication rides on
// the checkout's configured remote.
func NewDeployer(cfg GitHubConfig, dir, branch string) *Deployer {
	if branch == "" {
		branch = "main"
	}

	return &Deployer{
		git: &gitRunner{
			token:    cfg.Token,
			botName:  cfg.BotName,
			botEmail: cfg.BotEmail,
			host:     cfg.Host,
		},
		dir:    dir,
		branch: branch,
	}
}

// Deploy stages every change in the checkout, commits with the bot
// identity, and pushes. A clean tree is a no-op, not an error.
func (d *Deployer) Deploy(ctx context.Context, message string) (bool, error) {
	if err := d.git.run(ctx, d.dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("stage store changes: %w", err)
	}

	// Exit status 0 means nothing is staged.
	if err := d.git.run(ctx, d.dir, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}

	if err := d.git.run(ctx, d.dir,
		"-c", "user.name="+d.git.botName,
		"-c", "user.email="+d.git.botEmail,
		"commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit store changes: %w", err)
	}

	if err := d.git.run(ctx, d.dir, "push", "origin", "HEAD:"+d.branch); err != nil {
		return false, fmt.Errorf("push store changes: %w", err)
	}

	return true, nil
}
