package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/feedstock-bot/feedbot/pkg/forge"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// feedstockSuffix turns a feedstock name into its repository name.
const feedstockSuffix = "-feedstock"

// nodeResult classifies one node's pass through the pipeline.
type nodeResult int

const (
	resultSkipped nodeResult = iota
	resultOpened
	resultFailed
	resultRateLimited
)

// processNode applies de-duplication and, when warranted, the full
// execution pipeline for one (migrator, package) pair.
func (s *Scheduler) processNode(ctx context.Context, m migrators.Migrator,
	pkg *model.Package,
) nodeResult {
	switch s.dedupe(m, pkg) {
	case dedupDone, dedupSkipOpen, dedupSkipRecentlyClosed:
		return resultSkipped
	case dedupProceed:
	}

	return s.executeNode(ctx, m, pkg)
}

// executeNode runs the per-node pipeline: working tree, migrate, maybe
// re-render, commit, push, PR, record. Every early return has already
// persisted whatever progress was made.
func (s *Scheduler) executeNode(ctx context.Context, m migrators.Migrator,
	pkg *model.Package,
) nodeResult {
	feedstock := pkg.Record.FeedstockName
	if feedstock == "" {
		feedstock = pkg.Name
	}

	repo := feedstock + feedstockSuffix

	dir, err := os.MkdirTemp(s.cfg.WorkDir, pkg.Name+"-")
	if err != nil {
		s.logger.Error("create working tree", slog.Any("error", err))

		return resultFailed
	}
	defer os.RemoveAll(dir)

	forkOwner, err := s.gateway.EnsureFork(ctx, s.cfg.Org, repo)
	if err != nil {
		return s.handleForgeError(ctx, m, pkg, "fork", err)
	}

	if err := s.gateway.Clone(ctx, s.cfg.Org, repo, dir); err != nil {
		return s.handleForgeError(ctx, m, pkg, "clone", err)
	}

	branch := m.RemoteBranch(pkg)
	if err := s.gateway.CheckoutBranch(ctx, dir, branch); err != nil {
		return s.handleForgeError(ctx, m, pkg, "checkout", err)
	}

	metaBefore, _ := recipe.ReadMeta(dir)

	fingerprint, err := m.Migrate(ctx, dir, pkg)
	if err != nil {
		return s.recordMigrateFailure(ctx, m, pkg, err)
	}

	if s.needsRerender(m, pkg) {
		if _, err := s.rerenderer.Rerender(ctx, dir); err != nil {
			return s.recordRerenderFailure(ctx, pkg, err)
		}
	}

	metaAfter, _ := recipe.ReadMeta(dir)

	if s.cfg.DryRun {
		s.logger.Info("dry run, skipping forge writes",
			slog.String("package", pkg.Name),
			slog.String("migrator", m.Name()))

		return resultSkipped
	}

	if err := s.gateway.CommitAll(ctx, dir, m.CommitMessage(pkg)); err != nil {
		return s.handleForgeError(ctx, m, pkg, "commit", err)
	}

	if err := s.gateway.Push(ctx, dir, forkOwner, repo, branch); err != nil {
		return s.handleForgeError(ctx, m, pkg, "push", err)
	}

	state, err := s.gateway.OpenPullRequest(ctx, forge.PullRequestSpec{
		Owner:     s.cfg.Org,
		Repo:      repo,
		HeadOwner: forkOwner,
		Branch:    branch,
		Base:      "main",
		Title:     m.PRTitle(pkg),
		Body:      s.prBody(m, pkg, recipeDiff(metaBefore, metaAfter)),
	})
	if err != nil {
		// A duplicate PR means an earlier run already opened this
		// change; record the fingerprint and move on.
		if !forge.IsKind(err, forge.KindValidationFailed) {
			return s.handleForgeError(ctx, m, pkg, "open_pr", err)
		}

		s.logger.Info("pull request already exists",
			slog.String("package", pkg.Name), slog.String("branch", branch))

		state = nil
	}

	if state != nil && len(s.cfg.Labels) > 0 {
		ref := forge.PullRef{Owner: s.cfg.Org, Repo: repo, Number: state.Number}
		if err := s.gateway.AddLabels(ctx, ref, s.cfg.Labels); err != nil {
			s.logger.Warn("labeling failed", slog.Any("error", err))
		}
	}

	if err := s.recordSuccess(ctx, m, pkg, fingerprint, branch, state); err != nil {
		s.logger.Error("persist pr info", slog.Any("error", err))

		return resultFailed
	}

	if state != nil {
		s.metrics.PRsOpened.WithLabelValues(m.Name()).Inc()
		s.logger.Info("opened pull request",
			slog.String("package", pkg.Name),
			slog.String("migrator", m.Name()),
			slog.String("url", state.HTMLURL))
	}

	return resultOpened
}

// prBody appends the recipe diff and the run identifier to the
// migrator's body.
func (s *Scheduler) prBody(m migrators.Migrator, pkg *model.Package, diff string) string {
	body := m.PRBody(pkg)

	if diff != "" {
		body += "\n\n<details><summary>Recipe changes</summary>\n\n```diff\n" +
			diff + "```\n\n</details>"
	}

	if s.cfg.RunURL != "" {
		body += "\n\nThis PR was created by run " + s.cfg.RunURL + "."
	}

	return body
}

// needsRerender resolves the migrator's policy against the recorded
// tooling versions.
func (s *Scheduler) needsRerender(m migrators.Migrator, pkg *model.Package) bool {
	switch m.RerenderPolicy() {
	case migrators.RerenderAlways:
		return true
	case migrators.RerenderIfToolingChanged:
		return pkg.PRInfo.SmithyVersion != s.rerenderer.ToolingVersion() ||
			pkg.PRInfo.PinningVersion != s.rerenderer.PinningVersion()
	default:
		return false
	}
}

// handleForgeError maps gateway error kinds onto node results and record
// mutations.
func (s *Scheduler) handleForgeError(ctx context.Context, m migrators.Migrator,
	pkg *model.Package, op string, err error,
) nodeResult {
	switch forge.KindOf(err) {
	case forge.KindRateLimited:
		return resultRateLimited
	case forge.KindArchived:
		s.markArchived(ctx, pkg)

		return resultSkipped
	default:
		// Transient failures are logged, never written to the record.
		s.logger.Warn("forge operation failed",
			slog.String("package", pkg.Name),
			slog.String("migrator", m.Name()),
			slog.String("op", op),
			slog.Any("error", err))

		return resultFailed
	}
}

// markArchived tombstones the package; later runs drop it during
// subgraph construction.
func (s *Scheduler) markArchived(ctx context.Context, pkg *model.Package) {
	var rec model.PackageRecord

	err := s.store.Update(ctx, model.PrefixNode+pkg.Name, &rec, func(bool) error {
		rec.Archived = true

		return nil
	})
	if err != nil {
		s.logger.Error("mark archived", slog.String("package", pkg.Name),
			slog.Any("error", err))

		return
	}

	pkg.Record.Archived = true
	s.logger.Info("feedstock archived", slog.String("package", pkg.Name))
}

// recordMigrateFailure writes bad onto the package record and burns an
// attempt when the migrator budgets them.
func (s *Scheduler) recordMigrateFailure(ctx context.Context, m migrators.Migrator,
	pkg *model.Package, cause error,
) nodeResult {
	s.metrics.MigrationsFailed.WithLabelValues(m.Name()).Inc()
	s.logger.Warn("migration failed",
		slog.String("package", pkg.Name),
		slog.String("migrator", m.Name()),
		slog.Any("error", cause))

	var rec model.PackageRecord

	err := s.store.Update(ctx, model.PrefixNode+pkg.Name, &rec, func(bool) error {
		rec.Bad = &model.BadInfo{Kind: "migrate", Reason: cause.Error()}

		return nil
	})
	if err != nil {
		s.logger.Error("persist bad", slog.Any("error", err))
	}

	if keyer, ok := m.(migrators.AttemptKeyer); ok {
		if key := keyer.AttemptKey(pkg); key != "" {
			s.burnAttempt(ctx, pkg.Name, key)
		}
	}

	return resultFailed
}

// burnAttempt increments the attempt counter for one version bucket.
func (s *Scheduler) burnAttempt(ctx context.Context, name, key string) {
	var vrec model.VersionRecord

	err := s.store.Update(ctx, model.PrefixVersions+name, &vrec, func(bool) error {
		if vrec.NewVersionAttempts == nil {
			vrec.NewVersionAttempts = map[string]int{}
		}

		vrec.NewVersionAttempts[key]++

		return nil
	})
	if err != nil {
		s.logger.Error("persist attempt counter", slog.Any("error", err))
	}
}

// recordRerenderFailure writes bad with the rerender kind.
func (s *Scheduler) recordRerenderFailure(ctx context.Context,
	pkg *model.Package, cause error,
) nodeResult {
	s.logger.Warn("re-render failed",
		slog.String("package", pkg.Name), slog.Any("error", cause))

	var rec model.PackageRecord

	err := s.store.Update(ctx, model.PrefixNode+pkg.Name, &rec, func(bool) error {
		rec.Bad = &model.BadInfo{Kind: "rerender", Reason: cause.Error()}

		return nil
	})
	if err != nil {
		s.logger.Error("persist bad", slog.Any("error", err))
	}

	return resultFailed
}

// recordSuccess appends the fingerprint entry to PR-info, advances the
// tooling versions, and mirrors the PR resource under pr_json/.
func (s *Scheduler) recordSuccess(ctx context.Context, m migrators.Migrator,
	pkg *model.Package, fingerprint, branch string, state *forge.PullState,
) error {
	var info model.PRInfoRecord

	err := s.store.Update(ctx, model.PrefixPRInfo+pkg.Name, &info, func(bool) error {
		entry := info.Find(fingerprint)
		if entry == nil {
			info.PRs = append(info.PRs, model.PRFingerprintEntry{
				Fingerprint: fingerprint,
				HeadBranch:  branch,
				Timestamp:   s.now().UTC(),
			})
			entry = &info.PRs[len(info.PRs)-1]
		}

		entry.PRState = model.PRStateOpen

		if state != nil {
			entry.PRURL = state.HTMLURL
			entry.PRID = state.ID
			entry.PRNumber = state.Number
		}

		info.SmithyVersion = s.rerenderer.ToolingVersion()
		info.PinningVersion = s.rerenderer.PinningVersion()

		return nil
	})
	if err != nil {
		return fmt.Errorf("update pr info: %w", err)
	}

	// Keep the in-memory view coherent for later migrators this run.
	pkg.PRInfo = &info

	if state == nil {
		return nil
	}

	var prJSON model.PRJSONRecord

	key := fmt.Sprintf("%s%d", model.PrefixPRJSON, state.ID)

	err = s.store.Update(ctx, key, &prJSON, func(bool) error {
		prJSON = model.PRJSONRecord{
			ID:      state.ID,
			Number:  state.Number,
			State:   state.State,
			HeadRef: state.HeadRef,
			BaseRef: state.BaseRef,
			HTMLURL: state.HTMLURL,
			Merged:  state.Merged,
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("update pr json: %w", err)
	}

	return nil
}
