// Package tracker reconciles stored PR state with the forge. It sweeps
// PR-info entries in sharded batches, refreshes each open PR from the
// forge, and propagates closes and merges back into the records. The
// per-key store lock is the only coordination between concurrent
// tracker processes.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/forge"
	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// ErrPRNotFound is returned by FindByPRID when no record references the
// given forge id.
var ErrPRNotFound = errors.New("tracker: no package references this pr id")

// feedstockSuffix turns a feedstock name into its repository name.
const feedstockSuffix = "-feedstock"

// Tracker sweeps PR-info records against the forge.
type Tracker struct {
	store   *lazyjson.Store
	gateway forge.Gateway
	logger  *slog.Logger

	// Org is the upstream organization owning the feedstocks.
	Org string

	// Job/NJobs shard the sweep by stable hash of the package name.
	Job   int
	NJobs int
}

// New builds a tracker over the store and gateway.
func New(store *lazyjson.Store, gateway forge.Gateway, org string, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:   store,
		gateway: gateway,
		logger:  logger,
		Org:     org,
		NJobs:   1,
	}
}

// Run sweeps every package in this tracker's shard.
func (t *Tracker) Run(ctx context.Context) error {
	keys, err := t.store.KeysPrefix(ctx, model.PrefixPRInfo)
	if err != nil {
		return fmt.Errorf("list pr info: %w", err)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := strings.TrimPrefix(key, model.PrefixPRInfo)
		if model.Shard(name, t.NJobs) != t.Job {
			continue
		}

		if err := t.TrackPackage(ctx, name); err != nil {
			if errors.Is(err, lazyjson.ErrCorruptRecord) {
				t.logger.Warn("skipping corrupt record",
					slog.String("key", key), slog.Any("error", err))

				continue
			}

			return err
		}
	}

	return nil
}

// TrackPackage refreshes every open PR referenced by one package. The
// event reactor calls it directly for targeted updates.
func (t *Tracker) TrackPackage(ctx context.Context, name string) error {
	repo, err := t.feedstockRepo(ctx, name)
	if err != nil {
		return err
	}

	var info model.PRInfoRecord

	return t.store.Update(ctx, model.PrefixPRInfo+name, &info, func(found bool) error {
		if !found {
			return nil
		}

		for i := range info.PRs {
			entry := &info.PRs[i]
			if entry.PRState != model.PRStateOpen || entry.PRNumber == 0 {
				continue
			}

			if err := t.refreshEntry(ctx, repo, entry); err != nil {
				// One unreachable PR must not wedge the others.
				t.logger.Warn("pr refresh failed",
					slog.String("package", name),
					slog.Int("number", entry.PRNumber),
					slog.Any("error", err))
			}
		}

		return nil
	})
}

// feedstockRepo resolves the repository name for a package.
func (t *Tracker) feedstockRepo(ctx context.Context, name string) (string, error) {
	var rec model.PackageRecord

	found, err := t.store.View(ctx, model.PrefixNode+name, &rec)
	if err != nil {
		return "", fmt.Errorf("load package %s: %w", name, err)
	}

	if !found || rec.FeedstockName == "" {
		return name + feedstockSuffix, nil
	}

	return rec.FeedstockName + feedstockSuffix, nil
}

// refreshEntry pulls the forge state for one PR and propagates it into
// the entry and the pr_json mirror.
func (t *Tracker) refreshEntry(ctx context.Context, repo string,
	entry *model.PRFingerprintEntry,
) error {
	ref := forge.PullRef{Owner: t.Org, Repo: repo, Number: entry.PRNumber}

	state, err := t.gateway.GetPullRequest(ctx, ref)
	if err != nil {
		if forge.IsKind(err, forge.KindNotFound) {
			// The PR vanished (force-deleted fork); close the entry so
			// the fingerprint becomes retryable after the window.
			entry.PRState = model.PRStateClosed

			return nil
		}

		return err
	}

	entry.PRState = state.RecordState()
	entry.Merged = state.Merged

	if !state.ClosedAt.IsZero() {
		entry.ClosedAt = state.ClosedAt
	}

	return t.mirrorPRJSON(ctx, state)
}

// mirrorPRJSON rewrites the pr_json record from the forge view.
func (t *Tracker) mirrorPRJSON(ctx context.Context, state *forge.PullState) error {
	var rec model.PRJSONRecord

	key := fmt.Sprintf("%s%d", model.PrefixPRJSON, state.ID)

	return t.store.Update(ctx, key, &rec, func(bool) error {
		rec = model.PRJSONRecord{
			ID:       state.ID,
			Number:   state.Number,
			State:    state.State,
			HeadRef:  state.HeadRef,
			BaseRef:  state.BaseRef,
			HTMLURL:  state.HTMLURL,
			Merged:   state.Merged,
			MergedAt: state.MergedAt,
			ClosedAt: state.ClosedAt,
		}

		return nil
	})
}

// FindByPRID locates the package and fingerprint referencing a forge PR
// id. Used by the event reactor to target a single update.
func (t *Tracker) FindByPRID(ctx context.Context, id int64) (string, string, error) {
	keys, err := t.store.KeysPrefix(ctx, model.PrefixPRInfo)
	if err != nil {
		return "", "", fmt.Errorf("list pr info: %w", err)
	}

	for _, key := range keys {
		var info model.PRInfoRecord

		if _, err := t.store.View(ctx, key, &info); err != nil {
			if errors.Is(err, lazyjson.ErrCorruptRecord) {
				continue
			}

			return "", "", err
		}

		for i := range info.PRs {
			if info.PRs[i].PRID == id {
				return strings.TrimPrefix(key, model.PrefixPRInfo),
					info.PRs[i].Fingerprint, nil
			}
		}
	}

	return "", "", fmt.Errorf("%w: %d", ErrPRNotFound, id)
}
