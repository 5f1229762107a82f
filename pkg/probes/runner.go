package probes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/vercmp"
)

// Runner sweeps the package set and rewrites version records.
type Runner struct {
	store  *lazyjson.Store
	logger *slog.Logger

	// Job/NJobs shard the sweep by stable hash of the package name.
	Job   int
	NJobs int

	// deduce is swappable for tests.
	deduce func(*model.PackageRecord) (Prober, error)
}

// NewRunner builds a probe sweep over the store.
func NewRunner(store *lazyjson.Store, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		logger: logger,
		NJobs:  1,
		deduce: Deduce,
	}
}

// Run probes every package in this runner's shard and rewrites its
// versions/ record. Individual package failures are recorded, not
// returned; only store-level failures abort the sweep.
func (r *Runner) Run(ctx context.Context) error {
	keys, err := r.store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return fmt.Errorf("list packages: %w", err)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := strings.TrimPrefix(key, model.PrefixNode)
		if model.Shard(name, r.NJobs) != r.Job {
			continue
		}

		if err := r.probeOne(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

// ProbeOne probes a single package by name, used by the event reactor.
func (r *Runner) ProbeOne(ctx context.Context, name string) error {
	return r.probeOne(ctx, name)
}

func (r *Runner) probeOne(ctx context.Context, name string) error {
	var rec model.PackageRecord

	found, err := r.store.View(ctx, model.PrefixNode+name, &rec)
	if err != nil {
		return fmt.Errorf("load package %s: %w", name, err)
	}

	if !found || rec.Archived {
		return nil
	}

	outcome := r.probeRecord(ctx, &rec)

	var vrec model.VersionRecord

	return r.store.Update(ctx, model.PrefixVersions+name, &vrec, func(bool) error {
		applyOutcome(&vrec, outcome)

		return nil
	})
}

// probeRecord dispatches and runs one probe, guarding the never-go-back
// rule a second time at the sweep level.
func (r *Runner) probeRecord(ctx context.Context, rec *model.PackageRecord) Outcome {
	prober, err := r.deduce(rec)
	if err != nil {
		return Unavailable("%v", err)
	}

	outcome := prober.Probe(ctx, rec)

	switch outcome.Kind {
	case OutcomeFound:
		if rec.Version != "" && !vercmp.Less(rec.Version, outcome.Version) {
			r.logger.Warn("prober returned a non-newer version",
				slog.String("package", rec.Name),
				slog.String("prober", prober.Name()),
				slog.String("current", rec.Version),
				slog.String("candidate", outcome.Version))

			return Unchanged()
		}

		r.logger.Info("new upstream version",
			slog.String("package", rec.Name),
			slog.String("prober", prober.Name()),
			slog.String("version", outcome.Version))
	case OutcomeUnavailable:
		r.logger.Warn("upstream unavailable",
			slog.String("package", rec.Name),
			slog.String("prober", prober.Name()),
			slog.String("reason", outcome.Reason))
	case OutcomeUnchanged:
		r.logger.Debug("no newer version",
			slog.String("package", rec.Name),
			slog.String("prober", prober.Name()))
	}

	return outcome
}

// applyOutcome rewrites the version record. A found version replaces
// new_version and clears bad; unchanged clears both; unavailable keeps
// new_version and records the failure.
func applyOutcome(vrec *model.VersionRecord, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeFound:
		vrec.NewVersion = outcome.Version
		vrec.Bad = nil
	case OutcomeUnchanged:
		vrec.NewVersion = ""
		vrec.Bad = nil
	case OutcomeUnavailable:
		vrec.Bad = &model.BadInfo{Kind: "version_probe", Reason: outcome.Reason}
	}
}
