// Package scheduler drives the migration loop: for each registered
// migrator it prunes the dependency graph down to actionable nodes,
// walks them in cyclic topological order, and turns each one into a
// pull request through the forge gateway, gated on time, rate, disk,
// and memory budgets.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feedstock-bot/feedbot/internal/budget"
	"github.com/feedstock-bot/feedbot/internal/observability"
	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/forge"
	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// Defaults for operator-tunable knobs.
const (
	// DefaultRateFloor stops PR opening while keeping budget for the
	// tracker and other concurrent jobs.
	DefaultRateFloor = 500

	// DefaultRetryWindow is how long a closed-unmerged PR suppresses
	// re-attempts of the same fingerprint.
	DefaultRetryWindow = 21 * 24 * time.Hour

	// DefaultWorkers bounds concurrent node executions.
	DefaultWorkers = 4
)

// errRateExhausted aborts the whole run, not just one migrator.
var errRateExhausted = errors.New("scheduler: forge rate budget exhausted")

// Config carries the operator-facing scheduler settings.
type Config struct {
	// Org is the upstream organization owning the feedstocks.
	Org string

	// RateFloor is the forge API budget below which no PR is opened.
	RateFloor int

	// RetryWindow suppresses re-attempts after a closed-unmerged PR.
	RetryWindow time.Duration

	// WorkDir is the scratch root for working trees.
	WorkDir string

	// Workers bounds the node-execution pool.
	Workers int

	// DryRun disables all forge writes.
	DryRun bool

	// Labels are added to every opened PR, best-effort.
	Labels []string

	// RunURL identifies this run in PR bodies.
	RunURL string
}

func (c *Config) applyDefaults() {
	if c.RateFloor == 0 {
		c.RateFloor = DefaultRateFloor
	}

	if c.RetryWindow == 0 {
		c.RetryWindow = DefaultRetryWindow
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
}

// Scheduler runs the migration loop.
type Scheduler struct {
	store      *lazyjson.Store
	gateway    forge.Gateway
	registry   *migrators.Registry
	gate       *budget.Gate
	metrics    *observability.Metrics
	rerenderer Rerenderer
	logger     *slog.Logger
	cfg        Config

	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGate replaces the default resource gate.
func WithGate(gate *budget.Gate) Option {
	return func(s *Scheduler) { s.gate = gate }
}

// WithMetrics attaches the instrument set.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRerenderer replaces the default no-op re-renderer.
func WithRerenderer(r Rerenderer) Option {
	return func(s *Scheduler) { s.rerenderer = r }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New builds a scheduler over the store and gateway.
func New(store *lazyjson.Store, gateway forge.Gateway, registry *migrators.Registry,
	cfg Config, opts ...Option,
) *Scheduler {
	cfg.applyDefaults()

	s := &Scheduler{
		store:      store,
		gateway:    gateway,
		registry:   registry,
		gate:       budget.NewGate(),
		metrics:    observability.NewMetrics(),
		rerenderer: &NopRerenderer{},
		logger:     slog.Default(),
		cfg:        cfg,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes one full cycle over all registered migrators in
// registration order. Budget exhaustion is a clean stop, not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	packages, err := s.loadPackages(ctx)
	if err != nil {
		return err
	}

	if len(packages) == 0 {
		s.logger.Info("empty graph, nothing to do")

		return nil
	}

	graph := buildGraph(packages)

	for _, m := range s.registry.All() {
		if err := s.runMigrator(ctx, m, graph, packages); err != nil {
			if errors.Is(err, errRateExhausted) {
				s.logger.Warn("rate budget exhausted, stopping all migrators")

				return nil
			}

			return err
		}
	}

	return nil
}

// loadPackages reads every package with its version and PR-info records.
// Corrupt records are skipped with a warning; they surface in the status
// report instead of killing the run.
func (s *Scheduler) loadPackages(ctx context.Context) (map[string]*model.Package, error) {
	keys, err := s.store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	packages := make(map[string]*model.Package, len(keys))

	for _, key := range keys {
		name := strings.TrimPrefix(key, model.PrefixNode)

		pkg, err := LoadPackage(ctx, s.store, name)
		if err != nil {
			if errors.Is(err, lazyjson.ErrCorruptRecord) {
				s.logger.Warn("skipping corrupt record",
					slog.String("key", key), slog.Any("error", err))

				continue
			}

			return nil, err
		}

		if pkg != nil {
			packages[name] = pkg
		}
	}

	return packages, nil
}

// LoadPackage assembles the Package view for one node. Missing version
// or PR-info keys yield zero records. A missing node record yields nil.
func LoadPackage(ctx context.Context, store *lazyjson.Store, name string) (*model.Package, error) {
	pkg := &model.Package{
		Name:    name,
		Record:  &model.PackageRecord{},
		Version: &model.VersionRecord{},
		PRInfo:  &model.PRInfoRecord{},
	}

	found, err := store.View(ctx, model.PrefixNode+name, pkg.Record)
	if err != nil {
		return nil, fmt.Errorf("load package %s: %w", name, err)
	}

	if !found {
		return nil, nil
	}

	if _, err := store.View(ctx, model.PrefixVersions+name, pkg.Version); err != nil {
		return nil, fmt.Errorf("load versions %s: %w", name, err)
	}

	if _, err := store.View(ctx, model.PrefixPRInfo+name, pkg.PRInfo); err != nil {
		return nil, fmt.Errorf("load pr info %s: %w", name, err)
	}

	return pkg, nil
}

// buildGraph derives the dependency graph from the loaded records.
func buildGraph(packages map[string]*model.Package) *depgraph.Graph {
	reqs := make(map[string]model.Requirements, len(packages))
	for name, pkg := range packages {
		reqs[name] = pkg.Record.Requirements
	}

	return depgraph.Build(reqs)
}

// runMigrator walks one migrator's pruned subgraph through the bounded
// worker pool.
func (s *Scheduler) runMigrator(ctx context.Context, m migrators.Migrator,
	graph *depgraph.Graph, packages map[string]*model.Package,
) error {
	sub := s.subgraphFor(m, graph, packages)
	order := m.Order(sub, graph)

	s.logger.Info("running migrator",
		slog.String("migrator", m.Name()),
		slog.Int("eligible", len(order)))

	var (
		wg          sync.WaitGroup
		reserved    atomic.Int64
		rateStopped atomic.Bool
	)

	sem := make(chan struct{}, s.cfg.Workers)
	limit := int64(m.PRLimit())

dispatch:
	for _, name := range order {
		pkg, ok := packages[name]
		if !ok {
			continue
		}

		// Take a pool slot before the gating checks so that, at pool
		// size one, every check observes the previous node's effects.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		if ctx.Err() != nil || rateStopped.Load() {
			<-sem

			break
		}

		if err := s.gate.Check(); err != nil {
			s.logger.Warn("resource budget refused, stopping migrator",
				slog.String("migrator", m.Name()), slog.Any("error", err))
			<-sem

			break
		}

		// Reserve a slot against the PR limit before the worker launches,
		// so in-flight nodes count toward the cap. Workers that end up
		// opening nothing give the slot back.
		if reserved.Add(1) > limit {
			s.logger.Info("pr limit reached",
				slog.String("migrator", m.Name()), slog.Int64("limit", limit))
			<-sem

			break
		}

		remaining, err := s.gateway.RateRemaining(ctx)
		if err != nil {
			s.logger.Warn("rate query failed", slog.Any("error", err))
			<-sem

			break
		}

		s.metrics.RateRemaining.Set(float64(remaining))

		if remaining <= s.cfg.RateFloor {
			rateStopped.Store(true)
			<-sem

			break
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			started := s.now()
			result := s.processNode(ctx, m, pkg)
			s.metrics.NodeDuration.WithLabelValues(m.Name()).
				Observe(s.now().Sub(started).Seconds())

			switch result {
			case resultOpened:
			case resultRateLimited:
				reserved.Add(-1)
				rateStopped.Store(true)
			default:
				reserved.Add(-1)
			}
		}()
	}

	wg.Wait()

	if rateStopped.Load() {
		return errRateExhausted
	}

	return ctx.Err()
}

// subgraphFor applies the three pruning passes: archived, filtered, and
// awaiting-parents. Predecessors inside the same strongly-connected
// component never block each other.
func (s *Scheduler) subgraphFor(m migrators.Migrator, graph *depgraph.Graph,
	packages map[string]*model.Package,
) *depgraph.Graph {
	sub := graph.Prune(func(name string) bool {
		pkg, ok := packages[name]
		if !ok || pkg.Record.Archived {
			return false
		}

		return !m.Filter(pkg)
	})

	component := map[string]int{}
	for i, scc := range sub.SCC() {
		for _, name := range scc {
			component[name] = i
		}
	}

	waiting := map[string]bool{}

	for _, name := range sub.Nodes() {
		for _, pred := range sub.Predecessors(name) {
			if component[pred] == component[name] {
				continue
			}

			if !landed(m, packages[pred]) {
				waiting[name] = true

				break
			}
		}
	}

	if len(waiting) == 0 {
		return sub
	}

	return sub.Prune(func(name string) bool { return !waiting[name] })
}

// landed reports whether the migrator's change for pkg has merged.
func landed(m migrators.Migrator, pkg *model.Package) bool {
	if pkg == nil {
		return false
	}

	entry := pkg.PRInfo.Find(m.Fingerprint(pkg))

	return entry != nil && entry.Merged
}

// dedupDecision is the de-duplication outcome for one (migrator, package).
type dedupDecision int

const (
	dedupProceed dedupDecision = iota
	dedupSkipOpen
	dedupDone
	dedupSkipRecentlyClosed
)

// dedupe inspects PR-info for an earlier attempt with this fingerprint.
func (s *Scheduler) dedupe(m migrators.Migrator, pkg *model.Package) dedupDecision {
	entry := pkg.PRInfo.Find(m.Fingerprint(pkg))
	if entry == nil {
		return dedupProceed
	}

	switch {
	case entry.Merged:
		return dedupDone
	case entry.PRState == model.PRStateClosed:
		closedAt := entry.ClosedAt
		if closedAt.IsZero() {
			closedAt = entry.Timestamp
		}

		if s.now().Sub(closedAt) > s.cfg.RetryWindow {
			return dedupProceed
		}

		return dedupSkipRecentlyClosed
	default:
		return dedupSkipOpen
	}
}
