// Package events reacts to external forge triggers: a PR changing state
// or a push landing on a feedstock. Reactions are targeted single-node
// passes over the same machinery the sweeping verbs use.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/probes"
	"github.com/feedstock-bot/feedbot/pkg/tracker"
)

// Kind is the trigger type.
type Kind string

// Supported trigger kinds.
const (
	KindPRUpdate Kind = "pr"
	KindPush     Kind = "push"
)

// Reactor errors.
var (
	ErrUnknownKind      = errors.New("events: unknown event kind")
	ErrUnknownFeedstock = errors.New("events: no package for feedstock")
)

// Reactor dispatches triggers to targeted store updates.
type Reactor struct {
	store   *lazyjson.Store
	tracker *tracker.Tracker
	prober  *probes.Runner
	logger  *slog.Logger
}

// New builds a reactor.
func New(store *lazyjson.Store, tr *tracker.Tracker, prober *probes.Runner,
	logger *slog.Logger,
) *Reactor {
	return &Reactor{store: store, tracker: tr, prober: prober, logger: logger}
}

// React handles one trigger. For pr events uid is the forge's PR id;
// for push events it is the feedstock name.
func (r *Reactor) React(ctx context.Context, kind Kind, uid string) error {
	switch kind {
	case KindPRUpdate:
		return r.reactPRUpdate(ctx, uid)
	case KindPush:
		return r.reactPush(ctx, uid)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// reactPRUpdate finds the owning package and refreshes just its PRs.
func (r *Reactor) reactPRUpdate(ctx context.Context, uid string) error {
	id, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		return fmt.Errorf("events: pr uid must be a forge id: %w", err)
	}

	name, fingerprint, err := r.tracker.FindByPRID(ctx, id)
	if err != nil {
		return err
	}

	r.logger.Info("pr update event",
		slog.String("package", name),
		slog.String("fingerprint", fingerprint),
		slog.Int64("pr_id", id))

	return r.tracker.TrackPackage(ctx, name)
}

// reactPush re-probes the pushed feedstock's upstream and refreshes its
// PR state; migrators whose fingerprints shifted pick the node up on the
// next cycle.
func (r *Reactor) reactPush(ctx context.Context, feedstock string) error {
	name, err := r.packageForFeedstock(ctx, feedstock)
	if err != nil {
		return err
	}

	r.logger.Info("push event",
		slog.String("feedstock", feedstock),
		slog.String("package", name))

	if err := r.prober.ProbeOne(ctx, name); err != nil {
		return err
	}

	return r.tracker.TrackPackage(ctx, name)
}

// packageForFeedstock resolves a feedstock name to its package.
func (r *Reactor) packageForFeedstock(ctx context.Context, feedstock string) (string, error) {
	// Most packages share their feedstock's name; try the direct key
	// before scanning.
	var rec model.PackageRecord

	found, err := r.store.View(ctx, model.PrefixNode+feedstock, &rec)
	if err == nil && found {
		return feedstock, nil
	}

	keys, err := r.store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return "", fmt.Errorf("list packages: %w", err)
	}

	for _, key := range keys {
		var candidate model.PackageRecord

		if _, err := r.store.View(ctx, key, &candidate); err != nil {
			continue
		}

		if candidate.FeedstockName == feedstock {
			return strings.TrimPrefix(key, model.PrefixNode), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownFeedstock, feedstock)
}
