// Package mappings derives lookup tables from the per-package records:
// declared import names to providing packages, and package names to
// feedstock repositories.
package mappings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// Builder rebuilds the mapping records from the node records.
type Builder struct {
	store  *lazyjson.Store
	logger *slog.Logger
}

// NewBuilder builds a mapping builder over the store.
func NewBuilder(store *lazyjson.Store, logger *slog.Logger) *Builder {
	return &Builder{store: store, logger: logger}
}

// BuildImportToPackage rebuilds the import→package table and returns the
// number of distinct import names mapped.
func (b *Builder) BuildImportToPackage(ctx context.Context) (int, error) {
	records, err := b.loadRecords(ctx)
	if err != nil {
		return 0, err
	}

	imports := map[string][]string{}

	for name, rec := range records {
		for _, imp := range rec.ImportNames {
			imports[imp] = append(imports[imp], name)
		}
	}

	for imp := range imports {
		sort.Strings(imports[imp])
	}

	var mapping model.ImportMappingRecord

	err = b.store.Update(ctx, model.KeyImportToPackage, &mapping, func(bool) error {
		mapping.Imports = imports

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("write import mapping: %w", err)
	}

	return len(imports), nil
}

// BuildPackageToFeedstock rebuilds the package→feedstock table.
func (b *Builder) BuildPackageToFeedstock(ctx context.Context) (int, error) {
	records, err := b.loadRecords(ctx)
	if err != nil {
		return 0, err
	}

	feedstocks := make(map[string]string, len(records))

	for name, rec := range records {
		feedstock := rec.FeedstockName
		if feedstock == "" {
			feedstock = name
		}

		feedstocks[name] = feedstock
	}

	var mapping model.FeedstockMappingRecord

	err = b.store.Update(ctx, model.KeyPackageFeedstocks, &mapping, func(bool) error {
		mapping.Feedstocks = feedstocks

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("write feedstock mapping: %w", err)
	}

	return len(feedstocks), nil
}

// BuildAll rebuilds every mapping table.
func (b *Builder) BuildAll(ctx context.Context) error {
	if _, err := b.BuildImportToPackage(ctx); err != nil {
		return err
	}

	_, err := b.BuildPackageToFeedstock(ctx)

	return err
}

// loadRecords reads every node record, skipping corrupt keys.
func (b *Builder) loadRecords(ctx context.Context) (map[string]*model.PackageRecord, error) {
	keys, err := b.store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	records := make(map[string]*model.PackageRecord, len(keys))

	for _, key := range keys {
		var rec model.PackageRecord

		found, err := b.store.View(ctx, key, &rec)
		if err != nil {
			if errors.Is(err, lazyjson.ErrCorruptRecord) {
				b.logger.Warn("corrupt record", slog.String("key", key))

				continue
			}

			return nil, err
		}

		if found {
			records[strings.TrimPrefix(key, model.PrefixNode)] = &rec
		}
	}

	return records, nil
}
