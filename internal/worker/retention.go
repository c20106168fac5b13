package worker

import (
	"context"
	"log/slog"
)

// StartRetentionWorker periodically sweeps tombstoned memories older
// than cfg.RetentionHorizon, cascading to their vector index rows via
// the store's own bounded delete. Pinned memories are never swept: the
// store's query excludes them unconditionally.
func StartRetentionWorker(ctx context.Context, deps Deps, cfg Config) *Handle {
	return runTicker(ctx, "retention", cfg.RetentionInterval, func(ctx context.Context) error {
		removed, err := deps.Store.SweepTombstones(ctx, cfg.RetentionHorizon)
		if err != nil {
			return err
		}
		if removed > 0 {
			slog.Info("retention: swept tombstones", "removed", removed)
		}
		return nil
	})
}
