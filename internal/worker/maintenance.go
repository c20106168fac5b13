package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/repair"
)

// StartMaintenanceWorker runs one diagnostics cycle per tick, builds
// repair recommendations from the report, and — in "execute" mode —
// runs each through the bounded repair runner, recording whether the
// action actually improved the composite score.
func StartMaintenanceWorker(ctx context.Context, deps Deps, cfg Config) *Handle {
	return runTicker(ctx, "maintenance", cfg.MaintenanceInterval, func(ctx context.Context) error {
		return runMaintenanceCycle(ctx, deps, cfg)
	})
}

func runMaintenanceCycle(ctx context.Context, deps Deps, cfg Config) error {
	report, err := diagnostics.Run(ctx, deps.Store, deps.Tracker, cfg.StaleLeaseTimeout)
	if err != nil {
		return err
	}

	recs := repair.Recommend(report)
	if len(recs) == 0 {
		return nil
	}

	if cfg.MaintenanceMode != "execute" {
		for _, rec := range recs {
			slog.Info("maintenance: recommendation (observe mode)", "action", rec.Action, "reason", rec.Reason)
		}
		return nil
	}

	if deps.Repair == nil {
		slog.Warn("maintenance: execute mode requested but no repair runner configured")
		return nil
	}

	for _, rec := range recs {
		if !deps.Repair.Allowed(rec.Action, time.Now()) {
			slog.Debug("maintenance: action not allowed this cycle", "action", rec.Action)
			continue
		}

		preScore := report.Composite
		if err := deps.Repair.Execute(ctx, rec.Action); err != nil {
			slog.Error("maintenance: repair action failed", "action", rec.Action, "error", err)
			continue
		}

		postReport, err := diagnostics.Run(ctx, deps.Store, deps.Tracker, cfg.StaleLeaseTimeout)
		postScore := preScore
		if err == nil {
			postScore = postReport.Composite
		}
		deps.Repair.RecordOutcome(rec.Action, preScore, postScore)
		slog.Info("maintenance: executed repair action", "action", rec.Action, "reason", rec.Reason, "pre", preScore, "post", postScore)
	}
	return nil
}
