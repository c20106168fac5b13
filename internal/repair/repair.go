// Package repair executes the maintenance worker's bounded, idempotent
// repair actions against the store: requeueing dead jobs, releasing
// stale leases, rebuilding the FTS mirror, and sweeping tombstones.
// Every action is gated by a per-action cooldown and hourly budget, and
// halts after three consecutive cycles that fail to improve the
// diagnostics score it was invoked to fix.
package repair

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// Action is one of the four bounded repair operations.
type Action string

const (
	ActionRequeueDeadJobs       Action = "requeue_dead_jobs"
	ActionReleaseStaleLeases    Action = "release_stale_leases"
	ActionCheckFTSConsistency   Action = "check_fts_consistency"
	ActionTriggerRetentionSweep Action = "trigger_retention_sweep"
)

// Recommendation pairs an action with the diagnostics signal that
// triggered it, per spec §4.11 step 2.
type Recommendation struct {
	Action Action
	Reason string
}

// Recommend inspects a diagnostics report and proposes one
// recommendation per violated threshold.
func Recommend(report *diagnostics.Report) []Recommendation {
	var recs []Recommendation
	if report.QueueStats != nil && report.QueueStats.DeadRate24h > 0.01 {
		recs = append(recs, Recommendation{ActionRequeueDeadJobs, fmt.Sprintf("dead-rate %.1f%% over 24h exceeds 1%%", report.QueueStats.DeadRate24h*100)})
	}
	if report.QueueStats != nil && report.QueueStats.StaleLeaseCount > 0 {
		recs = append(recs, Recommendation{ActionReleaseStaleLeases, fmt.Sprintf("%d leases held past the stale threshold", report.QueueStats.StaleLeaseCount)})
	}
	if report.IndexStats != nil && report.IndexStats.FTSRowCount > 0 {
		memRatio := float64(report.IndexStats.ActiveMemoryCount) / float64(report.IndexStats.FTSRowCount)
		if memRatio > 1.1 {
			recs = append(recs, Recommendation{ActionCheckFTSConsistency, fmt.Sprintf("active memories exceed FTS rows by %.0f%%", (memRatio-1)*100)})
		}
	}
	if report.StorageStats != nil && report.StorageStats.TombstoneRatio > 0.3 {
		recs = append(recs, Recommendation{ActionTriggerRetentionSweep, fmt.Sprintf("tombstone ratio %.0f%% exceeds 30%%", report.StorageStats.TombstoneRatio*100)})
	}
	return recs
}

// Runner gates and executes repair actions. One Runner is shared across
// maintenance cycles so its cooldown/budget/halt bookkeeping persists.
type Runner struct {
	store             *store.Store
	staleLeaseTimeout time.Duration
	retentionHorizon  time.Duration
	cooldown          time.Duration
	hourlyBudget      int

	mu           sync.Mutex
	lastRun      map[Action]time.Time
	windowStart  map[Action]time.Time
	windowCount  map[Action]int
	nonImproving map[Action]int
	halted       map[Action]bool
}

// NewRunner creates a Runner. cooldown defaults to 5 minutes and
// hourlyBudget to 6 when zero.
func NewRunner(s *store.Store, staleLeaseTimeout, retentionHorizon, cooldown time.Duration, hourlyBudget int) *Runner {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if hourlyBudget <= 0 {
		hourlyBudget = 6
	}
	return &Runner{
		store:             s,
		staleLeaseTimeout: staleLeaseTimeout,
		retentionHorizon:  retentionHorizon,
		cooldown:          cooldown,
		hourlyBudget:      hourlyBudget,
		lastRun:           map[Action]time.Time{},
		windowStart:       map[Action]time.Time{},
		windowCount:       map[Action]int{},
		nonImproving:      map[Action]int{},
		halted:            map[Action]bool{},
	}
}

// Allowed reports whether action may run right now: not halted, past
// its cooldown, and under its hourly budget.
func (r *Runner) Allowed(action Action, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted[action] {
		return false
	}
	if last, ok := r.lastRun[action]; ok && now.Sub(last) < r.cooldown {
		return false
	}
	start, ok := r.windowStart[action]
	if !ok || now.Sub(start) >= time.Hour {
		return true // window about to roll over in Execute
	}
	return r.windowCount[action] < r.hourlyBudget
}

// Reset clears an action's halted state and non-improving streak,
// the human override spec §4.11 step 4 calls for.
func (r *Runner) Reset(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted[action] = false
	r.nonImproving[action] = 0
}

// Halted reports whether action is currently halted awaiting reset.
func (r *Runner) Halted(action Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted[action]
}

func (r *Runner) markRun(action Action, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun[action] = now
	start, ok := r.windowStart[action]
	if !ok || now.Sub(start) >= time.Hour {
		r.windowStart[action] = now
		r.windowCount[action] = 0
	}
	r.windowCount[action]++
}

// RecordOutcome folds a post-execution diagnostics comparison into the
// halt bookkeeping: three consecutive non-improving cycles halt the
// action until Reset is called.
func (r *Runner) RecordOutcome(action Action, preScore, postScore float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if postScore > preScore {
		r.nonImproving[action] = 0
		return
	}
	r.nonImproving[action]++
	if r.nonImproving[action] >= 3 {
		r.halted[action] = true
	}
}

// Execute runs action's write, recording the attempt for cooldown and
// budget bookkeeping regardless of outcome. Every action goes through
// the store's own bounded, idempotent statement, never a bare DELETE.
func (r *Runner) Execute(ctx context.Context, action Action) error {
	r.markRun(action, time.Now())
	switch action {
	case ActionRequeueDeadJobs:
		_, err := r.store.RequeueDeadJobs(ctx, 100)
		return err
	case ActionReleaseStaleLeases:
		_, err := r.store.ReapStaleLeases(ctx, r.staleLeaseTimeout)
		return err
	case ActionCheckFTSConsistency:
		return r.store.RebuildFTS(ctx)
	case ActionTriggerRetentionSweep:
		_, err := r.store.SweepTombstones(ctx, r.retentionHorizon)
		return err
	default:
		return fmt.Errorf("repair: unknown action %q", action)
	}
}
