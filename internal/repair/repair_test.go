package repair

import (
	"testing"
	"time"

	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/store"
)

func TestRecommendDeadRate(t *testing.T) {
	report := &diagnostics.Report{QueueStats: &store.QueueStats{DeadRate24h: 0.05}}
	recs := Recommend(report)
	if !containsAction(recs, ActionRequeueDeadJobs) {
		t.Errorf("expected %s recommendation, got %+v", ActionRequeueDeadJobs, recs)
	}
}

func TestRecommendStaleLeases(t *testing.T) {
	report := &diagnostics.Report{QueueStats: &store.QueueStats{StaleLeaseCount: 3}}
	recs := Recommend(report)
	if !containsAction(recs, ActionReleaseStaleLeases) {
		t.Errorf("expected %s recommendation, got %+v", ActionReleaseStaleLeases, recs)
	}
}

func TestRecommendFTSMismatch(t *testing.T) {
	report := &diagnostics.Report{IndexStats: &store.IndexStats{FTSRowCount: 50, ActiveMemoryCount: 100}}
	recs := Recommend(report)
	if !containsAction(recs, ActionCheckFTSConsistency) {
		t.Errorf("expected %s recommendation, got %+v", ActionCheckFTSConsistency, recs)
	}
}

func TestRecommendTombstoneRatio(t *testing.T) {
	report := &diagnostics.Report{StorageStats: &store.StorageStats{TombstoneRatio: 0.4}}
	recs := Recommend(report)
	if !containsAction(recs, ActionTriggerRetentionSweep) {
		t.Errorf("expected %s recommendation, got %+v", ActionTriggerRetentionSweep, recs)
	}
}

func TestRecommendNoneWhenHealthy(t *testing.T) {
	report := &diagnostics.Report{
		QueueStats:   &store.QueueStats{},
		StorageStats: &store.StorageStats{},
		IndexStats:   &store.IndexStats{FTSRowCount: 100, ActiveMemoryCount: 100},
	}
	if recs := Recommend(report); len(recs) != 0 {
		t.Errorf("expected no recommendations for a healthy report, got %+v", recs)
	}
}

func TestRunnerCooldownBlocksImmediateRerun(t *testing.T) {
	r := NewRunner(nil, time.Minute, time.Hour, time.Minute, 10)
	now := time.Now()
	if !r.Allowed(ActionReleaseStaleLeases, now) {
		t.Fatalf("expected first run to be allowed")
	}
	r.markRun(ActionReleaseStaleLeases, now)
	if r.Allowed(ActionReleaseStaleLeases, now.Add(10*time.Second)) {
		t.Errorf("expected cooldown to block a rerun 10s later")
	}
	if !r.Allowed(ActionReleaseStaleLeases, now.Add(2*time.Minute)) {
		t.Errorf("expected action to be allowed again after the cooldown elapses")
	}
}

func TestRunnerHourlyBudget(t *testing.T) {
	r := NewRunner(nil, 0, 0, 0, 2)
	now := time.Now()
	r.markRun(ActionRequeueDeadJobs, now)
	r.markRun(ActionRequeueDeadJobs, now.Add(time.Second))
	if r.Allowed(ActionRequeueDeadJobs, now.Add(2*time.Second)) {
		t.Errorf("expected hourly budget of 2 to block a third run within the window")
	}
	if !r.Allowed(ActionRequeueDeadJobs, now.Add(2*time.Hour)) {
		t.Errorf("expected budget to reset after the hourly window rolls over")
	}
}

func TestRunnerHaltsAfterThreeNonImprovingCycles(t *testing.T) {
	r := NewRunner(nil, time.Minute, time.Hour, 0, 10)
	r.RecordOutcome(ActionCheckFTSConsistency, 0.5, 0.5)
	r.RecordOutcome(ActionCheckFTSConsistency, 0.5, 0.4)
	if r.Halted(ActionCheckFTSConsistency) {
		t.Fatalf("should not halt before three consecutive non-improving cycles")
	}
	r.RecordOutcome(ActionCheckFTSConsistency, 0.4, 0.4)
	if !r.Halted(ActionCheckFTSConsistency) {
		t.Fatalf("expected halt after three consecutive non-improving cycles")
	}
	if r.Allowed(ActionCheckFTSConsistency, time.Now()) {
		t.Errorf("a halted action must not be allowed")
	}
}

func TestRunnerResetClearsHalt(t *testing.T) {
	r := NewRunner(nil, time.Minute, time.Hour, 0, 10)
	r.RecordOutcome(ActionTriggerRetentionSweep, 0.5, 0.4)
	r.RecordOutcome(ActionTriggerRetentionSweep, 0.5, 0.4)
	r.RecordOutcome(ActionTriggerRetentionSweep, 0.5, 0.4)
	if !r.Halted(ActionTriggerRetentionSweep) {
		t.Fatalf("expected halt")
	}
	r.Reset(ActionTriggerRetentionSweep)
	if r.Halted(ActionTriggerRetentionSweep) {
		t.Errorf("expected Reset to clear the halted state")
	}
}

func TestRunnerImprovementResetsStreak(t *testing.T) {
	r := NewRunner(nil, time.Minute, time.Hour, 0, 10)
	r.RecordOutcome(ActionRequeueDeadJobs, 0.5, 0.4)
	r.RecordOutcome(ActionRequeueDeadJobs, 0.5, 0.4)
	r.RecordOutcome(ActionRequeueDeadJobs, 0.5, 0.9) // improved: resets the streak
	r.RecordOutcome(ActionRequeueDeadJobs, 0.5, 0.4)
	r.RecordOutcome(ActionRequeueDeadJobs, 0.5, 0.4)
	if r.Halted(ActionRequeueDeadJobs) {
		t.Errorf("an improving cycle should reset the non-improving streak, not accumulate across it")
	}
}

func containsAction(recs []Recommendation, a Action) bool {
	for _, r := range recs {
		if r.Action == a {
			return true
		}
	}
	return false
}
