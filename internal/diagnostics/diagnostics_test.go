package diagnostics

import (
	"testing"
	"time"

	"github.com/brunobiangulo/mnemo/internal/store"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Status
	}{
		{0.95, StatusHealthy},
		{0.8, StatusHealthy},
		{0.6, StatusDegraded},
		{0.5, StatusDegraded},
		{0.2, StatusUnhealthy},
	}
	for _, c := range cases {
		if got := statusFor(c.score); got != c.want {
			t.Errorf("statusFor(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestScoreQueueHealthyWhenEmpty(t *testing.T) {
	ds := scoreQueue(&store.QueueStats{})
	if ds.Status != StatusHealthy {
		t.Errorf("empty queue should be healthy, got %v (score %v)", ds.Status, ds.Score)
	}
}

func TestScoreQueuePenalizesDeadRateAndStaleLeases(t *testing.T) {
	healthy := scoreQueue(&store.QueueStats{})
	sick := scoreQueue(&store.QueueStats{DeadRate24h: 0.2, StaleLeaseCount: 10, PendingDepth: 300, OldestPendingAge: 2 * time.Hour})
	if sick.Score >= healthy.Score {
		t.Errorf("expected degraded queue score below healthy baseline, got sick=%v healthy=%v", sick.Score, healthy.Score)
	}
	if sick.Status == StatusHealthy {
		t.Errorf("expected non-healthy status for a queue in this state, got %v", sick.Status)
	}
}

func TestScoreStorageTombstoneRatio(t *testing.T) {
	low := scoreStorage(&store.StorageStats{TombstoneRatio: 0.1})
	high := scoreStorage(&store.StorageStats{TombstoneRatio: 0.9})
	if low.Status != StatusHealthy {
		t.Errorf("low tombstone ratio expected healthy, got %v", low.Status)
	}
	if high.Score >= low.Score {
		t.Errorf("high tombstone ratio should score lower: high=%v low=%v", high.Score, low.Score)
	}
}

func TestScoreIndexMismatchPenalized(t *testing.T) {
	parity := scoreIndex(&store.IndexStats{FTSRowCount: 100, ActiveMemoryCount: 100, EmbeddingCount: 100})
	mismatch := scoreIndex(&store.IndexStats{FTSRowCount: 50, ActiveMemoryCount: 100, EmbeddingCount: 100})
	if parity.Status != StatusHealthy {
		t.Errorf("matched FTS/memory counts should be healthy, got %v", parity.Status)
	}
	if mismatch.Score >= parity.Score {
		t.Errorf("FTS undercount should be penalized: mismatch=%v parity=%v", mismatch.Score, parity.Score)
	}
}

func TestScoreIndexMissingEmbeddingsPenalized(t *testing.T) {
	full := scoreIndex(&store.IndexStats{FTSRowCount: 100, ActiveMemoryCount: 100, EmbeddingCount: 100})
	none := scoreIndex(&store.IndexStats{FTSRowCount: 100, ActiveMemoryCount: 100, EmbeddingCount: 0})
	if none.Score >= full.Score {
		t.Errorf("zero embedding coverage should score lower than full coverage: none=%v full=%v", none.Score, full.Score)
	}
}

func TestScoreConnectorNoConnectorsIsHealthy(t *testing.T) {
	ds := scoreConnector(&store.ConnectorStats{})
	if ds.Status != StatusHealthy {
		t.Errorf("zero connectors should be healthy by default, got %v", ds.Status)
	}
}

func TestScoreConnectorErrorRatioPenalized(t *testing.T) {
	ds := scoreConnector(&store.ConnectorStats{Count: 4, ErrorCount: 4, OldestErrorAge: 48 * time.Hour})
	if ds.Status == StatusHealthy {
		t.Errorf("all-erroring connectors should not be healthy, got score %v", ds.Score)
	}
}

func TestScoreProviderNilTrackerIsHealthy(t *testing.T) {
	ds := scoreProvider(nil)
	if ds.Status != StatusHealthy {
		t.Errorf("nil tracker should default to healthy, got %v", ds.Status)
	}
}

func TestScoreProviderRingBufferPenalizesFailures(t *testing.T) {
	tracker := NewProviderTracker(10)
	for i := 0; i < 8; i++ {
		tracker.Record(OutcomeFailure)
	}
	for i := 0; i < 2; i++ {
		tracker.Record(OutcomeSuccess)
	}
	ds := scoreProvider(tracker)
	if ds.Status == StatusHealthy {
		t.Errorf("80%% failure rate should not score healthy, got %v", ds.Score)
	}
}

func TestProviderTrackerEvictsOldestOnOverflow(t *testing.T) {
	tracker := NewProviderTracker(3)
	tracker.Record(OutcomeFailure)
	tracker.Record(OutcomeFailure)
	tracker.Record(OutcomeFailure)
	// Buffer is full of failures; three successes should fully evict them.
	tracker.Record(OutcomeSuccess)
	tracker.Record(OutcomeSuccess)
	tracker.Record(OutcomeSuccess)
	successes, failures, timeouts := tracker.Stats()
	if successes != 3 || failures != 0 || timeouts != 0 {
		t.Errorf("expected eviction to zero out failures, got successes=%d failures=%d timeouts=%d", successes, failures, timeouts)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-1, 0}, {0.5, 0.5}, {2, 1},
	}
	for _, c := range cases {
		if got := clamp01(c.in); got != c.want {
			t.Errorf("clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
