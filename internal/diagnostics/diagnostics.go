// Package diagnostics scores the health of the store's six domains
// (queue, storage, index, provider, mutation, connector) purely from
// reads, mirroring the teacher's preference for aggregate-count stats
// (store.DBStats) over materialized row lists.
package diagnostics

import (
	"context"
	"time"

	"github.com/brunobiangulo/mnemo/internal/store"
)

// Status buckets a domain or composite score per spec thresholds.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func statusFor(score float64) Status {
	switch {
	case score >= 0.8:
		return StatusHealthy
	case score >= 0.5:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// DomainScore is one domain's verdict.
type DomainScore struct {
	Score  float64
	Status Status
}

func scoreOf(score float64) DomainScore {
	return DomainScore{Score: clamp01(score), Status: statusFor(clamp01(score))}
}

// Report is a full diagnostics cycle: six domain scores plus the fixed
// convex-combination composite.
type Report struct {
	Queue     DomainScore
	Storage   DomainScore
	Index     DomainScore
	Provider  DomainScore
	Mutation  DomainScore
	Connector DomainScore
	Composite float64

	QueueStats     *store.QueueStats
	StorageStats   *store.StorageStats
	IndexStats     *store.IndexStats
	MutationStats  *store.MutationStats
	ConnectorStats *store.ConnectorStats
}

// Weights are fixed per spec §4.10, never configurable.
const (
	weightQueue     = 0.28
	weightStorage   = 0.14
	weightIndex     = 0.19
	weightProvider  = 0.24
	weightMutation  = 0.10
	weightConnector = 0.05
)

// Run executes all six scorers and composites them. staleLeaseTimeout
// is threaded through to the store's queue stats query (leases held
// longer than this count as stale).
func Run(ctx context.Context, s *store.Store, tracker *ProviderTracker, staleLeaseTimeout time.Duration) (*Report, error) {
	qs, err := s.QueueStats(ctx, staleLeaseTimeout)
	if err != nil {
		return nil, err
	}
	ss, err := s.StorageStats(ctx)
	if err != nil {
		return nil, err
	}
	is, err := s.IndexStats(ctx)
	if err != nil {
		return nil, err
	}
	ms, err := s.MutationStats(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.ConnectorStats(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Queue:          scoreQueue(qs),
		Storage:        scoreStorage(ss),
		Index:          scoreIndex(is),
		Provider:       scoreProvider(tracker),
		Mutation:       scoreMutation(ms),
		Connector:      scoreConnector(cs),
		QueueStats:     qs,
		StorageStats:   ss,
		IndexStats:     is,
		MutationStats:  ms,
		ConnectorStats: cs,
	}
	r.Composite = clamp01(
		r.Queue.Score*weightQueue +
			r.Storage.Score*weightStorage +
			r.Index.Score*weightIndex +
			r.Provider.Score*weightProvider +
			r.Mutation.Score*weightMutation +
			r.Connector.Score*weightConnector)
	return r, nil
}

func scoreQueue(qs *store.QueueStats) DomainScore {
	penalty := 0.0
	if qs.PendingDepth > 50 {
		penalty += 0.3 * minF(1, float64(qs.PendingDepth-50)/200)
	}
	if qs.OldestPendingAge > 10*time.Minute {
		penalty += 0.3 * minF(1, qs.OldestPendingAge.Minutes()/60)
	}
	if qs.DeadRate24h > 0.01 {
		penalty += 0.4 * minF(1, qs.DeadRate24h/0.1)
	}
	if qs.StaleLeaseCount > 0 {
		penalty += 0.3 * minF(1, float64(qs.StaleLeaseCount)/20)
	}
	return scoreOf(1 - penalty)
}

func scoreStorage(ss *store.StorageStats) DomainScore {
	penalty := 0.0
	if ss.TombstoneRatio > 0.3 {
		penalty = 0.8 * minF(1, (ss.TombstoneRatio-0.3)/0.4)
	}
	return scoreOf(1 - penalty)
}

func scoreIndex(is *store.IndexStats) DomainScore {
	penalty := 0.0
	if is.FTSRowCount > 0 {
		memRatio := float64(is.ActiveMemoryCount) / float64(is.FTSRowCount)
		if memRatio > 1.1 {
			penalty += 0.5 * minF(1, memRatio-1.1)
		}
	} else if is.ActiveMemoryCount > 0 {
		penalty += 0.5
	}
	if is.ActiveMemoryCount > 0 {
		coverage := float64(is.EmbeddingCount) / float64(is.ActiveMemoryCount)
		penalty += 0.5 * (1 - minF(1, coverage))
	}
	return scoreOf(1 - penalty)
}

func scoreMutation(ms *store.MutationStats) DomainScore {
	penalty := 0.6*minF(1, float64(ms.DeletedLast7d)/100) + 0.4*minF(1, float64(ms.RecoveredLast7d)/50)
	return scoreOf(1 - penalty)
}

func scoreConnector(cs *store.ConnectorStats) DomainScore {
	if cs.Count == 0 {
		return scoreOf(1)
	}
	errorRatio := float64(cs.ErrorCount) / float64(cs.Count)
	penalty := 0.6*errorRatio + 0.4*minF(1, cs.OldestErrorAge.Hours()/24)
	return scoreOf(1 - penalty)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
