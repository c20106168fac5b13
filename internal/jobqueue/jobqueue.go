// Package jobqueue wraps the store's leased job table with the
// poll/backoff/reap behavior a worker needs: exponential backoff with
// jitter between empty polls, a periodic stale-lease reaper, and
// dedup-on-enqueue so a flapping source doesn't pile up duplicate jobs.
package jobqueue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/brunobiangulo/mnemo/internal/store"
)

const (
	JobTypeExtract        = "extract"
	JobTypeDocumentIngest = "document_ingest"
	JobTypeSummary        = "summary"
)

// Queue leases and retries jobs backed by a Store.
type Queue struct {
	store *store.Store
}

func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue inserts a pending job for the given key, skipping the insert
// if a pending or leased job already exists for the same (key, jobType).
// memoryID and documentID are mutually exclusive; whichever is empty is
// stored as NULL.
func (q *Queue) Enqueue(ctx context.Context, jobType, memoryID, documentID string, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return q.store.EnqueueJobDedup(ctx, store.Job{
		ID:          uuid.NewString(),
		MemoryID:    memoryID,
		DocumentID:  documentID,
		JobType:     jobType,
		MaxAttempts: maxAttempts,
	})
}

// EnqueueSession inserts a session-keyed job (summary jobs, one per
// session-end), deduped on (sessionKey, jobType) the same way Enqueue
// dedups on (memoryID|documentID, jobType).
func (q *Queue) EnqueueSession(ctx context.Context, jobType, sessionKey string, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return q.store.EnqueueJobDedup(ctx, store.Job{
		ID:          uuid.NewString(),
		SessionKey:  sessionKey,
		JobType:     jobType,
		MaxAttempts: maxAttempts,
	})
}

// Lease claims the oldest pending job of jobType, or nil if none is
// available.
func (q *Queue) Lease(ctx context.Context, jobType string) (*store.Job, error) {
	return q.store.LeaseJob(ctx, jobType)
}

// Complete marks a job done with its result payload.
func (q *Queue) Complete(ctx context.Context, job *store.Job, result string) error {
	return q.store.CompleteJob(ctx, job.ID, result)
}

// Fail records an error on a job; the store itself decides whether to
// re-queue it for retry or mark it dead based on attempts vs.
// max_attempts.
func (q *Queue) Fail(ctx context.Context, job *store.Job, errMsg string) error {
	return q.store.FailJob(ctx, job.ID, errMsg)
}

// ReapStaleLeases returns leased jobs whose lease has expired back to
// pending. Intended to run on a fixed interval (every 60s) from the
// maintenance worker.
func (q *Queue) ReapStaleLeases(ctx context.Context, timeout time.Duration) (int64, error) {
	return q.store.ReapStaleLeases(ctx, timeout)
}

// PollBackoff tracks a worker's poll delay using cenkalti/backoff/v4's
// ExponentialBackOff: base 2s growing to a 30s cap, with its built-in
// RandomizationFactor jitter so many workers don't wake in lockstep.
// Wrapping rather than using the library type directly gives workers a
// stable Next()/Reset() surface independent of the backoff package's
// own API.
type PollBackoff struct {
	b *backoff.ExponentialBackOff
}

// NewPollBackoff creates a backoff starting at base and capped at cap.
// A zero base defaults to 2s; a zero cap defaults to 30s.
func NewPollBackoff(base, cap time.Duration) *PollBackoff {
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = cap
	eb.MaxElapsedTime = 0 // never give up; the worker owns retry lifetime
	eb.Reset()
	return &PollBackoff{b: eb}
}

// Next returns the delay to wait before the next poll attempt and
// advances the underlying backoff's internal state.
func (b *PollBackoff) Next() time.Duration {
	return b.b.NextBackOff()
}

// Reset returns the delay to the configured base, called after a
// successful poll.
func (b *PollBackoff) Reset() {
	b.b.Reset()
}
