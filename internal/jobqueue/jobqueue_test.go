//go:build cgo

package jobqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/mnemo/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestEnqueueDedupsSameKeyAndType(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	inserted, err := q.Enqueue(ctx, JobTypeExtract, "mem-1", "", 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first enqueue to insert")
	}

	inserted, err = q.Enqueue(ctx, JobTypeExtract, "mem-1", "", 0)
	if err != nil {
		t.Fatalf("Enqueue (dup): %v", err)
	}
	if inserted {
		t.Errorf("expected duplicate (memoryID, jobType) enqueue to be skipped")
	}
}

func TestEnqueueSessionDedupsSameSessionKey(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	inserted, err := q.EnqueueSession(ctx, JobTypeSummary, "session-abc", 0)
	if err != nil {
		t.Fatalf("EnqueueSession: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first session enqueue to insert")
	}

	inserted, err = q.EnqueueSession(ctx, JobTypeSummary, "session-abc", 0)
	if err != nil {
		t.Fatalf("EnqueueSession (dup): %v", err)
	}
	if inserted {
		t.Errorf("expected duplicate session-keyed job to be skipped")
	}

	inserted, err = q.EnqueueSession(ctx, JobTypeSummary, "session-xyz", 0)
	if err != nil {
		t.Fatalf("EnqueueSession (distinct key): %v", err)
	}
	if !inserted {
		t.Errorf("expected a distinct session key to insert its own job")
	}
}

func TestLeaseCompleteRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, JobTypeDocumentIngest, "", "doc-1", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := q.Lease(ctx, JobTypeDocumentIngest)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a leasable job")
	}
	if job.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", job.DocumentID)
	}

	if _, err := q.Lease(ctx, JobTypeDocumentIngest); err != nil {
		t.Fatalf("second Lease: %v", err)
	}

	if err := q.Complete(ctx, job, "ok"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestFailRetriesUntilMaxAttemptsThenDead(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, JobTypeExtract, "mem-2", "", 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := q.Lease(ctx, JobTypeExtract)
	if err != nil || job == nil {
		t.Fatalf("Lease: job=%v err=%v", job, err)
	}
	if err := q.Fail(ctx, job, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// maxAttempts=1 and this was the first attempt, so the job is now dead
	// and must not be leasable again.
	again, err := q.Lease(ctx, JobTypeExtract)
	if err != nil {
		t.Fatalf("Lease after fail: %v", err)
	}
	if again != nil {
		t.Errorf("expected no leasable job after exhausting retries, got %+v", again)
	}
}

func TestReapStaleLeasesReturnsExpiredJobToPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, JobTypeExtract, "mem-3", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, JobTypeExtract); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	// A negative timeout moves the cutoff into the future relative to the
	// lease, avoiding a same-second race against CURRENT_TIMESTAMP's
	// one-second resolution.
	n, err := q.ReapStaleLeases(ctx, -1*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleLeases: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d leases, want 1", n)
	}

	job, err := q.Lease(ctx, JobTypeExtract)
	if err != nil {
		t.Fatalf("Lease after reap: %v", err)
	}
	if job == nil {
		t.Errorf("expected reaped job to be leasable again")
	}
}

func TestPollBackoffGrowsThenResets(t *testing.T) {
	b := NewPollBackoff(10*time.Millisecond, 50*time.Millisecond)
	first := b.Next()
	second := b.Next()
	if second < first {
		t.Errorf("expected backoff to grow or hold steady, got %v then %v", first, second)
	}
	b.Reset()
	reset := b.Next()
	if reset > second {
		t.Errorf("expected Reset to bring delay back down, got %v after previous %v", reset, second)
	}
}
