//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func sampleMemory(id, hash string) Memory {
	return Memory{
		ID:                id,
		Content:           "the deploy pipeline requires a manual approval step",
		NormalizedContent: "the deploy pipeline requires a manual approval step",
		ContentHash:       hash,
		MemoryType:        "fact",
		Confidence:        0.9,
		Importance:        0.5,
		SourceType:        "document",
		ExtractionStatus:  "completed",
	}
}

func TestUpsertAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "hash-1")
	if err := s.UpsertMemory(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetMemory(ctx, "mem-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != m.Content {
		t.Fatalf("content mismatch: got %q", got.Content)
	}
	if got.IsDeleted {
		t.Fatal("expected not deleted")
	}
}

func TestFindMemoryByHashDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "dup-hash")
	if err := s.UpsertMemory(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	found, err := s.FindMemoryByHash(ctx, "dup-hash")
	if err != nil {
		t.Fatalf("find by hash: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find memory by hash")
	}
	if found.ID != "mem-1" {
		t.Fatalf("expected mem-1, got %s", found.ID)
	}
}

func TestSoftDeleteMemoryExcludedFromSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "hash-del")
	if err := s.UpsertMemory(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SoftDeleteMemory(ctx, "mem-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	results, err := s.FTSSearch(ctx, "deploy", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	for _, r := range results {
		if r.MemoryID == "mem-1" {
			t.Fatal("expected deleted memory to be excluded from FTS search")
		}
	}
}

func TestFTSSearchFindsMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "hash-fts")
	if err := s.UpsertMemory(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.FTSSearch(ctx, "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one FTS result")
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "job-1", JobType: "extract", MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := s.LeaseJob(ctx, "extract")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil {
		t.Fatal("expected a leased job")
	}
	if leased.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", leased.Attempts)
	}

	again, err := s.LeaseJob(ctx, "extract")
	if err != nil {
		t.Fatalf("lease again: %v", err)
	}
	if again != nil {
		t.Fatal("expected no further pending job to lease")
	}

	if err := s.CompleteJob(ctx, "job-1", `{"ok":true}`); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestJobDeadLettersAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "job-1", JobType: "extract", MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.LeaseJob(ctx, "extract"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.FailJob(ctx, "job-1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var status string
	if err := s.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, "job-1").Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != "dead" {
		t.Fatalf("expected job to be dead-lettered, got %s", status)
	}
}

func TestEntityMentionGraphSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMemory("mem-1", "hash-graph")
	if err := s.UpsertMemory(ctx, m); err != nil {
		t.Fatalf("upsert memory: %v", err)
	}

	entityID, err := s.UpsertEntityAndMention(ctx, Entity{
		Name: "deploy pipeline", CanonicalName: "deploy pipeline", EntityType: "system",
	}, "mem-1")
	if err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	results, err := s.GraphSearch(ctx, []int64{entityID}, 10)
	if err != nil {
		t.Fatalf("graph search: %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "mem-1" {
		t.Fatalf("expected to find mem-1 via graph search, got %+v", results)
	}
}
