// Package worker runs the engine's five background loops (extraction,
// document-ingest, summary, retention, maintenance) against the job
// queue and the store. Each worker is independent and cooperative: a
// Handle's Stop waits for the in-flight tick to finish before
// returning, mirroring the teacher's graph.Builder bounded-concurrency
// shape generalized to golang.org/x/sync/errgroup + semaphore.Weighted.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/mnemo/internal/accessor"
	"github.com/brunobiangulo/mnemo/internal/chunker"
	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/extractor"
	"github.com/brunobiangulo/mnemo/internal/jobqueue"
	"github.com/brunobiangulo/mnemo/internal/llm"
	"github.com/brunobiangulo/mnemo/internal/parser"
	"github.com/brunobiangulo/mnemo/internal/repair"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// Deps bundles every component a worker needs. Not every worker uses
// every field; Start* functions only read what their loop requires.
type Deps struct {
	Accessor  *accessor.Accessor
	Store     *store.Store
	Queue     *jobqueue.Queue
	Parsers   *parser.Registry
	Chunker   *chunker.Chunker
	Extractor *extractor.Extractor
	Decision  *decision.Engine
	Applier   decision.Applier
	Chat      llm.Provider
	Embed     llm.Provider
	Vision    llm.Provider
	Tracker   *diagnostics.ProviderTracker
	Repair    *repair.Runner
}

// Config tunes poll cadence and bounds shared across workers.
type Config struct {
	PollInterval        time.Duration
	StaleLeaseTimeout   time.Duration
	RetentionHorizon    time.Duration
	RetentionInterval   time.Duration
	MaintenanceInterval time.Duration
	MaintenanceMode     string // "observe" or "execute"
	IngestConcurrency   int64
	DataDir             string
	CaptionImages       bool
	ChatModel           string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.StaleLeaseTimeout <= 0 {
		c.StaleLeaseTimeout = 10 * time.Minute
	}
	if c.RetentionHorizon <= 0 {
		c.RetentionHorizon = 30 * 24 * time.Hour
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	if c.MaintenanceMode == "" {
		c.MaintenanceMode = "observe"
	}
	if c.IngestConcurrency <= 0 {
		c.IngestConcurrency = 4
	}
	return c
}

// Handle controls a running worker loop. Stop is cooperative: it
// signals the loop to exit after its current tick and blocks until it
// has.
type Handle struct {
	name    string
	stopped atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Stop requests the loop exit and waits for it to do so.
func (h *Handle) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.doneCh
}

// runLoop is the shared poll/backoff skeleton every job-driven worker
// (extraction, document-ingest, summary) uses: tick calls the worker's
// unit of work and reports whether it found anything to do. An empty
// or failed tick grows the backoff; a successful one resets it.
func runLoop(ctx context.Context, name string, base time.Duration, tick func(context.Context) (worked bool, err error)) *Handle {
	h := &Handle{name: name, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	backoffDelay := jobqueue.NewPollBackoff(base, 30*time.Second)

	go func() {
		defer close(h.doneCh)
		for {
			select {
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			worked, err := tick(ctx)
			if err != nil {
				slog.Error("worker: tick failed", "worker", name, "error", err)
			}
			if err != nil || !worked {
				select {
				case <-time.After(backoffDelay.Next()):
				case <-h.stopCh:
					return
				case <-ctx.Done():
					return
				}
				continue
			}
			backoffDelay.Reset()
		}
	}()
	return h
}

// runTicker is the shared skeleton for interval-driven workers
// (retention, maintenance) that have no queue to drain: they run once
// per fixed interval regardless of outcome.
func runTicker(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) *Handle {
	h := &Handle{name: name, stopCh: make(chan struct{}), doneCh: make(chan struct{})}

	go func() {
		defer close(h.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := tick(ctx); err != nil {
					slog.Error("worker: tick failed", "worker", name, "error", err)
				}
			}
		}
	}()
	return h
}

// Pool starts all five workers together and stops them in reverse
// order, so the maintenance loop (which reads the others' state) is
// always the first to stop.
type Pool struct {
	handles []*Handle
	mu      sync.Mutex
}

// StartAll starts extraction, document-ingest, summary, retention, and
// maintenance with the given deps/cfg, returning a Pool that stops them
// together.
func StartAll(ctx context.Context, deps Deps, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{}
	p.handles = append(p.handles,
		StartExtractionWorker(ctx, deps, cfg),
		StartDocumentIngestWorker(ctx, deps, cfg),
		StartSummaryWorker(ctx, deps, cfg),
		StartRetentionWorker(ctx, deps, cfg),
		StartMaintenanceWorker(ctx, deps, cfg),
	)
	return p
}

// Stop stops every worker in the pool, last-started first.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.handles) - 1; i >= 0; i-- {
		p.handles[i].Stop()
	}
}
