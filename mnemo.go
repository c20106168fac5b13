// Package mnemo is a personal knowledge-memory engine: documents and
// conversation sessions are ingested through a durable job queue,
// reduced to typed facts by an LLM extractor, and reconciled against
// existing memory by a contradiction/dedup decision engine before a
// hybrid FTS+vector+graph recall path serves them back out. See
// SPEC_FULL.md for the full module breakdown.
package mnemo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/mnemo/internal/accessor"
	"github.com/brunobiangulo/mnemo/internal/chunker"
	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/extractor"
	"github.com/brunobiangulo/mnemo/internal/jobqueue"
	"github.com/brunobiangulo/mnemo/internal/llm"
	"github.com/brunobiangulo/mnemo/internal/parser"
	"github.com/brunobiangulo/mnemo/internal/recall"
	"github.com/brunobiangulo/mnemo/internal/repair"
	"github.com/brunobiangulo/mnemo/internal/store"
	"github.com/brunobiangulo/mnemo/internal/worker"
)

// Engine is the top-level handle an embedder or the mnemod daemon opens
// once and shares across requests. It owns the database, every
// component wired against it, and (once Start is called) the
// background worker pool.
type Engine struct {
	cfg      Config
	accessor *accessor.Accessor
	queue    *jobqueue.Queue
	parsers  *parser.Registry
	chunker  *chunker.Chunker
	extract  *extractor.Extractor
	decide   *decision.Engine
	apply    decision.Applier
	recall   *recall.Engine
	tracker  *diagnostics.ProviderTracker
	repair   *repair.Runner

	chat  llm.Provider
	embed llm.Provider
	vis   llm.Provider

	pool    *worker.Pool
	started bool
}

// New opens the database at cfg's resolved data directory, wires every
// internal component, and returns a ready Engine. It does not start the
// background workers; call Start for that.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	dataDir := cfg.resolveDataDir()

	chat, err := newProvider(cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("mnemo: chat provider: %w", err)
	}
	embed, err := newProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("mnemo: embedding provider: %w", err)
	}
	var vis llm.Provider
	if cfg.CaptionImages {
		vis, err = newProvider(cfg.Vision)
		if err != nil {
			return nil, fmt.Errorf("mnemo: vision provider: %w", err)
		}
	}

	acc, err := accessor.Open(ctx, accessor.Options{
		DataDir:      dataDir,
		EmbeddingDim: cfg.EmbeddingDim,
		MaxBackups:   cfg.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("mnemo: opening store: %w", err)
	}

	st := acc.Store
	queue := jobqueue.New(st)
	parsers := newParserRegistry(cfg)
	chunk := chunker.New(chunker.Config{
		MaxTokens:     cfg.Chunker.MaxTokens,
		MinTokens:     cfg.Chunker.MinTokens,
		OverlapTokens: cfg.Chunker.OverlapTokens,
	})
	extract := extractor.New(chat, cfg.Chat.Model)

	recallEngine := recall.New(st, embed, chat, recall.Config{
		Alpha:            cfg.Recall.Alpha,
		BoostWeight:      cfg.Recall.BoostWeight,
		GraphDeadline:    time.Duration(cfg.Recall.GraphDeadlineMs) * time.Millisecond,
		MaxGraphEntities: cfg.Recall.MaxGraphEntities,
		MaxGraphMemories: cfg.Recall.MaxGraphMemories,
		Rerank:           cfg.Recall.Rerank,
		RerankTopN:       cfg.Recall.RerankTopN,
	})

	decisionCfg := decision.Config{
		MinFactConfidenceForWrite: cfg.Pipeline.MinFactConfidenceForWrite,
		AllowUpdateDelete:         cfg.Pipeline.AllowUpdateDelete,
		ShadowMode:                cfg.Pipeline.ShadowMode,
		MutationsFrozen:           cfg.Pipeline.MutationsFrozen,
		ContradictionConfidence:   cfg.Pipeline.ContradictionConfidence,
		HighSimilarityThreshold:   cfg.Pipeline.HighSimilarityThreshold,
		CandidateK:                cfg.Pipeline.CandidateK,
	}
	decide := decision.New(decisionCfg, recallEngine, st, chat, cfg.Chat.Model)
	applier := decision.NewApplier(decisionCfg, st, embed, cfg.Embedding.Model)

	tracker := diagnostics.NewProviderTracker(200)
	retentionHorizon := time.Duration(cfg.Pipeline.RetentionHorizonDays) * 24 * time.Hour
	repairRunner := repair.NewRunner(st, leaseTimeout(cfg), retentionHorizon, 5*time.Minute, 12)

	return &Engine{
		cfg:      cfg,
		accessor: acc,
		queue:    queue,
		parsers:  parsers,
		chunker:  chunk,
		extract:  extract,
		decide:   decide,
		apply:    applier,
		recall:   recallEngine,
		tracker:  tracker,
		repair:   repairRunner,
		chat:     chat,
		embed:    embed,
		vis:      vis,
	}, nil
}

func leaseTimeout(cfg Config) time.Duration {
	return time.Duration(cfg.Pipeline.LeaseTimeoutMs) * time.Millisecond
}

// Start launches the five background workers (extraction, document
// ingest, summary, retention, maintenance). Calling it twice is a
// programming error.
func (e *Engine) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true
	deps := worker.Deps{
		Accessor:  e.accessor,
		Store:     e.accessor.Store,
		Queue:     e.queue,
		Parsers:   e.parsers,
		Chunker:   e.chunker,
		Extractor: e.extract,
		Decision:  e.decide,
		Applier:   e.apply,
		Chat:      e.chat,
		Embed:     e.embed,
		Vision:    e.vis,
		Tracker:   e.tracker,
		Repair:    e.repair,
	}
	wcfg := worker.Config{
		PollInterval:        time.Duration(e.cfg.Pipeline.WorkerPollMs) * time.Millisecond,
		StaleLeaseTimeout:   leaseTimeout(e.cfg),
		RetentionHorizon:    time.Duration(e.cfg.Pipeline.RetentionHorizonDays) * 24 * time.Hour,
		RetentionInterval:   time.Duration(e.cfg.Pipeline.RetentionIntervalMs) * time.Millisecond,
		MaintenanceInterval: time.Duration(e.cfg.Pipeline.MaintenanceInterval) * time.Millisecond,
		MaintenanceMode:     e.cfg.Pipeline.MaintenanceMode,
		IngestConcurrency:   e.cfg.IngestConcurrency,
		DataDir:             e.accessor.DataDir(),
		CaptionImages:       e.cfg.CaptionImages,
		ChatModel:           e.cfg.Chat.Model,
	}
	e.pool = worker.StartAll(ctx, deps, wcfg)
}

// Stop stops the background worker pool, if running, waiting for each
// worker's in-flight tick to finish.
func (e *Engine) Stop() {
	if e.pool != nil {
		e.pool.Stop()
	}
	e.started = false
}

// Close stops the worker pool (if running) and closes the database.
func (e *Engine) Close() error {
	e.Stop()
	return e.accessor.Close()
}

// IngestDocument registers a new document by source URL and content,
// then enqueues a document_ingest job for the worker pool to pick up.
// A duplicate sourceURL with identical content is a no-op; a duplicate
// URL with different content updates the existing row and re-enqueues.
func (e *Engine) IngestDocument(ctx context.Context, sourceURL, sourceType, title, rawContent string) (string, error) {
	hash := contentHash(rawContent)

	existing, err := e.accessor.Store.GetDocumentByURL(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("mnemo: checking existing document: %w", err)
	}
	docID := uuid.NewString()
	if existing != nil {
		if existing.ContentHash == hash {
			return existing.ID, nil
		}
		docID = existing.ID
	}

	doc := store.Document{
		ID:          docID,
		SourceURL:   sourceURL,
		SourceType:  sourceType,
		Title:       title,
		RawContent:  rawContent,
		ContentHash: hash,
		Status:      "queued",
	}
	if err := e.accessor.Store.UpsertDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("mnemo: upserting document: %w", err)
	}
	if _, err := e.queue.Enqueue(ctx, jobqueue.JobTypeDocumentIngest, "", docID, e.cfg.Pipeline.WorkerMaxRetries); err != nil {
		return "", fmt.Errorf("mnemo: enqueuing ingest job: %w", err)
	}
	return docID, nil
}

// EndSession enqueues a summary job for the given session key. Safe to
// call more than once for the same key: a pending or leased summary job
// for it is deduped rather than duplicated.
func (e *Engine) EndSession(ctx context.Context, sessionKey string) error {
	_, err := e.queue.EnqueueSession(ctx, jobqueue.JobTypeSummary, sessionKey, e.cfg.Pipeline.WorkerMaxRetries)
	if err != nil {
		return fmt.Errorf("mnemo: enqueuing session summary: %w", err)
	}
	return nil
}

// Recall runs the hybrid FTS+vector+graph query for q and returns up to
// topK ranked memories scoring at least minScore, along with a trace of
// each leg's contribution.
func (e *Engine) Recall(ctx context.Context, q string, topK int, minScore float64) ([]recall.RankedMemory, *recall.Trace, error) {
	return e.recall.Recall(ctx, q, topK, minScore)
}

// Diagnose runs one diagnostics cycle and returns the composite health
// report, the same data the maintenance worker scores itself against.
func (e *Engine) Diagnose(ctx context.Context) (*diagnostics.Report, error) {
	return diagnostics.Run(ctx, e.accessor.Store, e.tracker, leaseTimeout(e.cfg))
}

func newProvider(lc LLMConfig) (llm.Provider, error) {
	kind, err := providerKind(lc.Provider)
	if err != nil {
		return nil, err
	}
	return llm.New(llm.Config{
		Kind:    kind,
		Model:   lc.Model,
		BaseURL: lc.BaseURL,
		APIKey:  lc.APIKey,
		Command: lc.Command,
		Timeout: lc.TimeoutSeconds,
	})
}

// providerKind maps the user-facing provider name (what shows up in
// config files: ollama, lmstudio, openai, groq, openrouter, xai,
// gemini, subprocess) to the llm package's narrower local/remote/
// subprocess transport kind.
func providerKind(name string) (string, error) {
	switch strings.ToLower(name) {
	case "ollama", "lmstudio", "llama.cpp", "local":
		return "local", nil
	case "openai", "groq", "openrouter", "xai", "gemini", "remote":
		return "remote", nil
	case "subprocess":
		return "subprocess", nil
	case "":
		return "", fmt.Errorf("mnemo: no provider configured")
	default:
		return "", fmt.Errorf("mnemo: unknown provider %q", name)
	}
}

func newParserRegistry(cfg Config) *parser.Registry {
	reg := parser.NewRegistry()
	_ = cfg // parser.NewRegistry already registers every built-in format; cfg reserved for future per-format overrides.
	return reg
}

func contentHash(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
