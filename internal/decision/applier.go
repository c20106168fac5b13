package decision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brunobiangulo/mnemo/internal/store"
)

// ApplyStats accumulates outcome counts across a batch of applied
// proposals, matching the result payload a worker attaches to its job.
type ApplyStats struct {
	Added                int  `json:"added"`
	Updated              int  `json:"updated"`
	Deleted              int  `json:"deleted"`
	Deduped              int  `json:"deduped"`
	BlockedDestructive   int  `json:"blockedDestructive"`
	SkippedLowConfidence int  `json:"skippedLowConfidence"`
	EmbeddingsAdded      int  `json:"embeddingsAdded"`
	ReviewNeeded         bool `json:"reviewNeeded"`
}

// Add folds one proposal's outcome into the running stats based on its
// action and reason.
func (s *ApplyStats) Add(p *Proposal) {
	switch {
	case p.Reason == "low_fact_confidence":
		s.SkippedLowConfidence++
	case p.Reason == "delete_pinned_requires_force":
		s.BlockedDestructive++
	case p.Reason == "contradiction_found_update_delete_disallowed":
		s.BlockedDestructive++
		s.ReviewNeeded = true
	case p.Action == ActionNone && p.DedupedExistingID != "":
		s.Deduped++
	case p.Action == ActionAdd:
		s.Added++
	case p.Action == ActionUpdate:
		s.Updated++
	case p.Action == ActionDelete:
		s.Deleted++
	}
}

// Embedder fetches a single vector for a piece of text. Satisfied by
// llm.Provider.Embed, narrowed so the applier never depends on the
// full llm package.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Applier is the mutation sink a Proposal is handed to. liveApplier
// performs the write; shadowApplier only records what would have
// happened. Swapping the implementation, rather than branching on
// shadow_mode deep inside apply logic, keeps the write path itself
// unconditional.
type Applier interface {
	// Apply performs (or shadow-records) p's mutation and reports
	// whether an embedding was written for it, so callers can fold that
	// into ApplyStats.EmbeddingsAdded without the applier depending on
	// ApplyStats itself.
	Apply(ctx context.Context, fact Fact, p *Proposal) (embedded bool, err error)
	// Mode names the write mode for the job payload: "shadow" or
	// "phase-c" (spec §6's controlled-write tag).
	Mode() string
}

// NewApplier selects liveApplier or shadowApplier based on cfg, mirroring
// the seven-step procedure's step 7 safety override: shadow_mode and
// mutations_frozen both force the shadow path.
func NewApplier(cfg Config, s *store.Store, embedder Embedder, embeddingModel string) Applier {
	if cfg.ShadowMode || cfg.MutationsFrozen {
		return &shadowApplier{store: s}
	}
	return &liveApplier{store: s, embedder: embedder, embeddingModel: embeddingModel}
}

// liveApplier performs the controlled-write mutation spec.md §4.7
// describes for each action.
type liveApplier struct {
	store          *store.Store
	embedder       Embedder
	embeddingModel string
}

func (a *liveApplier) Apply(ctx context.Context, fact Fact, p *Proposal) (bool, error) {
	switch p.Action {
	case ActionAdd:
		return a.applyAdd(ctx, fact, p)
	case ActionUpdate:
		return a.applyUpdate(ctx, fact, p)
	case ActionDelete:
		return false, a.applyDelete(ctx, p)
	case ActionNone:
		return false, a.store.AppendHistory(ctx, p.TargetID, "none", "", "pipeline-v2", p.Reason, noneMetadata(p.Reason))
	default:
		return false, fmt.Errorf("decision: unknown action %q", p.Action)
	}
}

func (a *liveApplier) Mode() string { return "phase-c" }

// noneMetadata builds the history row's metadata for an applied
// ActionNone. The contradiction-found-but-destructive-mutations-
// disallowed path needs blockedReason/reviewNeeded surfaced per spec
// §7/scenario 5; every other NONE reason keeps the plain proposedAction
// marker.
func noneMetadata(reason string) string {
	if reason == "contradiction_found_update_delete_disallowed" {
		return `{"proposedAction":"none","blockedReason":"destructive_mutations_disabled","reviewNeeded":true}`
	}
	return `{"proposedAction":"none"}`
}

func (a *liveApplier) applyAdd(ctx context.Context, fact Fact, p *Proposal) (bool, error) {
	id := uuid.NewString()
	mem := store.Memory{
		ID:                id,
		Content:           p.Content,
		NormalizedContent: p.NormalizedContent,
		ContentHash:       p.ContentHash,
		MemoryType:        fact.Type,
		Confidence:        fact.Confidence,
		Importance:        0.5,
		SourceType:        fact.SourceType,
		SourceID:          fact.SourceID,
		ExtractionStatus:  "completed",
		EmbeddingModel:    a.embeddingModel,
	}
	if err := a.store.UpsertMemory(ctx, mem); err != nil {
		return false, fmt.Errorf("decision: inserting memory: %w", err)
	}
	if err := a.store.AppendHistory(ctx, id, "created", p.Content, "pipeline-v2", p.Reason, ""); err != nil {
		return false, fmt.Errorf("decision: recording add history: %w", err)
	}
	embedded, err := a.embed(ctx, id, p.Content)
	return embedded, err
}

func (a *liveApplier) applyUpdate(ctx context.Context, fact Fact, p *Proposal) (bool, error) {
	mem := store.Memory{
		ID:                p.TargetID,
		Content:           p.Content,
		NormalizedContent: p.NormalizedContent,
		ContentHash:       p.ContentHash,
		MemoryType:        fact.Type,
		Confidence:        fact.Confidence,
		Importance:        0.5,
		SourceType:        fact.SourceType,
		SourceID:          fact.SourceID,
		ExtractionStatus:  "completed",
		EmbeddingModel:    a.embeddingModel,
	}
	if err := a.store.UpsertMemory(ctx, mem); err != nil {
		return false, fmt.Errorf("decision: updating memory: %w", err)
	}
	if err := a.store.AppendHistory(ctx, p.TargetID, "updated", p.Content, "pipeline-v2", p.Reason, ""); err != nil {
		return false, fmt.Errorf("decision: recording update history: %w", err)
	}
	embedded, err := a.embed(ctx, p.TargetID, p.Content)
	return embedded, err
}

func (a *liveApplier) applyDelete(ctx context.Context, p *Proposal) error {
	if err := a.store.SoftDeleteMemory(ctx, p.TargetID); err != nil {
		return fmt.Errorf("decision: soft-deleting memory: %w", err)
	}
	return a.store.AppendHistory(ctx, p.TargetID, "deleted", "", "pipeline-v2", p.Reason, "")
}

// embed fetches and stores an embedding for content, reporting whether
// one was actually written so ApplyStats.EmbeddingsAdded reflects real
// outcomes. A provider failure here is non-fatal: the memory row and
// its history already committed, and the embedding can be backfilled by
// a later extraction pass.
func (a *liveApplier) embed(ctx context.Context, memoryID, content string) (bool, error) {
	if a.embedder == nil {
		return false, nil
	}
	vectors, err := a.embedder.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		return false, nil
	}
	if err := a.store.InsertEmbedding(ctx, memoryID, vectors[0]); err != nil {
		return false, err
	}
	return true, nil
}

// shadowApplier never mutates memories; it records what would have
// happened so a later promotion to controlled-write mode can be
// audited against the shadow trail.
type shadowApplier struct {
	store *store.Store
}

func (a *shadowApplier) Apply(ctx context.Context, fact Fact, p *Proposal) (bool, error) {
	metadata := fmt.Sprintf(`{"shadow":true,"proposedAction":%q}`, string(p.Action))
	if p.Reason == "contradiction_found_update_delete_disallowed" {
		metadata = fmt.Sprintf(`{"shadow":true,"proposedAction":%q,"blockedReason":"destructive_mutations_disabled","reviewNeeded":true}`, string(p.Action))
	}
	targetID := p.TargetID
	if targetID == "" {
		// NONE/ADD proposals with no existing target still need a
		// history row; anchor it to the dedup target if one exists,
		// otherwise record against a synthetic shadow id so the row
		// is still queryable by source.
		if p.DedupedExistingID != "" {
			targetID = p.DedupedExistingID
		} else {
			targetID = "shadow-" + uuid.NewString()
		}
	}
	return false, a.store.AppendHistory(ctx, targetID, "none", p.Content, "pipeline-shadow", p.Reason, metadata)
}

func (a *shadowApplier) Mode() string { return "shadow" }

// ProposeAndApply runs Propose then hands the result to applier,
// folding the outcome into stats. A dedup hit (step 2) is handed to the
// applier like any other proposal, so it still leaves a history row, and
// counts toward Deduped rather than Added.
func (e *Engine) ProposeAndApply(ctx context.Context, fact Fact, applier Applier, stats *ApplyStats) (*Proposal, error) {
	p, err := e.Propose(ctx, fact)
	if err != nil {
		return nil, err
	}
	embedded := false
	if applier != nil {
		var applyErr error
		embedded, applyErr = applier.Apply(ctx, fact, p)
		if applyErr != nil {
			return p, applyErr
		}
	}
	if stats != nil {
		stats.Add(p)
		if embedded {
			stats.EmbeddingsAdded++
		}
	}
	return p, nil
}
