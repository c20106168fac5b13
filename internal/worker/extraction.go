package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/diagnostics"
	"github.com/brunobiangulo/mnemo/internal/extractor"
	"github.com/brunobiangulo/mnemo/internal/jobqueue"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// StartExtractionWorker polls extract jobs, each naming a document_chunk
// (or raw conversation turn) memory whose content still needs to be
// distilled into typed facts via the Extractor and Decision Engine.
func StartExtractionWorker(ctx context.Context, deps Deps, cfg Config) *Handle {
	return runLoop(ctx, "extraction", cfg.PollInterval, func(ctx context.Context) (bool, error) {
		job, err := deps.Queue.Lease(ctx, jobqueue.JobTypeExtract)
		if err != nil {
			return false, fmt.Errorf("leasing extract job: %w", err)
		}
		if job == nil {
			return false, nil
		}

		if err := processExtractJob(ctx, deps, job); err != nil {
			if ferr := deps.Queue.Fail(ctx, job, err.Error()); ferr != nil {
				return true, fmt.Errorf("extract job %s failed (%v) and could not be marked failed: %w", job.ID, err, ferr)
			}
			return true, nil
		}
		return true, nil
	})
}

func processExtractJob(ctx context.Context, deps Deps, job *store.Job) error {
	mem, err := deps.Store.GetMemory(ctx, job.MemoryID)
	if err != nil {
		return fmt.Errorf("loading source memory: %w", err)
	}
	if mem == nil {
		return fmt.Errorf("source memory %s not found", job.MemoryID)
	}

	flavor := flavorForSourceType(mem.SourceType)
	result := deps.Extractor.Extract(ctx, flavor, mem.Content)
	recordExtractionOutcome(deps.Tracker, result)

	stats := &decision.ApplyStats{}
	proposals := make([]*decision.Proposal, 0, len(result.Items))
	for _, item := range result.Items {
		fact := decision.Fact{
			Content:    item.Content,
			Type:       item.Type,
			Confidence: item.Confidence,
			SourceType: mem.SourceType,
			SourceID:   mem.ID,
		}
		p, err := deps.Decision.ProposeAndApply(ctx, fact, deps.Applier, stats)
		if err != nil {
			return fmt.Errorf("proposing fact: %w", err)
		}
		proposals = append(proposals, p)
	}

	for _, rel := range result.Relations {
		if err := applyRelation(ctx, deps.Store, mem.ID, rel); err != nil {
			return fmt.Errorf("applying relation %s->%s: %w", rel.Source, rel.Target, err)
		}
	}

	status := "completed"
	if len(result.Warnings) > 0 && len(result.Items) == 0 {
		status = "failed"
	}
	if err := deps.Store.UpdateMemoryExtractionStatus(ctx, mem.ID, status, result.ModelUsed); err != nil {
		return fmt.Errorf("recording extraction status: %w", err)
	}

	writeMode := "shadow"
	if deps.Applier != nil {
		writeMode = deps.Applier.Mode()
	}
	payload := extractJobResult{
		Facts:      result.Items,
		Entities:   result.Relations,
		Proposals:  proposals,
		Warnings:   result.Warnings,
		WriteMode:  writeMode,
		WriteStats: *stats,
	}
	resultJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling job result: %w", err)
	}
	return deps.Queue.Complete(ctx, job, string(resultJSON))
}

// extractJobResult is the job completion payload an extraction worker
// attaches, documenting what an extraction-plus-decision pass produced
// and under which write mode it ran.
type extractJobResult struct {
	Facts      []extractor.Item     `json:"facts"`
	Entities   []extractor.Relation `json:"entities"`
	Proposals  []*decision.Proposal `json:"proposals"`
	Warnings   []string             `json:"warnings"`
	WriteMode  string               `json:"writeMode"`
	WriteStats decision.ApplyStats  `json:"writeStats"`
}

// applyRelation upserts both endpoints as generic entities and links
// them with a relation row. The extractor's prompt yields bare entity
// names with no type, so relation endpoints are classified "concept"
// until a future pass narrows them via the graph-boost recall leg's
// entity table.
func applyRelation(ctx context.Context, s *store.Store, memoryID string, rel extractor.Relation) error {
	sourceID, err := s.UpsertEntityAndMention(ctx, store.Entity{
		Name:          rel.Source,
		CanonicalName: strings.ToLower(strings.TrimSpace(rel.Source)),
		EntityType:    "concept",
	}, memoryID)
	if err != nil {
		return err
	}
	targetID, err := s.UpsertEntityAndMention(ctx, store.Entity{
		Name:          rel.Target,
		CanonicalName: strings.ToLower(strings.TrimSpace(rel.Target)),
		EntityType:    "concept",
	}, memoryID)
	if err != nil {
		return err
	}
	_, err = s.InsertRelation(ctx, store.Relation{
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		RelationType:   rel.Relationship,
		Strength:       1.0,
		Confidence:     rel.Confidence,
		SourceMemoryID: memoryID,
	})
	return err
}

func flavorForSourceType(sourceType string) extractor.Flavor {
	switch sourceType {
	case "chat_export", "session_transcript", "conversation":
		return extractor.ConversationFlavor()
	default:
		return extractor.DocumentFlavor()
	}
}

func recordExtractionOutcome(tracker *diagnostics.ProviderTracker, result *extractor.Result) {
	if tracker == nil {
		return
	}
	for _, w := range result.Warnings {
		if strings.Contains(w, "llm call failed") {
			tracker.Record(diagnostics.OutcomeFailure)
			return
		}
	}
	tracker.Record(diagnostics.OutcomeSuccess)
}
