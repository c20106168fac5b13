package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/mnemo/internal/chunker"
	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/jobqueue"
	"github.com/brunobiangulo/mnemo/internal/parser"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// StartDocumentIngestWorker polls document_ingest jobs and drives
// documents.status through queued -> extracting -> chunking -> embedding
// -> indexing -> done.
func StartDocumentIngestWorker(ctx context.Context, deps Deps, cfg Config) *Handle {
	return runLoop(ctx, "document-ingest", cfg.PollInterval, func(ctx context.Context) (bool, error) {
		job, err := deps.Queue.Lease(ctx, jobqueue.JobTypeDocumentIngest)
		if err != nil {
			return false, fmt.Errorf("leasing document_ingest job: %w", err)
		}
		if job == nil {
			return false, nil
		}

		if err := processIngestJob(ctx, deps, cfg, job); err != nil {
			if serr := deps.Store.SetDocumentError(ctx, job.DocumentID, err.Error()); serr != nil {
				return true, fmt.Errorf("document %s ingest failed (%v) and could not be marked failed: %w", job.DocumentID, err, serr)
			}
			if ferr := deps.Queue.Fail(ctx, job, err.Error()); ferr != nil {
				return true, ferr
			}
			return true, nil
		}
		return true, nil
	})
}

func processIngestJob(ctx context.Context, deps Deps, cfg Config, job *store.Job) error {
	doc, err := deps.Store.GetDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s not found", job.DocumentID)
	}

	if err := deps.Store.UpdateDocumentStatus(ctx, doc.ID, "extracting"); err != nil {
		return err
	}
	p, err := deps.Parsers.Get(doc.SourceType)
	if err != nil {
		return fmt.Errorf("resolving parser: %w", err)
	}
	parsed, err := p.Parse(doc.SourceURL)
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	if cfg.CaptionImages && deps.Vision != nil {
		if err := parser.CaptionImages(ctx, deps.Vision, parsed); err != nil {
			return fmt.Errorf("captioning images: %w", err)
		}
		parser.AppendImageCaptions(parsed)
	}

	if err := deps.Store.UpdateDocumentStatus(ctx, doc.ID, "chunking"); err != nil {
		return err
	}
	chunks := deps.Chunker.Chunk(parsed)

	if err := deps.Store.UpdateDocumentStatus(ctx, doc.ID, "embedding"); err != nil {
		return err
	}

	memoryCount, err := ingestChunks(ctx, deps, cfg, doc, chunks)
	if err != nil {
		return err
	}

	if err := deps.Store.UpdateDocumentStatus(ctx, doc.ID, "indexing"); err != nil {
		return err
	}
	if err := deps.Store.UpdateDocumentCounts(ctx, doc.ID, "done", len(chunks), memoryCount); err != nil {
		return err
	}

	result, _ := json.Marshal(map[string]int{"chunks": len(chunks), "memories": memoryCount})
	return deps.Queue.Complete(ctx, job, string(result))
}

// ingestChunks processes a document's chunks with bounded concurrency,
// generalizing the teacher's graph.Builder semaphore+WaitGroup shape to
// golang.org/x/sync/errgroup + semaphore.Weighted. Each goroutine calls
// the embedding provider before opening any write transaction, and
// enqueues the chunk's extract job only after its memory row commits.
func ingestChunks(ctx context.Context, deps Deps, cfg Config, doc *store.Document, chunks []chunker.Chunk) (int, error) {
	sem := semaphore.NewWeighted(cfg.IngestConcurrency)
	var mu sync.Mutex
	memoryCount := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range chunks {
		ch := ch
		idx := i
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			memID, created, err := ingestOneChunk(gctx, deps, doc, idx, ch)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", idx, err)
			}
			if created {
				mu.Lock()
				memoryCount++
				mu.Unlock()
			}
			if memID != "" {
				if _, enqErr := deps.Queue.Enqueue(gctx, jobqueue.JobTypeExtract, memID, "", 5); enqErr != nil {
					return fmt.Errorf("enqueuing extract job for chunk %d: %w", idx, enqErr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return memoryCount, err
	}
	return memoryCount, nil
}

// ingestOneChunk embeds (outside any write tx) then writes the
// document_chunk memory, its link row, and its embedding. Dedup against
// an existing memory with the same content hash skips the write and
// reuses the existing id for linking and extraction.
func ingestOneChunk(ctx context.Context, deps Deps, doc *store.Document, index int, ch chunker.Chunk) (memoryID string, created bool, err error) {
	normalized := decision.NormalizeContent(ch.Content)
	hash := decision.ContentHash(normalized)

	existing, err := deps.Store.FindMemoryByHash(ctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("checking content hash: %w", err)
	}
	if existing != nil {
		if err := deps.Store.LinkDocumentMemory(ctx, doc.ID, existing.ID, index); err != nil {
			return "", false, fmt.Errorf("linking existing memory: %w", err)
		}
		return existing.ID, false, nil
	}

	var vector []float32
	if deps.Embed != nil {
		vectors, err := deps.Embed.Embed(ctx, []string{ch.Content})
		if err != nil {
			return "", false, fmt.Errorf("embedding chunk: %w", err)
		}
		if len(vectors) > 0 {
			vector = vectors[0]
		}
	}

	id := uuid.NewString()
	mem := store.Memory{
		ID:                id,
		Content:           ch.Content,
		NormalizedContent: normalized,
		ContentHash:       hash,
		MemoryType:        "document_chunk",
		Confidence:        1.0,
		Importance:        0.3,
		SourceType:        doc.SourceType,
		SourceID:          doc.ID,
		SourcePath:        doc.SourceURL,
		SourceSection:     ch.SourcePath,
		ExtractionStatus:  "pending",
	}
	if err := deps.Store.UpsertMemory(ctx, mem); err != nil {
		return "", false, fmt.Errorf("inserting document_chunk memory: %w", err)
	}
	if err := deps.Store.LinkDocumentMemory(ctx, doc.ID, id, index); err != nil {
		return "", false, fmt.Errorf("linking memory: %w", err)
	}
	if vector != nil {
		if err := deps.Store.InsertEmbedding(ctx, id, vector); err != nil {
			return "", false, fmt.Errorf("storing embedding: %w", err)
		}
	}
	return id, true, nil
}
