// Package store wraps the SQLite database that backs the memory engine:
// memories, their embeddings and full-text index, the durable job queue,
// documents, and the knowledge graph.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Memory represents a row in the memories table.
type Memory struct {
	ID                string  `json:"id"`
	Content            string  `json:"content"`
	NormalizedContent  string  `json:"normalized_content"`
	ContentHash        string  `json:"content_hash"`
	MemoryType         string  `json:"memory_type"`
	Confidence         float64 `json:"confidence"`
	Importance         float64 `json:"importance"`
	Pinned             bool    `json:"pinned"`
	SourceType         string  `json:"source_type"`
	SourceID           string  `json:"source_id,omitempty"`
	SourcePath         string  `json:"source_path,omitempty"`
	SourceSection      string  `json:"source_section,omitempty"`
	ExtractionStatus   string  `json:"extraction_status"`
	ExtractionModel    string  `json:"extraction_model,omitempty"`
	EmbeddingModel     string  `json:"embedding_model,omitempty"`
	IsDeleted          bool    `json:"is_deleted"`
	VectorClock        string  `json:"vector_clock,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// Job represents a row in the jobs table. Exactly one of MemoryID,
// DocumentID, SessionKey carries the job's dedup/lookup key; which one
// depends on JobType.
type Job struct {
	ID          string `json:"id"`
	MemoryID    string `json:"memory_id,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	SessionKey  string `json:"session_key,omitempty"`
	JobType     string `json:"job_type"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
	Result      string `json:"result,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Document represents a row in the documents table.
type Document struct {
	ID           string `json:"id"`
	SourceURL    string `json:"source_url"`
	SourceType   string `json:"source_type"`
	Title        string `json:"title,omitempty"`
	RawContent   string `json:"raw_content,omitempty"`
	ContentHash  string `json:"content_hash"`
	Status       string `json:"status"`
	ChunkCount   int    `json:"chunk_count"`
	MemoryCount  int    `json:"memory_count"`
	ConnectorID  string `json:"connector_id,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Entity represents a row in the entities table.
type Entity struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name"`
	NameEN        string `json:"name_en"`
	EntityType    string `json:"entity_type"`
	Mentions      int    `json:"mentions"`
	Metadata      string `json:"metadata,omitempty"`
}

// Relation represents a row in the relations table.
type Relation struct {
	ID             int64   `json:"id"`
	SourceEntityID int64   `json:"source_entity_id"`
	TargetEntityID int64   `json:"target_entity_id"`
	RelationType   string  `json:"relation_type"`
	Strength       float64 `json:"strength"`
	Confidence     float64 `json:"confidence"`
	SourceMemoryID string  `json:"source_memory_id,omitempty"`
	Metadata       string  `json:"metadata,omitempty"`
}

// RetrievalResult holds a memory with its retrieval score, used by all
// three recall legs (vector, FTS, graph) as a common return shape.
type RetrievalResult struct {
	MemoryID   string  `json:"memory_id"`
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	SourceType string  `json:"source_type"`
	SourcePath string  `json:"source_path"`
	Score      float64 `json:"score"`
}

// DBStats reports aggregate counts, never a materialized row list, so
// diagnostics can poll it cheaply on every cycle.
type DBStats struct {
	MemoryCount  int64 `json:"memory_count"`
	JobCount     int64 `json:"job_count"`
	PendingJobs  int64 `json:"pending_jobs"`
	DeadJobs     int64 `json:"dead_jobs"`
	DocumentCount int64 `json:"document_count"`
	EntityCount  int64 `json:"entity_count"`
}

// Store wraps the SQLite database for all mnemo persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// Open wraps an already-configured *sql.DB (owned by the accessor) and
// ensures the schema and migrations are applied. It does not own the
// connection's lifecycle; callers close the underlying db themselves.
func Open(ctx context.Context, db *sql.DB, embeddingDim int) (*Store, error) {
	if _, err := db.ExecContext(ctx, schemaSQL(embeddingDim)); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	s := &Store{db: db, embeddingDim: embeddingDim}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// New opens a standalone store at dbPath, used by tests that don't need
// the accessor's writer/reader split.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s, err := Open(context.Background(), db, embeddingDim)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB { return s.db }

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int { return s.embeddingDim }

// --- Memory operations ---

// UpsertMemory inserts a new memory or updates an existing one by ID.
func (s *Store) UpsertMemory(ctx context.Context, m Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, normalized_content, content_hash, memory_type,
			confidence, importance, pinned, source_type, source_id, source_path, source_section,
			extraction_status, extraction_model, embedding_model, vector_clock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			normalized_content = excluded.normalized_content,
			content_hash = excluded.content_hash,
			memory_type = excluded.memory_type,
			confidence = excluded.confidence,
			importance = excluded.importance,
			pinned = excluded.pinned,
			extraction_status = excluded.extraction_status,
			vector_clock = excluded.vector_clock,
			updated_at = CURRENT_TIMESTAMP
	`, m.ID, m.Content, m.NormalizedContent, m.ContentHash, m.MemoryType,
		m.Confidence, m.Importance, m.Pinned, m.SourceType, m.SourceID, m.SourcePath, m.SourceSection,
		m.ExtractionStatus, m.ExtractionModel, m.EmbeddingModel, m.VectorClock)
	return err
}

// GetMemory returns a single live memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, normalized_content, content_hash, memory_type, confidence, importance,
			pinned, source_type, COALESCE(source_id,''), COALESCE(source_path,''), COALESCE(source_section,''),
			extraction_status, COALESCE(extraction_model,''), COALESCE(embedding_model,''), is_deleted,
			created_at, updated_at
		FROM memories WHERE id = ?`, id)
	var m Memory
	var isDeleted int
	if err := row.Scan(&m.ID, &m.Content, &m.NormalizedContent, &m.ContentHash, &m.MemoryType,
		&m.Confidence, &m.Importance, &m.Pinned, &m.SourceType, &m.SourceID, &m.SourcePath, &m.SourceSection,
		&m.ExtractionStatus, &m.ExtractionModel, &m.EmbeddingModel, &isDeleted,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.IsDeleted = isDeleted != 0
	return &m, nil
}

// FindMemoryByHash looks up a live memory by its content hash, the
// primary dedup key used by the decision engine.
func (s *Store) FindMemoryByHash(ctx context.Context, hash string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, content_hash, memory_type, confidence, importance, pinned
		FROM memories WHERE content_hash = ? AND is_deleted = 0 LIMIT 1`, hash)
	var m Memory
	if err := row.Scan(&m.ID, &m.Content, &m.ContentHash, &m.MemoryType, &m.Confidence, &m.Importance, &m.Pinned); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// UpdateMemoryExtractionStatus records the outcome of the extraction
// worker's pass over a document_chunk memory, without touching its
// content or hash.
func (s *Store) UpdateMemoryExtractionStatus(ctx context.Context, id, status, model string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET extraction_status = ?, extraction_model = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, model, id)
	return err
}

// SoftDeleteMemory marks a memory deleted without removing its row,
// preserving history and provenance.
func (s *Store) SoftDeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_deleted = 1, deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// AppendHistory records a provenance event for a memory. History is
// append-only: callers never update or delete existing rows.
func (s *Store) AppendHistory(ctx context.Context, memoryID, event, newContent, changedBy, reason, metadata string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_history (memory_id, event, new_content, changed_by, reason, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`, memoryID, event, newContent, changedBy, reason, metadata)
	return err
}

// GetEmbeddings fetches raw vectors for a batch of memory ids, used by
// recall's optional rerank pass to score cached full-content embeddings
// against the query embedding.
func (s *Store) GetEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_id, embedding FROM vec_embeddings WHERE memory_id IN (?"+repeatPlaceholders(len(ids)-1)+")",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32, len(ids))
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out[id] = deserializeFloat32(raw)
	}
	return out, rows.Err()
}

// InsertEmbedding upserts a memory's vector row.
func (s *Store) InsertEmbedding(ctx context.Context, memoryID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_embeddings (memory_id, embedding) VALUES (?, ?)",
		memoryID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search returning the top-k nearest memories.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, v.distance, m.content, m.memory_type, m.source_type, COALESCE(m.source_path,'')
		FROM vec_embeddings v
		JOIN memories m ON m.id = v.memory_id
		WHERE v.embedding MATCH ? AND k = ? AND m.is_deleted = 0
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		if err := rows.Scan(&r.MemoryID, &distance, &r.Content, &r.MemoryType, &r.SourceType, &r.SourcePath); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank, m.id, m.content, m.memory_type, m.source_type, COALESCE(m.source_path,'')
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.is_deleted = 0
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rowid int64
		var rank float64
		if err := rows.Scan(&rowid, &rank, &r.MemoryID, &r.Content, &r.MemoryType, &r.SourceType, &r.SourcePath); err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better); flip to a positive score.
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Job queue operations (used by internal/jobqueue) ---

// EnqueueJob inserts a new pending job.
func (s *Store) EnqueueJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, memory_id, document_id, session_key, job_type, status, max_attempts)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		j.ID, nullable(j.MemoryID), nullable(j.DocumentID), nullable(j.SessionKey), j.JobType, j.MaxAttempts)
	return err
}

// EnqueueJobDedup inserts j only if no pending or leased job already
// exists for the same (memory_id|document_id|session_key, job_type) key,
// so a worker crash-looping on the same source can't pile up duplicate
// work. Returns false without error when an existing job made the
// insert a no-op.
func (s *Store) EnqueueJobDedup(ctx context.Context, j Job) (bool, error) {
	inserted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM jobs
			WHERE job_type = ? AND status IN ('pending', 'leased')
				AND COALESCE(memory_id,'') = ? AND COALESCE(document_id,'') = ?
				AND COALESCE(session_key,'') = ?`,
			j.JobType, j.MemoryID, j.DocumentID, j.SessionKey)
		if err := row.Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, memory_id, document_id, session_key, job_type, status, max_attempts)
			VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
			j.ID, nullable(j.MemoryID), nullable(j.DocumentID), nullable(j.SessionKey), j.JobType, j.MaxAttempts)
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// LeaseJob atomically claims the oldest pending job of jobType, marking it
// leased and incrementing its attempt counter. Returns nil, nil if none
// is available.
func (s *Store) LeaseJob(ctx context.Context, jobType string) (*Job, error) {
	var j Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, COALESCE(memory_id,''), COALESCE(document_id,''), COALESCE(session_key,''), job_type, attempts, max_attempts
			FROM jobs WHERE job_type = ? AND status = 'pending'
			ORDER BY created_at LIMIT 1`, jobType)
		if err := row.Scan(&j.ID, &j.MemoryID, &j.DocumentID, &j.SessionKey, &j.JobType, &j.Attempts, &j.MaxAttempts); err != nil {
			if err == sql.ErrNoRows {
				j.ID = ""
				return nil
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'leased', attempts = attempts + 1,
				leased_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, j.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if j.ID == "" {
		return nil, nil
	}
	j.Attempts++
	return &j, nil
}

// CompleteJob marks a job completed with its result payload.
func (s *Store) CompleteJob(ctx context.Context, id, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, result, id)
	return err
}

// FailJob records an error on a job and either re-queues it for retry or
// moves it to 'dead' once max_attempts is exhausted.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
			error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, errMsg, id)
	return err
}

// ReapStaleLeases returns leased jobs to pending if their lease has
// exceeded the given timeout, used by the maintenance worker.
func (s *Store) ReapStaleLeases(ctx context.Context, timeout time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', leased_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'leased' AND leased_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int(timeout.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequeueDeadJobs resets dead jobs back to pending with attempts cleared,
// a bounded repair action invoked by the diagnostics/repair loop.
func (s *Store) RequeueDeadJobs(ctx context.Context, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', attempts = 0, error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id IN (SELECT id FROM jobs WHERE status = 'dead' LIMIT ?)`, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record by ID (callers look
// an existing ID up by source URL first).
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_url, source_type, title, raw_content, content_hash, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			raw_content = excluded.raw_content,
			content_hash = excluded.content_hash,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, doc.SourceURL, doc.SourceType, doc.Title, doc.RawContent, doc.ContentHash, doc.Status)
	return err
}

// GetDocumentByURL returns a document by its source URL, used to detect
// unchanged re-ingests via content_hash comparison.
func (s *Store) GetDocumentByURL(ctx context.Context, url string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, source_type, COALESCE(title,''), content_hash, status, chunk_count, memory_count
		 FROM documents WHERE source_url = ?`, url)
	var d Document
	if err := row.Scan(&d.ID, &d.SourceURL, &d.SourceType, &d.Title, &d.ContentHash, &d.Status, &d.ChunkCount, &d.MemoryCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// GetDocumentByID loads a document's full row, including raw_content,
// for the worker that processes its ingest job.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, source_type, COALESCE(title,''), raw_content, content_hash, status, chunk_count, memory_count
		 FROM documents WHERE id = ?`, id)
	var d Document
	if err := row.Scan(&d.ID, &d.SourceURL, &d.SourceType, &d.Title, &d.RawContent, &d.ContentHash, &d.Status, &d.ChunkCount, &d.MemoryCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// SetDocumentError marks a document failed and records why.
func (s *Store) SetDocumentError(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = 'failed', error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		errMsg, id)
	return err
}

// UpdateDocumentCounts records how many chunks and memories a completed
// ingest produced, alongside its final status.
func (s *Store) UpdateDocumentCounts(ctx context.Context, id, status string, chunkCount, memoryCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, memory_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, chunkCount, memoryCount, id)
	return err
}

// UpdateDocumentStatus advances a document through its ingest pipeline.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// LinkDocumentMemory records provenance between a document chunk and the
// memory it produced.
func (s *Store) LinkDocumentMemory(ctx context.Context, documentID, memoryID string, chunkIndex int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_memories (document_id, memory_id, chunk_index)
		VALUES (?, ?, ?)`, documentID, memoryID, chunkIndex)
	return err
}

// --- Entity / relation operations ---

// UpsertEntity inserts or updates an entity keyed on (canonical_name, entity_type).
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (name, canonical_name, entity_type, name_en, mentions, metadata)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(canonical_name, entity_type) DO UPDATE SET
			mentions = entities.mentions + 1,
			name_en = COALESCE(excluded.name_en, entities.name_en),
			metadata = excluded.metadata
	`, e.Name, e.CanonicalName, e.EntityType, e.NameEN, e.Metadata)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM entities WHERE canonical_name = ? AND entity_type = ?",
			e.CanonicalName, e.EntityType)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// UpsertEntityAndMention atomically upserts an entity and links it to a
// memory in a single transaction, avoiding a FOREIGN KEY race against
// concurrent extraction jobs.
func (s *Store) UpsertEntityAndMention(ctx context.Context, e Entity, memoryID string) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (name, canonical_name, entity_type, name_en, mentions, metadata)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(canonical_name, entity_type) DO UPDATE SET
				mentions = entities.mentions + 1,
				name_en = COALESCE(excluded.name_en, entities.name_en),
				metadata = excluded.metadata
		`, e.Name, e.CanonicalName, e.EntityType, e.NameEN, e.Metadata)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if id == 0 {
			row := tx.QueryRowContext(ctx,
				"SELECT id FROM entities WHERE canonical_name = ? AND entity_type = ?",
				e.CanonicalName, e.EntityType)
			if err := row.Scan(&id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO memory_entity_mentions (memory_id, entity_id) VALUES (?, ?)",
			memoryID, id)
		return err
	})
	return id, err
}

// InsertRelation creates a relation between two entities.
func (s *Store) InsertRelation(ctx context.Context, r Relation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (source_entity_id, target_entity_id, relation_type, strength, confidence, source_memory_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Strength, r.Confidence, nullable(r.SourceMemoryID), r.Metadata)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SearchEntitiesByTerms finds entities whose name, canonical_name or
// name_en contains any of the given terms as a substring. Only terms of length
// >= 4 are used, to keep short generic words from matching everything.
func (s *Store) SearchEntitiesByTerms(ctx context.Context, terms []string, limit int) ([]Entity, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 50
	}

	var conditions []string
	var args []interface{}
	for _, t := range terms {
		if len(t) < 4 {
			continue
		}
		conditions = append(conditions, "(name LIKE ? OR canonical_name LIKE ? OR name_en LIKE ?)")
		args = append(args, "%"+t+"%", "%"+t+"%", "%"+t+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := "SELECT id, name, canonical_name, entity_type, COALESCE(name_en,''), mentions, metadata FROM entities WHERE " +
		strings.Join(conditions, " OR ") + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType, &e.NameEN, &e.Mentions, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GraphSearch finds memories reachable via entity mentions, scored by the
// strongest relation touching that entity.
func (s *Store) GraphSearch(ctx context.Context, entityIDs []int64, limit int) ([]RetrievalResult, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT mem.memory_id, COALESCE(MAX(r.strength), 0.5),
			m.content, m.memory_type, m.source_type, COALESCE(m.source_path,'')
		FROM memory_entity_mentions mem
		LEFT JOIN relations r ON r.source_entity_id = mem.entity_id OR r.target_entity_id = mem.entity_id
		JOIN memories m ON m.id = mem.memory_id
		WHERE mem.entity_id IN (?` + repeatPlaceholders(len(entityIDs)-1) + `) AND m.is_deleted = 0
		GROUP BY mem.memory_id
		ORDER BY COALESCE(MAX(r.strength), 0.5) DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)+1)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.MemoryID, &r.Score, &r.Content, &r.MemoryType, &r.SourceType, &r.SourcePath); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetEntitiesByNames looks up entities by exact canonical_name match.
// Recall's graph-boost leg does not call it; it uses the substring
// SearchEntitiesByTerms match instead.
func (s *Store) GetEntitiesByNames(ctx context.Context, names []string) ([]Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = strings.ToLower(n)
	}
	query := "SELECT id, name, canonical_name, entity_type, COALESCE(name_en,''), mentions, metadata FROM entities WHERE canonical_name IN (?" +
		repeatPlaceholders(len(names)-1) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType, &e.NameEN, &e.Mentions, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// SearchEntitiesByNameEN finds entities whose English canonical name
// contains any of the given terms, supporting cross-language recall
// against a corpus ingested in a non-English language.
func (s *Store) SearchEntitiesByNameEN(ctx context.Context, terms []string, limit int) ([]Entity, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 50
	}

	var conditions []string
	var args []interface{}
	for _, t := range terms {
		if len(t) < 4 {
			continue
		}
		conditions = append(conditions, "name_en LIKE ?")
		args = append(args, "%"+t+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := "SELECT id, name, canonical_name, entity_type, COALESCE(name_en,''), mentions, metadata FROM entities WHERE " +
		strings.Join(conditions, " OR ") + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType, &e.NameEN, &e.Mentions, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// SampleMemories returns up to n recent live memories' content, used by
// recall's translator for document-language detection.
func (s *Store) SampleMemories(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM memories WHERE is_deleted = 0 ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRelatedEntities performs a one-hop expansion from the given entity
// IDs over the relations table, used by recall's graph-boost leg.
func (s *Store) GetRelatedEntities(ctx context.Context, entityIDs []int64, limit int) ([]Entity, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	placeholders := repeatPlaceholders(len(entityIDs) - 1)
	query := `
		SELECT DISTINCT e.id, e.name, e.canonical_name, e.entity_type, COALESCE(e.name_en,''), e.mentions, e.metadata
		FROM relations r
		JOIN entities e ON e.id = CASE
			WHEN r.source_entity_id IN (?` + placeholders + `) THEN r.target_entity_id
			ELSE r.source_entity_id
		END
		WHERE (r.source_entity_id IN (?` + placeholders + `) OR r.target_entity_id IN (?` + placeholders + `))
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)*3+1)
	for i := 0; i < 3; i++ {
		for _, id := range entityIDs {
			args = append(args, id)
		}
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType, &e.NameEN, &e.Mentions, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// --- Session scoring ---

// RecordSessionMemory links a memory injected into a session's context,
// used later by the continuity-scoring pass to rate its usefulness.
func (s *Store) RecordSessionMemory(ctx context.Context, sessionKey, memoryID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_memories (session_key, memory_id) VALUES (?, ?)`,
		sessionKey, memoryID)
	return err
}

// SetSessionMemoryRelevance writes the continuity scorer's verdict for
// one (session, memory) pair.
func (s *Store) SetSessionMemoryRelevance(ctx context.Context, sessionKey, memoryID string, relevance float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_memories SET relevance = ? WHERE session_key = ? AND memory_id = ?`,
		relevance, sessionKey, memoryID)
	return err
}

// SessionMemories lists the IDs of the memories injected into a session
// (IDs only, no relevance score), for the summary worker's continuity pass.
func (s *Store) SessionMemories(ctx context.Context, sessionKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id FROM session_memories WHERE session_key = ?`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSessionScore upserts the session's overall continuity score.
func (s *Store) SetSessionScore(ctx context.Context, sessionKey string, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_scores (session_key, score) VALUES (?, ?)
		ON CONFLICT(session_key) DO UPDATE SET score = excluded.score, updated_at = CURRENT_TIMESTAMP
	`, sessionKey, score)
	return err
}

// --- Diagnostics helpers ---

// Stats returns aggregate counts across the core tables.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	var st DBStats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM memories WHERE is_deleted = 0),
		(SELECT COUNT(*) FROM jobs),
		(SELECT COUNT(*) FROM jobs WHERE status = 'pending'),
		(SELECT COUNT(*) FROM jobs WHERE status = 'dead'),
		(SELECT COUNT(*) FROM documents),
		(SELECT COUNT(*) FROM entities)`)
	if err := row.Scan(&st.MemoryCount, &st.JobCount, &st.PendingJobs, &st.DeadJobs, &st.DocumentCount, &st.EntityCount); err != nil {
		return nil, err
	}
	return &st, nil
}

// QueueStats reports the signals diagnostics' queue domain needs:
// current pending depth, the age of the oldest pending job, the
// fraction of jobs that went dead in the last 24h, and the count of
// leases held longer than staleAfter.
type QueueStats struct {
	PendingDepth     int64
	OldestPendingAge time.Duration
	DeadRate24h      float64
	StaleLeaseCount  int64
}

func (s *Store) QueueStats(ctx context.Context, staleAfter time.Duration) (*QueueStats, error) {
	var qs QueueStats
	var oldestSeconds sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM jobs WHERE status = 'pending'),
			(SELECT (julianday('now') - julianday(MIN(created_at))) * 86400.0
			   FROM jobs WHERE status = 'pending')`)
	if err := row.Scan(&qs.PendingDepth, &oldestSeconds); err != nil {
		return nil, err
	}
	if oldestSeconds.Valid {
		qs.OldestPendingAge = time.Duration(oldestSeconds.Float64 * float64(time.Second))
	}

	var total, dead int64
	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN status = 'dead' THEN 1 ELSE 0 END)
		FROM jobs WHERE updated_at >= datetime('now', '-1 day')`)
	if err := row.Scan(&total, &dead); err != nil {
		return nil, err
	}
	if total > 0 {
		qs.DeadRate24h = float64(dead) / float64(total)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = 'leased' AND leased_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int(staleAfter.Seconds())))
	if err := row.Scan(&qs.StaleLeaseCount); err != nil {
		return nil, err
	}
	return &qs, nil
}

// StorageStats reports total live memories, tombstone count, and the
// tombstone ratio the diagnostics storage domain and the retention
// worker's sweep trigger both key off of.
type StorageStats struct {
	TotalMemories   int64
	TombstoneCount  int64
	TombstoneRatio  float64
}

func (s *Store) StorageStats(ctx context.Context) (*StorageStats, error) {
	var live, dead int64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memories WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM memories WHERE is_deleted = 1)`)
	if err := row.Scan(&live, &dead); err != nil {
		return nil, err
	}
	ss := &StorageStats{TotalMemories: live, TombstoneCount: dead}
	if live+dead > 0 {
		ss.TombstoneRatio = float64(dead) / float64(live+dead)
	}
	return ss, nil
}

// IndexStats reports the FTS-vs-memories row parity and embedding
// coverage the diagnostics index domain scores.
type IndexStats struct {
	FTSRowCount        int64
	ActiveMemoryCount  int64
	EmbeddingCount     int64
}

func (s *Store) IndexStats(ctx context.Context) (*IndexStats, error) {
	var is IndexStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memories_fts),
			(SELECT COUNT(*) FROM memories WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM vec_embeddings)`)
	if err := row.Scan(&is.FTSRowCount, &is.ActiveMemoryCount, &is.EmbeddingCount); err != nil {
		return nil, err
	}
	return &is, nil
}

// MutationStats reports recover/delete volume over the trailing window,
// the diagnostics mutation domain's signal.
type MutationStats struct {
	RecoveredLast7d int64
	DeletedLast7d   int64
}

func (s *Store) MutationStats(ctx context.Context) (*MutationStats, error) {
	var ms MutationStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memory_history WHERE event = 'recovered' AND created_at >= datetime('now', '-7 days')),
			(SELECT COUNT(*) FROM memory_history WHERE event = 'deleted' AND created_at >= datetime('now', '-7 days'))`)
	if err := row.Scan(&ms.RecoveredLast7d, &ms.DeletedLast7d); err != nil {
		return nil, err
	}
	return &ms, nil
}

// ConnectorStats reports connector health signals for the diagnostics
// connector domain.
type ConnectorStats struct {
	Count          int64
	SyncingCount   int64
	ErrorCount     int64
	OldestErrorAge time.Duration
}

func (s *Store) ConnectorStats(ctx context.Context) (*ConnectorStats, error) {
	var cs ConnectorStats
	var oldestSeconds sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM connectors),
			(SELECT COUNT(*) FROM connectors WHERE status = 'syncing'),
			(SELECT COUNT(*) FROM connectors WHERE status = 'error'),
			(SELECT (julianday('now') - julianday(MIN(last_sync_at))) * 86400.0
			   FROM connectors WHERE status = 'error')`)
	if err := row.Scan(&cs.Count, &cs.SyncingCount, &cs.ErrorCount, &oldestSeconds); err != nil {
		return nil, err
	}
	if oldestSeconds.Valid {
		cs.OldestErrorAge = time.Duration(oldestSeconds.Float64 * float64(time.Second))
	}
	return &cs, nil
}

// SweepTombstones permanently removes soft-deleted memories older than
// horizon, along with their dependent rows, used by the retention
// worker. Returns the number of memories removed.
func (s *Store) SweepTombstones(ctx context.Context, horizon time.Duration) (int64, error) {
	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cutoff := fmt.Sprintf("-%d seconds", int(horizon.Seconds()))

		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM memories
			WHERE is_deleted = 1 AND deleted_at < datetime('now', ?) AND pinned = 0`, cutoff)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}

		placeholders := repeatPlaceholders(len(ids) - 1)
		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE memory_id IN (?`+placeholders+`)`, args...); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM memories
			WHERE is_deleted = 1 AND deleted_at < datetime('now', ?) AND pinned = 0`, cutoff)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// HasFTSTable reports whether the memories_fts virtual table exists,
// used by the accessor's startup self-heal.
func (s *Store) HasFTSTable(ctx context.Context) (bool, error) {
	var name string
	row := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='memories_fts'`)
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// RebuildFTS drops and recreates the memories_fts table, backfilling it
// from the live memories table. Used when the accessor detects a missing
// or corrupt FTS index at startup.
func (s *Store) RebuildFTS(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS memories_fts`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			CREATE VIRTUAL TABLE memories_fts USING fts5(
				content, content='memories', content_rowid='rowid', tokenize='porter unicode61')`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memories_fts(rowid, content) SELECT rowid, content FROM memories`); err != nil {
			return err
		}
		return nil
	})
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(", ?", n)
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
