package mnemo

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the mnemo engine.
type Config struct {
	// DataDir is the directory holding mnemo.db (+ WAL/SHM sidecars),
	// dated backups, and session summary markdown files. If empty,
	// defaults to ~/.mnemo/ (or .mnemo/ under the working directory when
	// StorageDir is "local").
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// StorageDir controls where DataDir resolves to when it is not set
	// explicitly. Options: "home" (default) uses ~/.mnemo/, "local"
	// uses .mnemo/ under the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat        LLMConfig `json:"chat" yaml:"chat"`
	Embedding   LLMConfig `json:"embedding" yaml:"embedding"`
	Vision      LLMConfig `json:"vision" yaml:"vision"`
	Translation LLMConfig `json:"translation" yaml:"translation"` // optional: fast model for query translation (defaults to Chat)

	// Recall tunes the hybrid FTS+vector+graph blend.
	Recall RecallConfig `json:"recall" yaml:"recall"`

	// Chunker tunes structure-aware chunking.
	Chunker ChunkerConfig `json:"chunker" yaml:"chunker"`

	// Pipeline gates extraction, decision, and worker behavior.
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Image captioning
	CaptionImages bool `json:"caption_images" yaml:"caption_images"` // Opt-in: caption extracted images via vision LLM

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// MaxBackups bounds how many pre-migration database backups are
	// retained under DataDir; the oldest are pruned beyond this count.
	MaxBackups int `json:"max_backups" yaml:"max_backups"`

	// TranscriptCharCap bounds how much of a single AI coding-session
	// transcript the session_transcript parser reads per document.
	TranscriptCharCap int `json:"transcript_char_cap" yaml:"transcript_char_cap"`

	// IngestConcurrency bounds how many chunks of one document the
	// document-ingest worker embeds and writes concurrently.
	IngestConcurrency int64 `json:"ingest_concurrency" yaml:"ingest_concurrency"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openai, groq, openrouter, xai, gemini, subprocess, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// Command is only read for Provider == "subprocess": the CLI to
	// spawn, e.g. ["claude", "-p"].
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`
	// TimeoutSeconds bounds a single generation call; 0 uses the
	// provider kind's own default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// RecallConfig tunes the hybrid query's scoring blend and bounds.
type RecallConfig struct {
	Alpha            float64 `json:"alpha" yaml:"alpha"`
	BoostWeight      float64 `json:"boost_weight" yaml:"boost_weight"`
	GraphDeadlineMs  int     `json:"graph_deadline_ms" yaml:"graph_deadline_ms"`
	MaxGraphEntities int     `json:"max_graph_entities" yaml:"max_graph_entities"`
	MaxGraphMemories int     `json:"max_graph_memories" yaml:"max_graph_memories"`
	Rerank           bool    `json:"rerank" yaml:"rerank"`
	RerankTopN       int     `json:"rerank_top_n" yaml:"rerank_top_n"`
}

// ChunkerConfig tunes structure-aware chunking.
type ChunkerConfig struct {
	MaxTokens     int `json:"max_tokens" yaml:"max_tokens"`
	MinTokens     int `json:"min_tokens" yaml:"min_tokens"`
	OverlapTokens int `json:"overlap_tokens" yaml:"overlap_tokens"`
}

// PipelineConfig gates extraction, decision, and worker behavior per
// spec §6's non-exhaustive config flag list.
type PipelineConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	ShadowMode        bool `json:"shadow_mode" yaml:"shadow_mode"`
	AllowUpdateDelete bool `json:"allow_update_delete" yaml:"allow_update_delete"`
	MutationsFrozen   bool `json:"mutations_frozen" yaml:"mutations_frozen"`
	AutonomousEnabled bool `json:"autonomous_enabled" yaml:"autonomous_enabled"`

	MinFactConfidenceForWrite float64 `json:"min_fact_confidence_for_write" yaml:"min_fact_confidence_for_write"`
	ContradictionConfidence   float64 `json:"contradiction_confidence" yaml:"contradiction_confidence"`
	HighSimilarityThreshold   float64 `json:"high_similarity_threshold" yaml:"high_similarity_threshold"`
	CandidateK                int     `json:"candidate_k" yaml:"candidate_k"`

	WorkerPollMs        int    `json:"worker_poll_ms" yaml:"worker_poll_ms"`
	WorkerMaxRetries    int    `json:"worker_max_retries" yaml:"worker_max_retries"`
	LeaseTimeoutMs      int    `json:"lease_timeout_ms" yaml:"lease_timeout_ms"`
	MaintenanceMode     string `json:"maintenance_mode" yaml:"maintenance_mode"` // "observe" or "execute"
	MaintenanceInterval int    `json:"maintenance_interval_ms" yaml:"maintenance_interval_ms"`

	RetentionHorizonDays int `json:"retention_horizon_days" yaml:"retention_horizon_days"`
	RetentionIntervalMs  int `json:"retention_interval_ms" yaml:"retention_interval_ms"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. The database lives in ~/.mnemo/mnemo.db by default.
func DefaultConfig() Config {
	return Config{
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Recall: RecallConfig{
			Alpha:            0.5,
			BoostWeight:      0.2,
			GraphDeadlineMs:  500,
			MaxGraphEntities: 50,
			MaxGraphMemories: 200,
			RerankTopN:       20,
		},
		Chunker: ChunkerConfig{
			MaxTokens:     2000,
			MinTokens:     100,
			OverlapTokens: 200,
		},
		Pipeline: PipelineConfig{
			Enabled:                   true,
			ShadowMode:                true,
			AllowUpdateDelete:         false,
			MinFactConfidenceForWrite: 0.6,
			ContradictionConfidence:   0.7,
			HighSimilarityThreshold:   0.85,
			CandidateK:                10,
			WorkerPollMs:              2000,
			WorkerMaxRetries:          5,
			LeaseTimeoutMs:            10 * 60 * 1000,
			MaintenanceMode:           "observe",
			MaintenanceInterval:       60 * 1000,
			RetentionHorizonDays:      30,
			RetentionIntervalMs:       int(time.Hour.Milliseconds()),
		},
		CaptionImages:     false,
		EmbeddingDim:      768,
		MaxBackups:        5,
		TranscriptCharCap: 200_000,
		IngestConcurrency: 4,
	}
}

// resolveDataDir computes the final data directory from config fields.
func (c *Config) resolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	switch c.StorageDir {
	case "local", "cwd":
		return ".mnemo"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return ".mnemo" // fallback to cwd
		}
		return filepath.Join(home, ".mnemo")
	}
}
