// Package decision runs the confidence/dedup/contradiction pipeline
// that turns an extracted fact into one of four proposed actions (add,
// update, delete, none), then — outside shadow mode — applies it.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/mnemo/internal/llm"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// Action is the proposed mutation for a fact.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNone   Action = "none"
)

// Fact is the extractor's output, reduced to what the decision engine
// needs to reason about.
type Fact struct {
	Content    string
	Type       string
	Confidence float64
	SourceType string
	SourceID   string
}

// Candidate is a nearby existing memory surfaced by hybrid recall, used
// for dedup and contradiction checks.
type Candidate struct {
	MemoryID string
	Content  string
	Score    float64
	Pinned   bool
}

// Retriever surfaces candidate memories for a piece of text. Satisfied
// by internal/recall's Engine; accepted as an interface here so
// decision never imports recall directly.
type Retriever interface {
	Candidates(ctx context.Context, content string, k int) ([]Candidate, error)
}

// Deduper resolves the exact-hash lookup step 2 of the proposal
// procedure needs. Satisfied by internal/store's Store.FindMemoryByHash.
type Deduper interface {
	FindMemoryByHash(ctx context.Context, hash string) (*store.Memory, error)
}

// Proposal is the decision engine's output for one fact.
type Proposal struct {
	Action            Action  `json:"action"`
	TargetID          string  `json:"targetId,omitempty"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	DedupedExistingID string  `json:"dedupedExistingId,omitempty"`
	Content            string `json:"content"`
	NormalizedContent string  `json:"normalizedContent,omitempty"`
	ContentHash       string  `json:"contentHash,omitempty"`
}

// Config gates what the decision engine is allowed to do.
type Config struct {
	MinFactConfidenceForWrite float64
	AllowUpdateDelete         bool
	ShadowMode                bool
	MutationsFrozen           bool
	// ContradictionConfidence is the minimum confidence the semantic
	// contradiction check must return before it's trusted.
	ContradictionConfidence float64
	// HighSimilarityThreshold above which a candidate is treated as the
	// same fact restated rather than a new one.
	HighSimilarityThreshold float64
	CandidateK              int
}

func defaultConfig(cfg Config) Config {
	if cfg.ContradictionConfidence == 0 {
		cfg.ContradictionConfidence = 0.7
	}
	if cfg.HighSimilarityThreshold == 0 {
		cfg.HighSimilarityThreshold = 0.85
	}
	if cfg.CandidateK == 0 {
		cfg.CandidateK = 10
	}
	return cfg
}

// Engine runs the seven-step proposal procedure.
type Engine struct {
	cfg       Config
	retriever Retriever
	deduper   Deduper
	llmClient llm.Provider
	model     string
}

func New(cfg Config, retriever Retriever, deduper Deduper, llmClient llm.Provider, model string) *Engine {
	return &Engine{cfg: defaultConfig(cfg), retriever: retriever, deduper: deduper, llmClient: llmClient, model: model}
}

// Propose runs the full decision procedure for a fact, returning one
// Proposal. It performs reads only; mutation happens via an Applier.
func (e *Engine) Propose(ctx context.Context, fact Fact) (*Proposal, error) {
	// Step 1: confidence gate.
	if fact.Confidence < e.cfg.MinFactConfidenceForWrite {
		return &Proposal{
			Action:     ActionNone,
			Confidence: fact.Confidence,
			Reason:     "low_fact_confidence",
		}, nil
	}

	normalized := NormalizeContent(fact.Content)
	hash := ContentHash(normalized)

	proposal := &Proposal{
		Content:           fact.Content,
		NormalizedContent: normalized,
		ContentHash:       hash,
		Confidence:        fact.Confidence,
	}

	// Step 2 continued: exact-hash dedup against the live store.
	if e.deduper != nil {
		existing, err := e.deduper.FindMemoryByHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("decision: checking content hash: %w", err)
		}
		if existing != nil {
			proposal.Action = ActionNone
			proposal.DedupedExistingID = existing.ID
			proposal.Reason = "duplicate_content_hash"
			return proposal, nil
		}
	}

	// Step 3: candidate retrieval (the exact-hash dedup above has
	// already run; here we only need nearby candidates for
	// contradiction/similarity).
	candidates, err := e.retriever.Candidates(ctx, fact.Content, e.cfg.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("decision: retrieving candidates: %w", err)
	}

	// Step 4: syntactic contradiction.
	var contradicted *Candidate
	for i := range candidates {
		c := &candidates[i]
		if lexicalOverlap(fact.Content, c.Content) < 3 {
			continue
		}
		if syntacticContradiction(fact.Content, c.Content) {
			contradicted = c
			break
		}
	}

	// Step 5: semantic contradiction (slow path), only if no syntactic
	// match was found but overlap was high enough to warrant the check.
	if contradicted == nil && e.llmClient != nil {
		for i := range candidates {
			c := &candidates[i]
			if lexicalOverlap(fact.Content, c.Content) < 3 {
				continue
			}
			isContradiction, confidence, err := e.semanticContradiction(ctx, fact.Content, c.Content)
			if err != nil {
				continue
			}
			if isContradiction && confidence >= e.cfg.ContradictionConfidence {
				contradicted = c
				break
			}
		}
	}

	// Step 6: decide.
	switch {
	case contradicted != nil && e.cfg.AllowUpdateDelete:
		if contradicted.Pinned {
			proposal.Action = ActionNone
			proposal.Reason = "delete_pinned_requires_force"
			proposal.TargetID = contradicted.MemoryID
			return proposal, nil
		}
		proposal.Action = ActionUpdate
		proposal.TargetID = contradicted.MemoryID
		proposal.Reason = "contradiction_resolved_by_update"
	case contradicted != nil:
		proposal.Action = ActionNone
		proposal.TargetID = contradicted.MemoryID
		proposal.Reason = "contradiction_found_update_delete_disallowed"
	default:
		if best := highestSimilarity(candidates); best != nil && best.Score >= e.cfg.HighSimilarityThreshold {
			proposal.Action = ActionUpdate
			proposal.TargetID = best.MemoryID
			proposal.Reason = "high_similarity_candidate"
		} else {
			proposal.Action = ActionAdd
			proposal.Reason = "no_contradiction_or_match"
		}
	}

	// Step 7: safety overrides.
	if e.cfg.ShadowMode || e.cfg.MutationsFrozen {
		proposal.Reason = proposal.Reason + "|shadow"
	}

	return proposal, nil
}

func highestSimilarity(candidates []Candidate) *Candidate {
	var best *Candidate
	for i := range candidates {
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	return best
}

func (e *Engine) semanticContradiction(ctx context.Context, a, b string) (bool, float64, error) {
	prompt := fmt.Sprintf(
		"Statement A: %s\nStatement B: %s\nDo these two statements contradict each other? "+
			"Respond with JSON only: {\"contradicts\": true|false, \"confidence\": 0.0-1.0}", a, b)
	resp, err := e.llmClient.Generate(ctx, llm.Request{
		Model:          e.model,
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return false, 0, err
	}
	var parsed struct {
		Contradicts bool    `json:"contradicts"`
		Confidence  float64 `json:"confidence"`
	}
	if err := parseContradictionJSON(resp.Content, &parsed); err != nil {
		return false, 0, err
	}
	return parsed.Contradicts, parsed.Confidence, nil
}

// NormalizeContent casefolds, collapses whitespace, and strips
// punctuation, matching the form memories.normalized_content stores for
// dedup-by-hash. Exported so internal/worker can compute the same
// normalized form when inserting document_chunk memories directly.
func NormalizeContent(s string) string {
	s = strings.ToLower(s)
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var (
	punctuationRe = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// ContentHash hashes an already-normalized string for the content_hash
// column's dedup-by-hash invariant.
func ContentHash(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// lexicalOverlap counts shared significant (length > 3) tokens between
// two strings.
func lexicalOverlap(a, b string) int {
	setA := significantTokens(a)
	setB := significantTokens(b)
	count := 0
	for tok := range setA {
		if setB[tok] {
			count++
		}
	}
	return count
}

func significantTokens(s string) map[string]bool {
	tokens := strings.Fields(NormalizeContent(s))
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if len(t) > 3 {
			set[t] = true
		}
	}
	return set
}

var negationPatterns = []string{" not ", " no longer ", " never ", "n't ", " without ", " cannot ", " can't "}

var antonymPairs = [][2]string{
	{"enabled", "disabled"}, {"enable", "disable"},
	{"active", "inactive"}, {"open", "closed"},
	{"allow", "deny"}, {"allowed", "denied"},
	{"increase", "decrease"}, {"approved", "rejected"},
	{"true", "false"}, {"required", "optional"},
}

// syntacticContradiction looks for an explicit negation in one
// statement relative to the other, or an antonym pair split across the
// two statements.
func syntacticContradiction(a, b string) bool {
	na, nb := " "+strings.ToLower(a)+" ", " "+strings.ToLower(b)+" "

	aNegated := containsAny(na, negationPatterns)
	bNegated := containsAny(nb, negationPatterns)
	if aNegated != bNegated {
		return true
	}

	for _, pair := range antonymPairs {
		aHasFirst := strings.Contains(na, pair[0])
		aHasSecond := strings.Contains(na, pair[1])
		bHasFirst := strings.Contains(nb, pair[0])
		bHasSecond := strings.Contains(nb, pair[1])
		if (aHasFirst && bHasSecond && !aHasSecond && !bHasFirst) ||
			(aHasSecond && bHasFirst && !aHasFirst && !bHasSecond) {
			return true
		}
	}
	return false
}

// parseContradictionJSON slices raw LLM output from the first '{' to the
// last '}' before decoding, tolerating stray prose before and after.
func parseContradictionJSON(raw string, out interface{}) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("decision: no JSON object in contradiction response")
	}
	return json.Unmarshal([]byte(raw[start:end+1]), out)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
