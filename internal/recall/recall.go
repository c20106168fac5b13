// Package recall implements the hybrid read path: full-text search,
// vector similarity, and a graph-boost leg fused into a single ranked
// list, with an optional rerank pass.
package recall

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/llm"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// identifierPatterns flags queries containing structured identifiers
// (part numbers, standards, revision codes) so exact-match lexical
// search is preferred over semantic similarity for them.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:PN[:\s]*|P/N[:\s]*)?[A-Z]{1,3}[-]?\d{3,6}`),
	regexp.MustCompile(`(?i)(?:ISO|EN|IEC|MIL-STD|ASTM|IEEE|NIST|AS|BS)\s*[-]?\s*\d[\w.-]*`),
	regexp.MustCompile(`\b[A-Z]{2,4}-[A-Z]{1,4}\b`),
	regexp.MustCompile(`(?i)Rev\.?\s*[A-Z0-9]{1,5}`),
}

func detectIdentifiers(query string) bool {
	for _, p := range identifierPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// Config tunes the hybrid blend and the graph-boost leg's bounds.
type Config struct {
	// Alpha weights lexical vs vector in the base blend:
	// score = Alpha*lexical + (1-Alpha)*vector + BoostWeight*graph.
	Alpha       float64
	BoostWeight float64

	// GraphDeadline bounds the graph-boost leg's wall-clock time; on
	// expiry the leg contributes no rows and reports TimedOut=true.
	GraphDeadline time.Duration
	// MaxGraphEntities / MaxGraphMemories bound the one-hop expansion's
	// fan-out so a densely-connected entity can't blow up query cost.
	MaxGraphEntities int
	MaxGraphMemories int

	// Rerank, when enabled, re-scores the top RerankTopN candidates by
	// cosine similarity of their cached embedding against the query
	// embedding, blended 30/70 with the pre-rerank score.
	Rerank      bool
	RerankTopN  int
}

func defaultConfig(cfg Config) Config {
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.5
	}
	if cfg.BoostWeight == 0 {
		cfg.BoostWeight = 0.2
	}
	if cfg.GraphDeadline == 0 {
		cfg.GraphDeadline = 500 * time.Millisecond
	}
	if cfg.MaxGraphEntities == 0 {
		cfg.MaxGraphEntities = 50
	}
	if cfg.MaxGraphMemories == 0 {
		cfg.MaxGraphMemories = 200
	}
	if cfg.RerankTopN == 0 {
		cfg.RerankTopN = 20
	}
	return cfg
}

// RankedMemory is one recall result: a memory plus its fused score and
// the provenance a caller needs to display or cite it.
type RankedMemory struct {
	ID            string
	Content       string
	Type          string
	Score         float64
	SourceType    string
	SourcePath    string
	SourceSection string
	EntityHits    int
	Snippet       string
	CreatedAt     string
}

// Trace records the per-leg breakdown of one recall call, useful for
// diagnostics and debugging a surprising ranking.
type Trace struct {
	LexicalResults      int
	VectorResults       int
	GraphResults        int
	IdentifiersDetected bool
	GraphTimedOut       bool
	Reranked            bool
	ElapsedMs           int64
}

// Engine performs hybrid recall against the Store.
type Engine struct {
	store      *store.Store
	embedder   llm.Provider
	translator *Translator
	cfg        Config
}

// New creates a recall Engine. chatLLM enables cross-language query
// term translation; pass nil to disable it.
func New(s *store.Store, embedder llm.Provider, chatLLM llm.Provider, cfg Config) *Engine {
	return &Engine{
		store:      s,
		embedder:   embedder,
		translator: NewTranslator(chatLLM, s),
		cfg:        defaultConfig(cfg),
	}
}

// Recall runs the hybrid query and returns up to topK memories scoring
// at or above minScore, ordered by score desc, ties broken by
// created_at desc then id.
func (e *Engine) Recall(ctx context.Context, query string, topK int, minScore float64) ([]RankedMemory, *Trace, error) {
	if topK <= 0 {
		topK = 20
	}
	start := time.Now()
	trace := &Trace{}

	alpha, boost := e.cfg.Alpha, e.cfg.BoostWeight
	if detectIdentifiers(query) {
		trace.IdentifiersDetected = true
		alpha = clamp01(alpha + 0.2)
	}

	translated := e.translator.TranslateTerms(ctx, significantTerms(query))
	ftsQuery := sanitizeFTSQuery(query, translated)
	entityTerms := queryEntityTerms(query, translated)

	var (
		lexical []store.RetrievalResult
		vector  []store.RetrievalResult
		graph   []store.RetrievalResult
		lexErr, vecErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.store.FTSSearch(gctx, ftsQuery, topK*3)
		lexical, lexErr = r, err
		return nil // a failed leg degrades the blend, it never aborts recall
	})
	g.Go(func() error {
		if e.embedder == nil {
			return nil
		}
		embeddings, err := e.embedder.Embed(gctx, []string{query})
		if err != nil || len(embeddings) == 0 {
			vecErr = err
			return nil
		}
		r, err := e.store.VectorSearch(gctx, embeddings[0], topK*3)
		vector, vecErr = r, err
		return nil
	})
	g.Go(func() error {
		r, timedOut := e.graphBoost(ctx, entityTerms, topK*3)
		graph = r
		trace.GraphTimedOut = timedOut
		return nil
	})
	_ = g.Wait()

	if lexErr != nil {
		slog.Warn("recall: lexical leg failed", "error", lexErr)
	}
	if vecErr != nil {
		slog.Warn("recall: vector leg failed", "error", vecErr)
	}
	trace.LexicalResults = len(lexical)
	trace.VectorResults = len(vector)
	trace.GraphResults = len(graph)

	blended := blend(lexical, vector, graph, alpha, boost)

	if e.cfg.Rerank && e.embedder != nil && len(blended) > 0 {
		blended = e.rerank(ctx, query, blended)
		trace.Reranked = true
	}

	sort.SliceStable(blended, func(i, j int) bool {
		if blended[i].Score != blended[j].Score {
			return blended[i].Score > blended[j].Score
		}
		if blended[i].CreatedAt != blended[j].CreatedAt {
			return blended[i].CreatedAt > blended[j].CreatedAt
		}
		return blended[i].ID > blended[j].ID
	})

	var out []RankedMemory
	for _, m := range blended {
		if m.Score < minScore {
			continue
		}
		out = append(out, m)
		if len(out) >= topK {
			break
		}
	}

	trace.ElapsedMs = time.Since(start).Milliseconds()
	return out, trace, nil
}

// Candidates satisfies decision.Retriever: a thin wrapper over Recall
// that the decision engine uses for dedup/contradiction candidate
// retrieval, without importing recall's broader API surface.
func (e *Engine) Candidates(ctx context.Context, content string, k int) ([]decision.Candidate, error) {
	ranked, _, err := e.Recall(ctx, content, k, 0)
	if err != nil {
		return nil, err
	}
	out := make([]decision.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = decision.Candidate{MemoryID: r.ID, Content: r.Content, Score: r.Score}
	}
	// Pinned flags aren't carried by RankedMemory; fetch them directly
	// since the decision engine needs to veto deletes against pinned
	// targets and a false negative there is a safety hole.
	for i := range out {
		mem, err := e.store.GetMemory(ctx, out[i].MemoryID)
		if err == nil && mem != nil {
			out[i].Pinned = mem.Pinned
		}
	}
	return out, nil
}

// graphBoost tokenizes entity terms, matches them against canonical_name,
// and one-hop expands through relations, bounded by cfg and a wall-clock
// deadline. Rows exist only once the final GraphSearch returns; if the
// deadline fires first it returns no rows and timedOut=true.
func (e *Engine) graphBoost(ctx context.Context, terms []string, limit int) ([]store.RetrievalResult, bool) {
	if len(terms) == 0 {
		return nil, false
	}
	dctx, cancel := context.WithTimeout(ctx, e.cfg.GraphDeadline)
	defer cancel()

	type result struct {
		rows     []store.RetrievalResult
		timedOut bool
	}
	done := make(chan result, 1)

	go func() {
		entities, err := e.store.SearchEntitiesByTerms(dctx, terms, e.cfg.MaxGraphEntities)
		if err != nil || len(entities) == 0 {
			enEntities, enErr := e.store.SearchEntitiesByNameEN(dctx, terms, e.cfg.MaxGraphEntities)
			if enErr == nil {
				entities = enEntities
			}
		}
		if len(entities) == 0 {
			done <- result{}
			return
		}
		ids := make([]int64, len(entities))
		for i, ent := range entities {
			ids[i] = ent.ID
		}
		neighbors, err := e.store.GetRelatedEntities(dctx, ids, e.cfg.MaxGraphEntities)
		if err == nil {
			for _, n := range neighbors {
				ids = append(ids, n.ID)
			}
		}
		if len(ids) > e.cfg.MaxGraphEntities {
			ids = ids[:e.cfg.MaxGraphEntities]
		}
		rows, err := e.store.GraphSearch(dctx, ids, min(limit, e.cfg.MaxGraphMemories))
		if err != nil {
			done <- result{}
			return
		}
		done <- result{rows: rows}
	}()

	select {
	case r := <-done:
		return r.rows, r.timedOut
	case <-dctx.Done():
		return nil, true
	}
}

// blend merges the three legs into one candidate set scored by
// score = alpha*lexical + (1-alpha)*vector + boostWeight*graph, where
// each leg's raw score is first min-max normalized to [0,1] so the
// weights are comparable across legs with very different scales.
func blend(lexical, vector, graph []store.RetrievalResult, alpha, boostWeight float64) []RankedMemory {
	lexNorm := normalize(lexical)
	vecNorm := normalize(vector)
	graphNorm := normalize(graph)

	type acc struct {
		mem        store.RetrievalResult
		lex, vec, gr float64
		entityHits int
	}
	byID := make(map[string]*acc)

	for i, r := range lexical {
		a := byID[r.MemoryID]
		if a == nil {
			a = &acc{mem: r}
			byID[r.MemoryID] = a
		}
		a.lex = lexNorm[i]
	}
	for i, r := range vector {
		a := byID[r.MemoryID]
		if a == nil {
			a = &acc{mem: r}
			byID[r.MemoryID] = a
		}
		a.vec = vecNorm[i]
	}
	for i, r := range graph {
		a := byID[r.MemoryID]
		if a == nil {
			a = &acc{mem: r}
			byID[r.MemoryID] = a
		}
		a.gr = graphNorm[i]
		a.entityHits++
	}

	out := make([]RankedMemory, 0, len(byID))
	for id, a := range byID {
		score := alpha*a.lex + (1-alpha)*a.vec + boostWeight*a.gr
		out = append(out, RankedMemory{
			ID:            id,
			Content:       a.mem.Content,
			Type:          a.mem.MemoryType,
			SourceType:    a.mem.SourceType,
			SourcePath:    a.mem.SourcePath,
			Score:         score,
			EntityHits:    a.entityHits,
			Snippet:       extractSnippet(a.mem.Content, significantWordSet(a.mem.Content)),
		})
	}
	return out
}

// normalize min-max scales a leg's scores into [0,1] so legs with
// different native ranges (BM25 rank vs. cosine similarity vs. relation
// strength) contribute comparably to the blend.
func normalize(results []store.RetrievalResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := max - min
	for i, r := range results {
		if spread == 0 {
			out[i] = 1
			continue
		}
		out[i] = (r.Score - min) / spread
	}
	return out
}

// rerank re-scores the top RerankTopN candidates by cosine similarity
// of their cached full-content embedding against the query embedding,
// blended 30/70 (rerank/pre-rerank) so a missing cached embedding
// doesn't zero out an otherwise strong candidate.
func (e *Engine) rerank(ctx context.Context, query string, candidates []RankedMemory) []RankedMemory {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	n := e.cfg.RerankTopN
	if n > len(candidates) {
		n = len(candidates)
	}
	top := candidates[:n]

	queryEmb, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(queryEmb) == 0 {
		return candidates
	}

	ids := make([]string, len(top))
	for i, c := range top {
		ids[i] = c.ID
	}
	cached, err := e.store.GetEmbeddings(ctx, ids)
	if err != nil {
		return candidates
	}

	for i := range top {
		vec, ok := cached[top[i].ID]
		if !ok {
			continue
		}
		sim := cosineSimilarity(queryEmb[0], vec)
		top[i].Score = 0.3*sim + 0.7*top[i].Score
	}
	return candidates
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func significantTerms(query string) []string {
	replacer := strings.NewReplacer(`"`, "", "*", "", "(", "", ")", "", "+", "", "^", "", ":", "")
	cleaned := replacer.Replace(query)
	words := strings.Fields(cleaned)

	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !stopWords[lower] && !seen[lower] {
			seen[lower] = true
			terms = append(terms, lower)
		}
	}
	return terms
}

func sanitizeFTSQuery(query string, translated []string) string {
	replacer := strings.NewReplacer(`"`, "", "*", "", "(", "", ")", "", "+", "", "-", "", "^", "", ":", "")
	cleaned := replacer.Replace(query)
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, `"`+strings.Join(words, " ")+`"`)
	}
	for _, w := range words {
		if len(w) > 2 && !stopWords[strings.ToLower(w)] {
			parts = append(parts, w)
		}
	}
	parts = append(parts, translated...)
	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}

func queryEntityTerms(query string, translated []string) []string {
	terms := significantTerms(query)
	return append(terms, translated...)
}
