package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/mnemo/internal/decision"
	"github.com/brunobiangulo/mnemo/internal/jobqueue"
	"github.com/brunobiangulo/mnemo/internal/llm"
	"github.com/brunobiangulo/mnemo/internal/store"
)

// StartSummaryWorker polls summary jobs, one per session-end: it asks
// the chat model to act as a librarian over the IDs of the memories
// injected into the session,
// writes the resulting summary to a dated markdown file, inserts its
// distilled facts as memories, and closes the loop with a continuity
// pass that rates how useful the memories injected into the session
// actually were.
func StartSummaryWorker(ctx context.Context, deps Deps, cfg Config) *Handle {
	return runLoop(ctx, "summary", cfg.PollInterval, func(ctx context.Context) (bool, error) {
		job, err := deps.Queue.Lease(ctx, jobqueue.JobTypeSummary)
		if err != nil {
			return false, fmt.Errorf("leasing summary job: %w", err)
		}
		if job == nil {
			return false, nil
		}

		if err := processSummaryJob(ctx, deps, cfg, job); err != nil {
			if ferr := deps.Queue.Fail(ctx, job, err.Error()); ferr != nil {
				return true, fmt.Errorf("summary job %s failed (%v) and could not be marked failed: %w", job.ID, err, ferr)
			}
			return true, nil
		}
		return true, nil
	})
}

// librarianResult is the shape the summary prompt asks the model to
// return: a dated narrative plus a flat list of durable facts worth
// promoting into the memory store.
type librarianResult struct {
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

func processSummaryJob(ctx context.Context, deps Deps, cfg Config, job *store.Job) error {
	sessionKey := job.SessionKey
	if sessionKey == "" {
		return fmt.Errorf("summary job %s has no session_key", job.ID)
	}
	if deps.Chat == nil {
		return fmt.Errorf("summary worker: no chat provider configured")
	}

	memoryIDs, err := deps.Store.SessionMemories(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("loading session memories: %w", err)
	}

	result, err := runLibrarian(ctx, deps.Chat, cfg.ChatModel, sessionKey, memoryIDs)
	if err != nil {
		return fmt.Errorf("librarian call: %w", err)
	}

	path, err := writeSummaryFile(cfg.DataDir, result.Summary)
	if err != nil {
		return fmt.Errorf("writing summary file: %w", err)
	}

	stats := &decision.ApplyStats{}
	for _, fact := range result.Facts {
		fact = strings.TrimSpace(fact)
		if len(fact) < 15 {
			continue
		}
		f := decision.Fact{
			Content:    fact,
			Type:       "semantic",
			Confidence: 0.8,
			SourceType: "session_summary",
			SourceID:   sessionKey,
		}
		if _, err := deps.Decision.ProposeAndApply(ctx, f, deps.Applier, stats); err != nil {
			return fmt.Errorf("proposing summary fact: %w", err)
		}
	}

	if err := scoreSessionContinuity(ctx, deps, cfg.ChatModel, sessionKey, memoryIDs); err != nil {
		return fmt.Errorf("continuity scoring: %w", err)
	}

	resultJSON, _ := json.Marshal(map[string]any{"summary_path": path, "stats": stats})
	return deps.Queue.Complete(ctx, job, string(resultJSON))
}

// runLibrarian prompts the chat model with the session's injected
// memories and asks for a narrative summary plus durable facts. The
// prompt lists only the memory IDs; their content is not loaded or
// included.
func runLibrarian(ctx context.Context, chat llm.Provider, model, sessionKey string, memoryIDs []string) (*librarianResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the librarian for session %s. Below are the memories that were\n", sessionKey)
	b.WriteString("injected into this session's context. Write a short markdown summary\n")
	b.WriteString("(start with a single ## heading) of what happened, then list any new,\n")
	b.WriteString("durable facts worth remembering that are not already covered by the\n")
	b.WriteString("memories below. Respond as JSON only: {\"summary\": \"...\", \"facts\": [\"...\"]}.\n\n")
	for _, id := range memoryIDs {
		fmt.Fprintf(&b, "- %s\n", id)
	}

	resp, err := chat.Generate(ctx, llm.Request{
		Model:          model,
		Messages:       []llm.Message{{Role: "user", Content: b.String()}},
		Temperature:    0.3,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	var result librarianResult
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("decoding librarian response: %w", err)
	}
	return &result, nil
}

func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "{}"
	}
	return raw[start : end+1]
}

var headingRe = regexp.MustCompile(`(?m)^##\s+(.+)$`)
var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// writeSummaryFile writes markdown to <dataDir>/memory/YYYY-MM-DD-<slug>.md,
// slugging the first ## heading. Collisions are resolved first by
// appending -2, -3, ... up to -50, then, if every one of those is taken,
// by falling back to a unix-timestamp suffix.
func writeSummaryFile(dataDir, markdown string) (string, error) {
	dir := filepath.Join(dataDir, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	slug := "session"
	if m := headingRe.FindStringSubmatch(markdown); len(m) == 2 {
		s := strings.ToLower(strings.TrimSpace(m[1]))
		s = slugRe.ReplaceAllString(s, "-")
		s = strings.Trim(s, "-")
		if s != "" {
			slug = s
		}
	}

	date := time.Now().Format("2006-01-02")
	base := fmt.Sprintf("%s-%s", date, slug)
	path := filepath.Join(dir, base+".md")

	for n := 2; n <= 50; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
				return "", err
			}
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.md", base, n))
	}

	// Every numbered suffix up to 50 collided; fall back to a
	// timestamp so the write never fails outright.
	path = filepath.Join(dir, fmt.Sprintf("%s-%d.md", base, time.Now().Unix()))
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// scoreSessionContinuity asks the chat model to rate, per memory, how
// useful each injected memory actually was to the session, then folds
// the mean into the session's overall continuity score.
func scoreSessionContinuity(ctx context.Context, deps Deps, model, sessionKey string, memoryIDs []string) error {
	if len(memoryIDs) == 0 || deps.Chat == nil {
		return nil
	}

	var b strings.Builder
	b.WriteString("Rate each memory ID's usefulness to the session on 0.0-1.0. ")
	b.WriteString("Respond as JSON only: {\"scores\": {\"<id>\": 0.0, ...}}.\n\n")
	for _, id := range memoryIDs {
		fmt.Fprintf(&b, "- %s\n", id)
	}

	resp, err := deps.Chat.Generate(ctx, llm.Request{
		Model:          model,
		Messages:       []llm.Message{{Role: "user", Content: b.String()}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return err
	}

	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		return fmt.Errorf("decoding continuity scores: %w", err)
	}

	var sum float64
	var n int
	for _, id := range memoryIDs {
		relevance, ok := parsed.Scores[id]
		if !ok {
			continue
		}
		if err := deps.Store.SetSessionMemoryRelevance(ctx, sessionKey, id, relevance); err != nil {
			return err
		}
		sum += relevance
		n++
	}
	if n == 0 {
		return nil
	}
	return deps.Store.SetSessionScore(ctx, sessionKey, sum/float64(n))
}
