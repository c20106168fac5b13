// Package extractor turns raw chunk text into typed memory items and
// relations via an LLM prompt/parse/normalize pipeline. It never
// returns an error for an LLM failure; callers get an empty result
// plus a warning instead, since an extraction failure should never
// halt the pipeline that feeds the job queue.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/mnemo/internal/llm"
)

// Item is one extracted memory candidate.
type Item struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Relation is one extracted relationship between two entity names.
type Relation struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
}

// Result is the normalized output of an extraction call. A failed LLM
// call still produces a Result, just with empty Items/Relations and a
// Warnings entry describing why.
type Result struct {
	Items       []Item
	Relations   []Relation
	Warnings    []string
	ModelUsed   string
	TotalTokens int
}

// Flavor parameterizes the extractor for document, chat, or session
// content: its type taxonomy, synonym table, and minimum thresholds
// differ per source kind even though the parser is shared.
type Flavor struct {
	Name            string
	SystemPrompt    string
	ValidTypes      map[string]bool
	Synonyms        map[string]string // alternative type name -> canonical type
	DefaultType     string
	MinContentChars int
	MinConfidence   float64
}

// DocumentFlavor extracts the document type taxonomy: fact, decision,
// rationale, preference, procedural, semantic, system.
func DocumentFlavor() Flavor {
	return Flavor{
		Name:         "document",
		SystemPrompt: documentSystemPrompt,
		ValidTypes: map[string]bool{
			"fact": true, "decision": true, "rationale": true, "preference": true,
			"procedural": true, "semantic": true, "system": true,
		},
		Synonyms:        map[string]string{"configuration": "system", "architectural": "decision"},
		DefaultType:      "fact",
		MinContentChars: 20,
		MinConfidence:   0.3,
	}
}

// ConversationFlavor extracts chat/session content, adding the "skill"
// type and a synonym table geared toward action-oriented language.
func ConversationFlavor() Flavor {
	return Flavor{
		Name:         "conversation",
		SystemPrompt: conversationSystemPrompt,
		ValidTypes: map[string]bool{
			"fact": true, "decision": true, "rationale": true, "preference": true,
			"procedural": true, "semantic": true, "system": true, "skill": true,
		},
		Synonyms: map[string]string{
			"configuration": "system",
			"architectural": "decision",
			"action-item":   "decision",
			"action_item":   "decision",
			"howto":         "procedural",
		},
		DefaultType:      "fact",
		MinContentChars: 15,
		MinConfidence:   0.3,
	}
}

// Extractor runs a flavor's prompt against an LLM provider and parses
// the response into typed items and relations.
type Extractor struct {
	provider llm.Provider
	model    string
}

func New(provider llm.Provider, model string) *Extractor {
	return &Extractor{provider: provider, model: model}
}

// Extract prompts the LLM with the flavor's system prompt plus the
// chunk's text and returns a normalized Result. It never returns a
// non-nil error: failures are folded into Result.Warnings.
func (e *Extractor) Extract(ctx context.Context, flavor Flavor, content string) *Result {
	resp, err := e.provider.Generate(ctx, llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: flavor.SystemPrompt},
			{Role: "user", Content: content},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return &Result{Warnings: []string{fmt.Sprintf("llm call failed: %v", err)}}
	}

	result := parseAndNormalize(resp.Content, flavor)
	result.ModelUsed = resp.Model
	result.TotalTokens = resp.TotalTokens
	return result
}

// codeBlockRe strips a markdown fence the model may have wrapped its
// JSON in, with or without a "json" language tag.
var codeBlockRe = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// rawExtraction is the shape the shared parser accepts on the wire,
// tolerant of the "facts"/"items" and "entities"/"relations" naming
// variance different prompt revisions have produced historically.
type rawExtraction struct {
	Items     []rawItem     `json:"items"`
	Facts     []rawItem     `json:"facts"`
	Relations []rawRelation `json:"relations"`
	Entities  []rawRelation `json:"entities"`
}

type rawItem struct {
	Content    string      `json:"content"`
	Type       string      `json:"type"`
	Confidence interface{} `json:"confidence"`
}

type rawRelation struct {
	Source       string      `json:"source"`
	Target       string      `json:"target"`
	Relationship string      `json:"relationship"`
	RelationType string      `json:"relation_type"`
	Confidence   interface{} `json:"confidence"`
}

func parseAndNormalize(raw string, flavor Flavor) *Result {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return &Result{Warnings: []string{fmt.Sprintf("no JSON object found in response: %v", err)}}
	}

	var parsed rawExtraction
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		repaired := repairJSON(jsonText)
		if err2 := json.Unmarshal([]byte(repaired), &parsed); err2 != nil {
			return &Result{Warnings: []string{fmt.Sprintf("invalid JSON in response: %v", err)}}
		}
	}

	rawItems := parsed.Items
	if len(rawItems) == 0 {
		rawItems = parsed.Facts
	}
	rawRelations := parsed.Relations
	if len(rawRelations) == 0 {
		rawRelations = parsed.Entities
	}

	result := &Result{}
	for _, ri := range rawItems {
		item, warning := normalizeItem(ri, flavor)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
			continue
		}
		result.Items = append(result.Items, item)
	}
	for _, rr := range rawRelations {
		rel, warning := normalizeRelation(rr, flavor)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
			continue
		}
		result.Relations = append(result.Relations, rel)
	}
	return result
}

func normalizeItem(ri rawItem, flavor Flavor) (Item, string) {
	content := strings.TrimSpace(ri.Content)
	if content == "" {
		return Item{}, "dropped item: empty content"
	}
	if len(content) < flavor.MinContentChars {
		return Item{}, fmt.Sprintf("dropped item: content below minimum length (%d < %d)", len(content), flavor.MinContentChars)
	}

	itemType := strings.ToLower(strings.TrimSpace(ri.Type))
	if canonical, ok := flavor.Synonyms[itemType]; ok {
		itemType = canonical
	}
	if !flavor.ValidTypes[itemType] {
		itemType = flavor.DefaultType
	}

	confidence := clampConfidence(ri.Confidence)
	if confidence < flavor.MinConfidence {
		return Item{}, fmt.Sprintf("dropped item: confidence %.2f below minimum %.2f", confidence, flavor.MinConfidence)
	}

	return Item{Content: content, Type: itemType, Confidence: confidence}, ""
}

func normalizeRelation(rr rawRelation, flavor Flavor) (Relation, string) {
	source := strings.TrimSpace(rr.Source)
	target := strings.TrimSpace(rr.Target)
	relType := strings.TrimSpace(rr.Relationship)
	if relType == "" {
		relType = strings.TrimSpace(rr.RelationType)
	}
	if source == "" || target == "" || relType == "" {
		return Relation{}, "dropped relation: missing source, target, or relationship"
	}

	confidence := clampConfidence(rr.Confidence)
	if confidence < flavor.MinConfidence {
		return Relation{}, fmt.Sprintf("dropped relation: confidence %.2f below minimum %.2f", confidence, flavor.MinConfidence)
	}

	return Relation{Source: source, Target: target, Relationship: relType, Confidence: confidence}, ""
}

func clampConfidence(v interface{}) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		fmt.Sscanf(val, "%f", &f)
	default:
		f = 0.5
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// extractJSON finds a balanced {...} object in raw text, scanning
// string/escape state so braces inside quoted strings don't confuse
// the match; falls back to a naive first-'{'/last-'}' slice if no
// balanced match is found.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	if start < 0 {
		return "", fmt.Errorf("no '{' found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}

	end := strings.LastIndex(raw, "}")
	if end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no balanced JSON object found")
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	embeddedNewline = regexp.MustCompile(`"[^"]*"`)
)

// repairJSON fixes the two most common LLM JSON faults: trailing
// commas before a closing bracket, and literal newlines inside quoted
// strings (which json.Unmarshal rejects).
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = embeddedNewline.ReplaceAllStringFunc(s, func(match string) string {
		return strings.ReplaceAll(match, "\n", "\\n")
	})
	return s
}

const documentSystemPrompt = `You extract atomic, self-contained, durable knowledge items from the following document excerpt.

Rules:
- Each item must stand alone without needing surrounding context.
- Use one of these types: fact, decision, rationale, preference, procedural, semantic, system.
- Do not invent information not present in the text.
- confidence is a number from 0 to 1 reflecting how certain the extraction is.
- Return JSON only, no prose, no markdown fences, in this exact shape:
{"items": [{"content": "...", "type": "...", "confidence": 0.9}], "relations": [{"source": "...", "target": "...", "relationship": "...", "confidence": 0.8}]}`

const conversationSystemPrompt = `You extract atomic, self-contained, durable knowledge items from the following conversation or coding-session transcript.

Rules:
- Each item must stand alone without needing surrounding context.
- Use one of these types: fact, decision, rationale, preference, procedural, semantic, system, skill.
- Capture decisions made, preferences stated, and skills demonstrated, not just facts.
- Do not invent information not present in the text.
- confidence is a number from 0 to 1 reflecting how certain the extraction is.
- Return JSON only, no prose, no markdown fences, in this exact shape:
{"items": [{"content": "...", "type": "...", "confidence": 0.9}], "relations": [{"source": "...", "target": "...", "relationship": "...", "confidence": 0.8}]}`
