package extractor

import "testing"

func TestExtractJSONBalanced(t *testing.T) {
	raw := `some preamble {"items": [{"content": "a {nested} brace", "type": "fact"}]} trailing notes`
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	want := `{"items": [{"content": "a {nested} brace", "type": "fact"}]}`
	if got != want {
		t.Errorf("extractJSON = %q, want %q", got, want)
	}
}

func TestExtractJSONFencedCodeBlock(t *testing.T) {
	raw := "```json\n{\"items\": []}\n```"
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"items": []}` {
		t.Errorf("extractJSON = %q", got)
	}
}

func TestExtractJSONFallbackUnbalanced(t *testing.T) {
	raw := `prefix { "items": [ { broken ] } suffix`
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got == "" {
		t.Errorf("expected a non-empty fallback slice")
	}
}

func TestExtractJSONNoBrace(t *testing.T) {
	if _, err := extractJSON("no json here"); err == nil {
		t.Errorf("expected error when no '{' present")
	}
}

func TestRepairJSONTrailingComma(t *testing.T) {
	got := repairJSON(`{"a": 1, "b": 2,}`)
	if got != `{"a": 1, "b": 2}` {
		t.Errorf("repairJSON trailing comma = %q", got)
	}
}

func TestRepairJSONEmbeddedNewline(t *testing.T) {
	got := repairJSON("{\"content\": \"line one\nline two\"}")
	if got != `{"content": "line one\nline two"}` {
		t.Errorf("repairJSON embedded newline = %q", got)
	}
}

func TestParseAndNormalizeItemsAndFacts(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"facts": [{"content": "The API rate limit is 100 requests per minute", "type": "fact", "confidence": 0.9}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d (warnings: %v)", len(result.Items), result.Warnings)
	}
	if result.Items[0].Type != "fact" {
		t.Errorf("Type = %q, want fact", result.Items[0].Type)
	}
}

func TestParseAndNormalizeSynonymMapping(t *testing.T) {
	flavor := ConversationFlavor()
	raw := `{"items": [{"content": "Rotate the deploy key every quarter per policy", "type": "action-item", "confidence": 0.8}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d (warnings: %v)", len(result.Items), result.Warnings)
	}
	if result.Items[0].Type != "decision" {
		t.Errorf("Type = %q, want decision (action-item synonym)", result.Items[0].Type)
	}
}

func TestParseAndNormalizeUnknownTypeFallsBackToDefault(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"items": [{"content": "Some durable standalone statement of fact here", "type": "bogus", "confidence": 0.5}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Items) != 1 || result.Items[0].Type != flavor.DefaultType {
		t.Fatalf("expected fallback to default type %q, got %+v", flavor.DefaultType, result.Items)
	}
}

func TestParseAndNormalizeDropsShortContent(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"items": [{"content": "too short", "type": "fact", "confidence": 0.9}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Items) != 0 {
		t.Fatalf("expected short content dropped, got %d items", len(result.Items))
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected one warning, got %d", len(result.Warnings))
	}
}

func TestParseAndNormalizeDropsLowConfidence(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"items": [{"content": "A long enough standalone statement of fact", "type": "fact", "confidence": 0.05}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Items) != 0 {
		t.Fatalf("expected low-confidence item dropped, got %d", len(result.Items))
	}
}

func TestParseAndNormalizeRelationsEntitiesAlias(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"items": [], "entities": [{"source": "React", "target": "JSX", "relationship": "uses", "confidence": 0.9}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Relations) != 1 {
		t.Fatalf("expected 1 relation via 'entities' alias, got %d", len(result.Relations))
	}
}

func TestParseAndNormalizeDropsIncompleteRelation(t *testing.T) {
	flavor := DocumentFlavor()
	raw := `{"relations": [{"source": "React", "target": "", "relationship": "uses", "confidence": 0.9}]}`
	result := parseAndNormalize(raw, flavor)
	if len(result.Relations) != 0 {
		t.Fatalf("expected incomplete relation dropped, got %d", len(result.Relations))
	}
}

func TestParseAndNormalizeInvalidJSONWarns(t *testing.T) {
	result := parseAndNormalize("not json at all", DocumentFlavor())
	if len(result.Items) != 0 || len(result.Warnings) == 0 {
		t.Fatalf("expected a warning and no items for unparseable input, got %+v", result)
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{1.5, 1},
		{-0.5, 0},
		{0.42, 0.42},
		{"0.7", 0.7},
		{nil, 0.5},
	}
	for _, c := range cases {
		if got := clampConfidence(c.in); got != c.want {
			t.Errorf("clampConfidence(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
