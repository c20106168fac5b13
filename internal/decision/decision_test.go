package decision

import "testing"

func TestNormalizeContent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello,  World!", "hello world"},
		{"  leading and trailing  ", "leading and trailing"},
		{"Multi\nLine\tText", "multi line text"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeContent(c.in); got != c.want {
			t.Errorf("NormalizeContent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestContentHashDeterministic(t *testing.T) {
	n := NormalizeContent("The sky is blue.")
	h1 := ContentHash(n)
	h2 := ContentHash(n)
	if h1 != h2 {
		t.Fatalf("ContentHash not deterministic: %q vs %q", h1, h2)
	}
	if h1 == ContentHash(NormalizeContent("The sky is red.")) {
		t.Fatalf("ContentHash collided for different content")
	}
}

func TestLexicalOverlap(t *testing.T) {
	a := "The database connection pool defaults to ten"
	b := "The connection pool configuration defaults elsewhere"
	if got := lexicalOverlap(a, b); got < 2 {
		t.Errorf("lexicalOverlap(%q, %q) = %d, want >= 2", a, b, got)
	}
	if got := lexicalOverlap("cats and dogs", "quantum physics today"); got != 0 {
		t.Errorf("expected no overlap, got %d", got)
	}
}

func TestSyntacticContradictionNegation(t *testing.T) {
	a := "The service is enabled by default"
	b := "The service is not enabled by default"
	if !syntacticContradiction(a, b) {
		t.Errorf("expected negation contradiction between %q and %q", a, b)
	}
}

func TestSyntacticContradictionAntonym(t *testing.T) {
	a := "Feature flag rollout is enabled for staging"
	b := "Feature flag rollout is disabled for staging"
	if !syntacticContradiction(a, b) {
		t.Errorf("expected antonym contradiction between %q and %q", a, b)
	}
}

func TestSyntacticContradictionNone(t *testing.T) {
	a := "The API returns JSON"
	b := "The API also supports XML"
	if syntacticContradiction(a, b) {
		t.Errorf("did not expect a contradiction between %q and %q", a, b)
	}
}

func TestHighestSimilarity(t *testing.T) {
	cands := []Candidate{
		{MemoryID: "a", Score: 0.2},
		{MemoryID: "b", Score: 0.9},
		{MemoryID: "c", Score: 0.5},
	}
	best := highestSimilarity(cands)
	if best == nil || best.MemoryID != "b" {
		t.Fatalf("expected candidate b, got %+v", best)
	}
	if highestSimilarity(nil) != nil {
		t.Errorf("expected nil for empty candidate slice")
	}
}

func TestParseContradictionJSONTolerant(t *testing.T) {
	raw := "Sure, here you go:\n{\"contradicts\": true, \"confidence\": 0.8}\nHope that helps."
	var out struct {
		Contradicts bool    `json:"contradicts"`
		Confidence  float64 `json:"confidence"`
	}
	if err := parseContradictionJSON(raw, &out); err != nil {
		t.Fatalf("parseContradictionJSON: %v", err)
	}
	if !out.Contradicts || out.Confidence != 0.8 {
		t.Errorf("got %+v", out)
	}
}

func TestParseContradictionJSONNoObject(t *testing.T) {
	var out map[string]any
	if err := parseContradictionJSON("no json here", &out); err == nil {
		t.Errorf("expected error for input with no JSON object")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig(Config{})
	if cfg.ContradictionConfidence != 0.7 {
		t.Errorf("ContradictionConfidence = %v, want 0.7", cfg.ContradictionConfidence)
	}
	if cfg.HighSimilarityThreshold != 0.85 {
		t.Errorf("HighSimilarityThreshold = %v, want 0.85", cfg.HighSimilarityThreshold)
	}
	if cfg.CandidateK != 10 {
		t.Errorf("CandidateK = %v, want 10", cfg.CandidateK)
	}

	cfg2 := defaultConfig(Config{CandidateK: 5})
	if cfg2.CandidateK != 5 {
		t.Errorf("explicit CandidateK overridden: got %v, want 5", cfg2.CandidateK)
	}
}
