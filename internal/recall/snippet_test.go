package recall

import "testing"

func TestExtractSnippetPicksHighestOverlapSentence(t *testing.T) {
	content := "The weather today is mild. The deploy pipeline requires manual approval. Lunch is at noon."
	answerWords := significantWordSet("deploy pipeline approval")
	got := extractSnippet(content, answerWords)
	if got == "" {
		t.Fatalf("expected a non-empty snippet")
	}
	if !containsAll(got, []string{"deploy", "pipeline"}) {
		t.Errorf("snippet %q does not contain the highest-overlap sentence", got)
	}
}

func TestExtractSnippetNoOverlapReturnsEmpty(t *testing.T) {
	content := "Completely unrelated filler content about gardening."
	answerWords := significantWordSet("database connection pool timeout")
	if got := extractSnippet(content, answerWords); got != "" {
		t.Errorf("expected empty snippet for no overlap, got %q", got)
	}
}

func TestExtractSnippetEmptyInputs(t *testing.T) {
	if got := extractSnippet("", map[string]bool{"x": true}); got != "" {
		t.Errorf("expected empty snippet for empty content, got %q", got)
	}
	if got := extractSnippet("some content", nil); got != "" {
		t.Errorf("expected empty snippet for nil answer words, got %q", got)
	}
}

func TestSignificantWordsExcludesStopWordsAndShortTokens(t *testing.T) {
	words := significantWords("that would be nice but database migration failed")
	if words["that"] || words["would"] {
		t.Errorf("stop words leaked into significant words: %+v", words)
	}
	if words["be"] {
		t.Errorf("short token leaked into significant words: %+v", words)
	}
	if !words["database"] || !words["migration"] || !words["failed"] {
		t.Errorf("expected content words present, got %+v", words)
	}
}

func TestSnippetSplitSentencesHandlesTrailingFragment(t *testing.T) {
	sentences := snippetSplitSentences("One. Two! Three without terminator")
	if len(sentences) != 3 {
		t.Fatalf("got %d sentences, want 3: %+v", len(sentences), sentences)
	}
	if sentences[2] != "Three without terminator" {
		t.Errorf("sentences[2] = %q, want trailing fragment preserved", sentences[2])
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
