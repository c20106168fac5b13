package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractJSONObjectPlain(t *testing.T) {
	raw := `{"continuity_score": 0.8}`
	if got := extractJSONObject(raw); got != raw {
		t.Errorf("extractJSONObject(%q) = %q, want unchanged", raw, got)
	}
}

func TestExtractJSONObjectStripsFencedCodeBlock(t *testing.T) {
	raw := "```json\n{\"continuity_score\": 0.5}\n```"
	got := extractJSONObject(raw)
	if got != `{"continuity_score": 0.5}` {
		t.Errorf("extractJSONObject fenced block = %q", got)
	}
}

func TestExtractJSONObjectWithSurroundingProse(t *testing.T) {
	raw := "Sure, here it is:\n{\"a\": 1}\nLet me know if you need more."
	if got := extractJSONObject(raw); got != `{"a": 1}` {
		t.Errorf("extractJSONObject with prose = %q", got)
	}
}

func TestExtractJSONObjectNoBraces(t *testing.T) {
	if got := extractJSONObject("no json at all"); got != "{}" {
		t.Errorf("extractJSONObject with no braces = %q, want {}", got)
	}
}

func TestWriteSummaryFileSlugsHeading(t *testing.T) {
	dir := t.TempDir()
	md := "## Auth Refactor Kickoff\n\nDiscussed rolling out the new token scheme."
	path, err := writeSummaryFile(dir, md)
	if err != nil {
		t.Fatalf("writeSummaryFile: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "auth-refactor-kickoff") {
		t.Errorf("path %q does not contain slugged heading", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written summary: %v", err)
	}
	if string(data) != md {
		t.Errorf("written content mismatch: got %q want %q", data, md)
	}
}

func TestWriteSummaryFileFallsBackToSessionSlug(t *testing.T) {
	dir := t.TempDir()
	path, err := writeSummaryFile(dir, "no heading here, just prose")
	if err != nil {
		t.Fatalf("writeSummaryFile: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "-session.md") {
		t.Errorf("path %q does not contain fallback session slug", path)
	}
}

func TestWriteSummaryFileHandlesCollisions(t *testing.T) {
	dir := t.TempDir()
	md := "## Same Heading\n\nfirst"
	first, err := writeSummaryFile(dir, md)
	if err != nil {
		t.Fatalf("writeSummaryFile first: %v", err)
	}
	second, err := writeSummaryFile(dir, md)
	if err != nil {
		t.Fatalf("writeSummaryFile second: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths for colliding slugs, both were %q", first)
	}
	if !strings.HasSuffix(second, "-2.md") {
		t.Errorf("second path = %q, want -2 suffix", second)
	}
}
