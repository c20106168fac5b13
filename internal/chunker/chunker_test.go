package chunker

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/mnemo/internal/parser"
)

func TestChunkShortSectionStaysWhole(t *testing.T) {
	c := New(Config{})
	doc := &parser.ParsedDocument{
		Sections: []parser.Section{
			{Heading: "Intro", Content: "A short paragraph about nothing in particular.", ContentType: "paragraph"},
		},
	}
	chunks := c.Chunk(doc)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Heading != "Intro" {
		t.Errorf("Heading = %q, want Intro", chunks[0].Heading)
	}
	if chunks[0].Position != 0 {
		t.Errorf("Position = %d, want 0", chunks[0].Position)
	}
}

func TestChunkSplitsLongSectionAndAddsPartSuffix(t *testing.T) {
	c := New(Config{MaxTokens: 20, MinTokens: 1, OverlapTokens: 2})
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This is paragraph number filler text that repeats.\n\n")
	}
	doc := &parser.ParsedDocument{
		Sections: []parser.Section{
			{Heading: "Long Section", Content: b.String(), ContentType: "paragraph"},
		},
	}
	chunks := c.Chunk(doc)
	if len(chunks) < 2 {
		t.Fatalf("expected section to split into multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		want := "Long Section (part " + itoa(i+1) + ")"
		if ch.Heading != want {
			t.Errorf("chunk %d Heading = %q, want %q", i, ch.Heading, want)
		}
		if ch.Position != i {
			t.Errorf("chunk %d Position = %d, want %d", i, ch.Position, i)
		}
	}
}

func TestChunkWalksNestedChildren(t *testing.T) {
	c := New(Config{})
	doc := &parser.ParsedDocument{
		Sections: []parser.Section{
			{
				Heading: "Parent",
				Content: "Parent body text.",
				Children: []parser.Section{
					{Heading: "Child", Content: "Child body text."},
				},
			},
		},
	}
	chunks := c.Chunk(doc)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (parent + child)", len(chunks))
	}
	if chunks[0].Heading != "Parent" || chunks[1].Heading != "Child" {
		t.Errorf("unexpected heading order: %q, %q", chunks[0].Heading, chunks[1].Heading)
	}
}

func TestChunkSkipsBlankSections(t *testing.T) {
	c := New(Config{})
	doc := &parser.ParsedDocument{
		Sections: []parser.Section{
			{Heading: "Empty", Content: "   "},
			{Heading: "Real", Content: "Has actual content."},
		},
	}
	chunks := c.Chunk(doc)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (blank section skipped)", len(chunks))
	}
	if chunks[0].Heading != "Real" {
		t.Errorf("Heading = %q, want Real", chunks[0].Heading)
	}
}

func TestContentHashStableForSameFragment(t *testing.T) {
	c := New(Config{})
	doc := &parser.ParsedDocument{
		Sections: []parser.Section{
			{Heading: "A", Content: "identical text"},
			{Heading: "B", Content: "identical text"},
		},
	}
	chunks := c.Chunk(doc)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ContentHash != chunks[1].ContentHash {
		t.Errorf("expected identical content to hash the same: %q vs %q", chunks[0].ContentHash, chunks[1].ContentHash)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
