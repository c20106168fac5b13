// Package chunker converts parsed document sections into token-bounded,
// overlap-seeded fragments ready for embedding and extraction.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/brunobiangulo/mnemo/internal/parser"
)

// Config controls chunking behaviour.
type Config struct {
	MaxTokens     int // upper bound on a chunk's estimated token count
	MinTokens     int // a split fragment below this floor is merged into the chunk before it; a section that fits in one fragment is kept at any size
	OverlapTokens int // trailing context carried into the next fragment
}

// Chunk is one chunker-produced fragment, still addressed by its position
// in the originating document; real store IDs are assigned on insert.
type Chunk struct {
	Position    int
	Heading     string
	Content     string
	ContentType string
	Language    string
	TokenCount  int
	ContentHash string
	SourcePath  string
}

// Chunker converts parsed sections into Chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value fields
// fall back to sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.MinTokens == 0 {
		cfg.MinTokens = 100
	}
	if cfg.OverlapTokens == 0 {
		cfg.OverlapTokens = 200
	}
	return &Chunker{cfg: cfg}
}

// Chunk walks a parsed document's sections depth-first, producing a flat,
// position-ordered list of fragments. Deterministic: a pure function of
// (doc, cfg).
func (c *Chunker) Chunk(doc *parser.ParsedDocument) []Chunk {
	var chunks []Chunk
	pos := 0
	for _, sec := range doc.Sections {
		c.walkSection(sec, &chunks, &pos)
	}
	return chunks
}

func (c *Chunker) walkSection(sec parser.Section, chunks *[]Chunk, pos *int) {
	if strings.TrimSpace(sec.Content) != "" {
		fragments := c.splitContent(sec.Content, sec.ContentType)
		multi := len(fragments) > 1
		for i, frag := range fragments {
			heading := sec.Heading
			if multi {
				heading = fmt.Sprintf("%s (part %d)", sec.Heading, i+1)
			}
			tokens := estimateTokens(frag)
			if tokens < c.cfg.MinTokens && len(fragments) > 1 {
				// Degenerate tail fragment from an overlap-only carry-over;
				// merge it into the previous fragment instead of keeping
				// a near-empty chunk.
				if len(*chunks) > 0 {
					last := &(*chunks)[len(*chunks)-1]
					last.Content = last.Content + "\n\n" + frag
					last.TokenCount = estimateTokens(last.Content)
					continue
				}
			}
			*chunks = append(*chunks, Chunk{
				Position:    *pos,
				Heading:     heading,
				Content:     frag,
				ContentType: sec.ContentType,
				Language:    sec.Language,
				TokenCount:  tokens,
				ContentHash: contentHash(frag),
				SourcePath:  sec.Heading,
			})
			*pos++
		}
	}
	for _, child := range sec.Children {
		c.walkSection(child, chunks, pos)
	}
}

// splitContent breaks text into fragments of at most MaxTokens estimated
// tokens. Code content splits on blank lines then single newlines,
// matching how source files group logically; everything else splits on
// paragraph then sentence boundaries.
func (c *Chunker) splitContent(text, contentType string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	units := splitParagraphs(text)
	if contentType == "code" && len(units) <= 1 {
		units = splitLines(text)
	}

	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlap := ""

	flush := func() {
		if current.Len() == 0 {
			return
		}
		fragments = append(fragments, strings.TrimSpace(current.String()))
		overlap = extractOverlap(current.String(), c.cfg.OverlapTokens)
		current.Reset()
		currentTokens = 0
		if overlap != "" {
			current.WriteString(overlap)
			current.WriteString("\n\n")
			currentTokens = estimateTokens(overlap)
		}
	}

	for _, unit := range units {
		unitTokens := estimateTokens(unit)

		if unitTokens > c.cfg.MaxTokens {
			flush()
			sentenceFragments := c.splitBySentences(unit, overlap)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlap = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.OverlapTokens)
			}
			current.Reset()
			currentTokens = 0
			continue
		}

		if currentTokens+unitTokens > c.cfg.MaxTokens && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(unit)
		currentTokens += unitTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return fragments
}

func (c *Chunker) splitBySentences(text, initialOverlap string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = estimateTokens(initialOverlap)
	}

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.OverlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
				currentTokens = estimateTokens(overlap)
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return fragments
}

// estimateTokens approximates token count as chars/4, the common rule of
// thumb for English text across most tokenizers.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimRight(l, " \t"); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens, advancing the cut to the next
// whitespace so the overlap does not begin mid-word (if no whitespace
// follows the cut, the raw character offset is used).
func extractOverlap(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if maxChars >= len(text) {
		return strings.TrimSpace(text)
	}
	start := len(text) - maxChars
	if idx := strings.IndexAny(text[start:], " \n\t"); idx >= 0 {
		start += idx
	}
	return strings.TrimSpace(text[start:])
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
