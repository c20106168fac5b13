package parser

import (
	"fmt"
	"os"
	"path/filepath"
)

// TextParser handles plain text files with no internal structure: the
// whole file becomes one section.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{".txt", "text"} }

func (p *TextParser) Parse(path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := string(data)
	doc := &ParsedDocument{
		Format:     "text",
		Title:      filepath.Base(path),
		TotalChars: len(content),
	}
	if content == "" {
		return doc, nil
	}

	doc.Sections = []Section{{
		Heading:     filepath.Base(path),
		Depth:       1,
		Content:     content,
		Type:        "paragraph",
		ContentType: "text",
		LineStart:   1,
		LineEnd:     lineCount(content),
	}}
	return doc, nil
}

func lineCount(s string) int {
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
