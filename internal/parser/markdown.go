package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkdownParser scans a markdown file line by line, flushing the
// accumulated section whenever the content type changes: an ATX heading
// starts a new section at its depth, a fenced code block starts and ends
// a code section, and a run of table or list lines is kept together as
// one section of that type. This mirrors the heading/content-type
// accumulation style the teacher's PDF parser uses for page text, applied
// to a plain line scan instead of page boundaries.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{".md", ".markdown"} }

func (p *MarkdownParser) Parse(path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	doc := &ParsedDocument{Format: "markdown", Title: filepath.Base(path), TotalChars: len(data)}

	var sections []Section

	var cur strings.Builder
	curType := "paragraph"
	curStart := 1
	var curHeading string
	curDepth := 1
	inFence := false
	fenceLang := ""

	flush := func(endLine int) {
		content := strings.TrimRight(cur.String(), "\n")
		if strings.TrimSpace(content) == "" {
			cur.Reset()
			return
		}
		sec := Section{
			Heading:     curHeading,
			Depth:       curDepth,
			Content:     content,
			Type:        curType,
			ContentType: curType,
			Language:    fenceLang,
			LineStart:   curStart,
			LineEnd:     endLine,
		}
		sections = append(sections, sec)
		cur.Reset()
	}

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		fenceMarker := strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
		if fenceMarker {
			if !inFence {
				flush(lineNo - 1)
				inFence = true
				fenceLang = strings.TrimSpace(strings.TrimLeft(trimmed, "`~"))
				curType = "code"
				curStart = lineNo
				continue
			}
			flush(lineNo)
			inFence = false
			fenceLang = ""
			curType = "paragraph"
			curStart = lineNo + 1
			continue
		}
		if inFence {
			cur.WriteString(line)
			cur.WriteString("\n")
			continue
		}

		if depth, heading, ok := atxHeading(trimmed); ok {
			flush(lineNo - 1)
			curHeading = heading
			curDepth = depth
			curType = "paragraph"
			curStart = lineNo + 1
			continue
		}

		nextType := "paragraph"
		switch {
		case strings.HasPrefix(trimmed, "|"):
			nextType = "table"
		case strings.HasPrefix(trimmed, ">"):
			nextType = "definition"
		case isListLine(trimmed):
			nextType = "requirement"
		}
		if trimmed == "" {
			nextType = curType
		}
		if nextType != curType {
			flush(lineNo - 1)
			curType = nextType
			curStart = lineNo
		}

		cur.WriteString(line)
		cur.WriteString("\n")
	}
	flush(len(lines))

	doc.Sections = nestByDepth(sections)
	return doc, nil
}

// atxHeading parses a leading run of 1-6 '#' characters followed by a
// space as a heading line, returning its depth and text.
func atxHeading(line string) (depth int, heading string, ok bool) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 {
		return 0, "", false
	}
	if i >= len(line) || line[i] != ' ' {
		return 0, "", false
	}
	return i, strings.TrimSpace(line[i+1:]), true
}

func isListLine(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "+ ") {
		return true
	}
	// "1. " / "12) " style ordered items.
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return false
	}
	return (line[i] == '.' || line[i] == ')') && i+1 < len(line) && line[i+1] == ' '
}

// nestByDepth groups a flat, depth-tagged section list into a tree: a
// section at depth d becomes a child of the most recent section seen at
// depth < d. Built bottom-up from indices rather than pointers, since
// append() may reallocate and invalidate a pointer into a growing slice.
func nestByDepth(flat []Section) []Section {
	n := len(flat)
	children := make([][]int, n)
	var roots []int
	var stack []int // indices, strictly increasing depth

	for i, sec := range flat {
		for len(stack) > 0 && flat[stack[len(stack)-1]].Depth >= sec.Depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, i)
		} else {
			parent := stack[len(stack)-1]
			children[parent] = append(children[parent], i)
		}
		stack = append(stack, i)
	}

	var build func(i int) Section
	build = func(i int) Section {
		sec := flat[i]
		sec.Children = nil
		for _, c := range children[i] {
			sec.Children = append(sec.Children, build(c))
		}
		return sec
	}

	out := make([]Section, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}
