package parser

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts text and images page by page, promoting heading-like
// lines to section boundaries and de-duplicating running headers that
// appear on at least a quarter of the pages, and on at least three
// (document titles, footers).
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{".pdf"} }

func (p *PDFParser) Parse(path string) (*ParsedDocument, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sections []Section
	var allImages []ExtractedImage
	totalChars := 0

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		totalChars += len(text)

		pageSections := splitPageIntoSections(text, i)
		sections = append(sections, pageSections...)

		allImages = append(allImages, extractPageImages(page, i)...)
	}

	sections = fixRunningHeaders(sections, totalPages)

	doc := &ParsedDocument{Format: "pdf", Title: filepath.Base(path), TotalChars: totalChars, Images: allImages}
	if len(sections) == 0 {
		doc.Sections = []Section{{Content: "unable to extract text from PDF", Type: "paragraph", ContentType: "text", PageNumber: 1}}
		return doc, nil
	}
	doc.Sections = sections
	return doc, nil
}

// extractPageImages records the page number and MIME type of each XObject
// image on a page, skipping masks, images under 32px, and filters other
// than DCTDecode, FlateDecode or none. The image bytes are not read, so
// ExtractedImage.Data is left empty. Recovers from panics in the
// underlying library's object accessors.
func extractPageImages(page pdf.Page, pageNum int) (images []ExtractedImage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf: panic extracting images, skipping page", "page", pageNum, "panic", r)
			images = nil
		}
	}()

	resources := page.Resources()
	if resources.IsNull() {
		return nil
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return nil
	}

	for _, name := range xobjects.Keys() {
		xobj := xobjects.Key(name)
		if xobj.Key("Subtype").Name() != "Image" || xobj.Key("ImageMask").Bool() {
			continue
		}
		width := int(xobj.Key("Width").Int64())
		height := int(xobj.Key("Height").Int64())
		if width < 32 || height < 32 {
			continue
		}
		filter := xobj.Key("Filter").Name()
		if filter != "DCTDecode" && filter != "FlateDecode" && filter != "" {
			slog.Debug("pdf: unsupported image filter, skipping", "page", pageNum, "filter", filter)
			continue
		}
		mime := "image/png"
		if filter == "DCTDecode" {
			mime = "image/jpeg"
		}
		images = append(images, ExtractedImage{PageNumber: pageNum, MimeType: mime})
	}
	return images
}

// extractPageTextOrdered extracts text sorted by visual position
// (top-to-bottom). The library's GetPlainText reads in content-stream
// order, which can place a heading after the body text it labels.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var parts []string
	for _, l := range lines {
		if text := strings.TrimSpace(l.buf.String()); text != "" {
			parts = append(parts, text)
		}
	}
	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

// splitPageIntoSections breaks page text into logical sections by
// detecting heading-like lines: all-caps, numbered ("3.9.1"), or
// prefixed with a recognized section keyword.
func splitPageIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var body strings.Builder
	var heading string
	depth := 0

	flush := func() {
		if body.Len() > 0 || heading != "" {
			content := strings.TrimSpace(body.String())
			sections = append(sections, Section{
				Heading:     heading,
				Depth:       depth,
				Content:     content,
				Type:        classifySectionType(heading, content),
				ContentType: classifySectionType(heading, content),
				PageNumber:  pageNum,
			})
			body.Reset()
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading = trimmed
			depth = headingDepth(trimmed)
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		body.WriteString(trimmed)
	}
	flush()

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{Content: text, Type: "paragraph", ContentType: "text", PageNumber: pageNum})
	}
	return sections
}

func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 {
		if len(line) > 0 && line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
			return true
		}
		lower := strings.ToLower(line)
		for _, prefix := range []string{"section ", "article ", "chapter ", "part ", "annex "} {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
	}
	return false
}

func headingDepth(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		if dots := strings.Count(parts[0], "."); dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	h := strings.ToLower(heading)
	c := strings.ToLower(content)
	switch {
	case strings.Contains(h, "definition") || strings.Contains(c, "definition"):
		return "definition"
	case strings.Contains(h, "shall") || strings.Contains(h, "must") || strings.Contains(h, "requirement") ||
		strings.Contains(c, "shall") || strings.Contains(c, "must"):
		return "requirement"
	case strings.Contains(h, "table") || strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3:
		return "table"
	default:
		return "paragraph"
	}
}

// fixRunningHeaders replaces headings that appear on at least a quarter
// of the pages, and on at least three (document titles, footers), with
// the last real heading seen, so content
// that continues across a page break stays attached to its real section.
func fixRunningHeaders(sections []Section, totalPages int) []Section {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	headingPages := make(map[string]map[int]bool)
	for _, s := range sections {
		h := normalizeHeading(s.Heading)
		if h == "" {
			continue
		}
		if headingPages[h] == nil {
			headingPages[h] = make(map[int]bool)
		}
		headingPages[h][s.PageNumber] = true
	}

	threshold := totalPages / 4
	if threshold < 3 {
		threshold = 3
	}
	running := make(map[string]bool)
	for h, pages := range headingPages {
		if len(pages) >= threshold {
			running[h] = true
		}
	}
	if len(running) == 0 {
		return sections
	}

	var lastHeading string
	var lastDepth int
	for i := range sections {
		h := normalizeHeading(sections[i].Heading)
		if running[h] {
			if lastHeading != "" {
				sections[i].Heading = lastHeading
				sections[i].Depth = lastDepth
			}
		} else if sections[i].Heading != "" {
			lastHeading = sections[i].Heading
			lastDepth = sections[i].Depth
		}
	}
	return sections
}

func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 || r == '�' {
			h = strings.TrimSpace(h[:len(h)-1])
		} else {
			break
		}
	}
	return h
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
