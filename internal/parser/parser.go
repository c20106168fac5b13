// Package parser turns raw source material (markdown files, PDFs, chat
// exports, code repositories, session transcripts, office documents) into
// a structure-preserving ParsedDocument the chunker can consume.
package parser

// Section is one structural unit of a parsed document: a heading and its
// body text, optionally nested under a parent section.
type Section struct {
	Heading     string            `json:"heading"`
	Depth       int               `json:"depth"`
	Content     string            `json:"content"`
	Type        string            `json:"type"` // paragraph, table, code, definition, requirement
	ContentType string            `json:"content_type"`
	Language    string            `json:"language,omitempty"`
	PageNumber  int               `json:"page_number,omitempty"`
	LineStart   int               `json:"line_start,omitempty"`
	LineEnd     int               `json:"line_end,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Children    []Section         `json:"children,omitempty"`
}

// ExtractedImage is an image pulled out of a source document during
// parsing, kept for optional vision captioning (SPEC_FULL.md §10).
type ExtractedImage struct {
	PageNumber int    `json:"page_number"`
	MimeType   string `json:"mime_type"`
	Data       []byte `json:"-"`
	Caption    string `json:"caption,omitempty"`
}

// ParsedDocument is the output of a Parser: the document's sections plus
// whole-document metadata.
type ParsedDocument struct {
	Format     string            `json:"format"`
	Title      string            `json:"title,omitempty"`
	Language   string            `json:"language,omitempty"`
	Sections   []Section         `json:"sections"`
	Images     []ExtractedImage  `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TotalChars int               `json:"total_chars"`
}

// Parser converts raw bytes from one source format into a ParsedDocument.
type Parser interface {
	// Parse reads the document at path (or, for non-file sources, an
	// identifier meaningful to the implementation) and returns its
	// structure.
	Parse(path string) (*ParsedDocument, error)
	// SupportedFormats lists the file extensions or source-type tags
	// this parser handles, e.g. []string{".md", ".markdown"}.
	SupportedFormats() []string
}
