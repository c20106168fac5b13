package parser

import "fmt"

// Registry maps a format tag (file extension or source-type string) to
// the Parser that handles it.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a Registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	builtins := []Parser{
		&MarkdownParser{},
		&TextParser{},
		&PDFParser{},
		&ChatExportParser{},
		&CodeRepoParser{},
		&SessionTranscriptParser{},
		&DOCXParser{},
		&XLSXParser{},
		&PPTXParser{},
		&LegacyParser{},
	}
	for _, p := range builtins {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser registered for format, or an error if none is.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// Register installs or overrides the parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
