package parser

import "fmt"

// LegacyParser rejects pre-OOXML binary office formats (.doc, .ppt)
// outright: no parser in this package can read the OLE compound file
// format they use, and parsers here never reach out to an external
// conversion service. .xls is handled by XLSXParser instead, since
// excelize itself reads the older binary workbook format.
type LegacyParser struct{}

func (p *LegacyParser) SupportedFormats() []string { return []string{".doc", ".ppt"} }

func (p *LegacyParser) Parse(path string) (*ParsedDocument, error) {
	return nil, fmt.Errorf("legacy binary office format not supported, convert to docx/xlsx/pptx first: %s", path)
}
