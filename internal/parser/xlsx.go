package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser turns each sheet of a spreadsheet into one table section,
// rows rendered as a markdown-style pipe table so the chunker and the
// extractor's prompt both see readable structure rather than a CSV dump.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{".xlsx", ".xls", "xlsx"} }

func (p *XLSXParser) Parse(path string) (*ParsedDocument, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening xlsx: %w", err)
	}
	defer f.Close()

	doc := &ParsedDocument{
		Format: "xlsx",
		Title:  filepath.Base(path),
	}

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var content strings.Builder
		for i, row := range rows {
			content.WriteString("| " + strings.Join(row, " | ") + " |\n")
			if i == 0 {
				content.WriteString(strings.Repeat("| --- ", len(row)) + "|\n")
			}
		}

		doc.Sections = append(doc.Sections, Section{
			Heading:     sheet,
			Depth:       1,
			Content:     content.String(),
			Type:        "table",
			ContentType: "table",
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  fmt.Sprintf("%d", len(rows)),
			},
		})
		doc.TotalChars += content.Len()
	}

	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("no data found in xlsx")
	}
	return doc, nil
}
