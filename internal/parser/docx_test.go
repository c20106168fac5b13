package parser

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeZipFixture(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for path, content := range files {
		w, err := zw.Create(path)
		if err != nil {
			t.Fatalf("zip.Create(%q): %v", path, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write(%q): %v", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

const docxDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading1"/></w:pPr>
      <w:r><w:t>Background</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>The project began in 2019.</w:t></w:r>
    </w:p>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading1"/></w:pPr>
      <w:r><w:t>Status</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>Currently in maintenance mode.</w:t></w:r>
    </w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Role</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Ada</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Engineer</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

func TestDOCXParserSplitsHeadingsAndTables(t *testing.T) {
	path := writeZipFixture(t, "report.docx", map[string]string{
		"word/document.xml": docxDocumentXML,
	})

	p := &DOCXParser{}
	doc, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sections) != 3 {
		t.Fatalf("got %d sections, want 3 (2 headings + 1 table), sections=%+v", len(doc.Sections), doc.Sections)
	}

	if doc.Sections[0].Heading != "Background" {
		t.Errorf("Sections[0].Heading = %q, want Background", doc.Sections[0].Heading)
	}
	if !strings.Contains(doc.Sections[0].Content, "2019") {
		t.Errorf("Sections[0].Content missing expected text: %q", doc.Sections[0].Content)
	}

	if doc.Sections[1].Heading != "Status" {
		t.Errorf("Sections[1].Heading = %q, want Status", doc.Sections[1].Heading)
	}
	if !strings.Contains(doc.Sections[1].Content, "maintenance") {
		t.Errorf("Sections[1].Content missing expected text: %q", doc.Sections[1].Content)
	}

	table := doc.Sections[2]
	if table.Type != "table" {
		t.Errorf("Sections[2].Type = %q, want table", table.Type)
	}
	if !strings.Contains(table.Content, "Ada") || !strings.Contains(table.Content, "Engineer") {
		t.Errorf("table content missing expected cells: %q", table.Content)
	}
}

func TestDOCXParserMissingDocumentXML(t *testing.T) {
	path := writeZipFixture(t, "empty.docx", map[string]string{
		"word/other.xml": "<x/>",
	})

	p := &DOCXParser{}
	if _, err := p.Parse(path); err == nil {
		t.Errorf("expected error when word/document.xml is absent")
	}
}
