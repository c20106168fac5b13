package parser

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestXLSXParserParsesSheets(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Inventory"
	f.NewSheet(sheet)
	f.SetCellValue(sheet, "A1", "Item")
	f.SetCellValue(sheet, "B1", "Qty")
	f.SetCellValue(sheet, "A2", "Widget")
	f.SetCellValue(sheet, "B2", 42)
	f.DeleteSheet("Sheet1")

	path := filepath.Join(t.TempDir(), "inventory.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving fixture xlsx: %v", err)
	}

	p := &XLSXParser{}
	doc, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(doc.Sections))
	}
	sec := doc.Sections[0]
	if sec.Heading != sheet {
		t.Errorf("Heading = %q, want %q", sec.Heading, sheet)
	}
	if sec.Type != "table" {
		t.Errorf("Type = %q, want table", sec.Type)
	}
	if !strings.Contains(sec.Content, "Widget") || !strings.Contains(sec.Content, "42") {
		t.Errorf("content missing expected cell values: %q", sec.Content)
	}
}

func TestXLSXParserEmptyWorkbookErrors(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.DeleteSheet(f.GetSheetName(0))
	// excelize always keeps at least one sheet; force it fully blank instead.
	for _, sheet := range f.GetSheetList() {
		f.SetCellValue(sheet, "A1", "")
	}

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving fixture xlsx: %v", err)
	}

	p := &XLSXParser{}
	if _, err := p.Parse(path); err == nil {
		t.Errorf("expected error for a workbook with no populated rows")
	}
}
