package parser

import "testing"

func TestLegacyParserRejectsBinaryFormats(t *testing.T) {
	p := &LegacyParser{}
	if _, err := p.Parse("report.doc"); err == nil {
		t.Errorf("expected error for .doc")
	}
	if _, err := p.Parse("deck.ppt"); err == nil {
		t.Errorf("expected error for .ppt")
	}
}

func TestLegacyParserDoesNotClaimXLS(t *testing.T) {
	p := &LegacyParser{}
	for _, f := range p.SupportedFormats() {
		if f == ".xls" {
			t.Errorf("LegacyParser must not claim .xls, XLSXParser owns it")
		}
	}
}
