package parser

import "testing"

func TestRegistryBuiltinFormats(t *testing.T) {
	reg := NewRegistry()

	formats := []string{
		".md", ".txt", ".pdf", ".docx", ".xlsx", ".xls", ".pptx", ".doc", ".ppt",
	}
	for _, f := range formats {
		t.Run(f, func(t *testing.T) {
			p, err := reg.Get(f)
			if err != nil {
				t.Fatalf("Get(%q): %v", f, err)
			}
			found := false
			for _, sf := range p.SupportedFormats() {
				if sf == f {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats(): %v", f, p.SupportedFormats())
			}
		})
	}
}

func TestRegistryUnknownFormat(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get(".rtf"); err == nil {
		t.Errorf("expected error for unregistered format")
	}
}

func TestRegistryRegisterOverrides(t *testing.T) {
	reg := NewRegistry()
	custom := &TextParser{}
	reg.Register(".md", custom)
	got, err := reg.Get(".md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Parser(custom) {
		t.Errorf("Register did not override existing entry")
	}
}
