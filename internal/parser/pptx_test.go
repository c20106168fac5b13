package parser

import (
	"strings"
	"testing"
)

const pptxSlide1XML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld>
    <p:spTree>
      <p:sp>
        <p:txBody>
          <a:p><a:r><a:t>Quarterly Results</a:t></a:r></a:p>
        </p:txBody>
      </p:sp>
      <p:sp>
        <p:txBody>
          <a:p><a:r><a:t>Revenue is up twelve percent</a:t></a:r></a:p>
        </p:txBody>
      </p:sp>
    </p:spTree>
  </p:cSld>
</p:sld>`

const pptxSlide2XML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld>
    <p:spTree>
      <p:sp>
        <p:txBody>
          <a:p><a:r><a:t>Next Steps</a:t></a:r></a:p>
        </p:txBody>
      </p:sp>
    </p:spTree>
  </p:cSld>
</p:sld>`

func TestPPTXParserOrdersSlidesNumerically(t *testing.T) {
	path := writeZipFixture(t, "deck.pptx", map[string]string{
		"ppt/slides/slide2.xml": pptxSlide2XML,
		"ppt/slides/slide1.xml": pptxSlide1XML,
		"ppt/presentation.xml":  "<p:presentation/>",
	})

	p := &PPTXParser{}
	doc, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(doc.Sections))
	}
	if doc.Sections[0].Heading != "Slide 1" {
		t.Errorf("Sections[0].Heading = %q, want Slide 1", doc.Sections[0].Heading)
	}
	if !strings.Contains(doc.Sections[0].Content, "Quarterly Results") {
		t.Errorf("Sections[0].Content missing slide 1 text: %q", doc.Sections[0].Content)
	}
	if doc.Sections[1].Heading != "Slide 2" {
		t.Errorf("Sections[1].Heading = %q, want Slide 2", doc.Sections[1].Heading)
	}
	if !strings.Contains(doc.Sections[1].Content, "Next Steps") {
		t.Errorf("Sections[1].Content missing slide 2 text: %q", doc.Sections[1].Content)
	}
}

func TestPPTXParserNoSlidesErrors(t *testing.T) {
	path := writeZipFixture(t, "blank.pptx", map[string]string{
		"ppt/presentation.xml": "<p:presentation/>",
	})

	p := &PPTXParser{}
	if _, err := p.Parse(path); err == nil {
		t.Errorf("expected error when no slide XML parts are present")
	}
}
