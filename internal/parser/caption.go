package parser

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/mnemo/internal/llm"
)

const captionPrompt = "Describe this image in one or two sentences, focused on any text, diagrams, tables, or labeled parts visible. Be concise and factual."

// CaptionImages asks a vision-capable provider to describe each of doc's
// extracted images in place, populating ExtractedImage.Caption. A
// caption failure on one image leaves that image's Caption empty (the
// error is not logged) and does not stop the remaining images from being
// captioned;
// callers gate this behind Config.CaptionImages since it costs one LLM
// call per image.
func CaptionImages(ctx context.Context, provider llm.Provider, doc *ParsedDocument) error {
	if provider == nil || len(doc.Images) == 0 {
		return nil
	}
	for i := range doc.Images {
		img := &doc.Images[i]
		resp, err := provider.Generate(ctx, llm.Request{
			Messages: []llm.Message{{Role: "user", Content: captionPrompt}},
			Images:   []llm.ImageInput{{MimeType: img.MimeType, Data: img.Data}},
			MaxTokens: 200,
		})
		if err != nil {
			continue
		}
		img.Caption = resp.Content
	}
	return nil
}

// AppendImageCaptions folds each page's image captions into that page's
// section content as a trailing "[Image: ...]" note, so the caption
// travels with the rest of the page text through chunking and
// extraction without the chunker needing to know about images at all.
func AppendImageCaptions(doc *ParsedDocument) {
	if len(doc.Images) == 0 {
		return
	}
	byPage := make(map[int][]string)
	for _, img := range doc.Images {
		if img.Caption == "" {
			continue
		}
		byPage[img.PageNumber] = append(byPage[img.PageNumber], img.Caption)
	}
	if len(byPage) == 0 {
		return
	}
	for i := range doc.Sections {
		appendCaptionsToSection(&doc.Sections[i], byPage)
	}
}

func appendCaptionsToSection(sec *Section, byPage map[int][]string) {
	if captions, ok := byPage[sec.PageNumber]; ok && len(captions) > 0 {
		for _, c := range captions {
			sec.Content += fmt.Sprintf("\n\n[Image: %s]", c)
		}
		delete(byPage, sec.PageNumber)
	}
	for i := range sec.Children {
		appendCaptionsToSection(&sec.Children[i], byPage)
	}
}
