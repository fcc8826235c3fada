package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"clinsum"
)

// charsPerPage approximates a printed page of clinical text for page-count
// estimation when the format carries no pagination.
const charsPerPage = 3000

// TextExtractor reads already-extracted plain text, typically the output
// of an upstream OCR batch. Form feeds mark page breaks when present;
// otherwise the page count is estimated from length.
type TextExtractor struct{}

func (t *TextExtractor) SupportedFormats() []string { return []string{"txt", "text"} }

func (t *TextExtractor) Extract(ctx context.Context, path string) (clinsum.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return clinsum.SourceDocument{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return clinsum.SourceDocument{}, fmt.Errorf("reading text file: %w", err)
	}
	text := strings.TrimSpace(string(data))

	pages := strings.Count(text, "\f") + 1
	if pages == 1 && len(text) > charsPerPage {
		pages = 1 + len(text)/charsPerPage
	}

	return clinsum.SourceDocument{
		Text:      text,
		PageCount: pages,
	}, nil
}
