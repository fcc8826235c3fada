package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"clinsum"
)

// PDFExtractor reads text-layer PDFs. Scanned PDFs without a text layer
// come back empty and are rejected by the registry.
type PDFExtractor struct{}

func (p *PDFExtractor) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFExtractor) Extract(ctx context.Context, path string) (clinsum.SourceDocument, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return clinsum.SourceDocument{}, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var text strings.Builder

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return clinsum.SourceDocument{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}

	return clinsum.SourceDocument{
		Text:      text.String(),
		PageCount: totalPages,
	}, nil
}
