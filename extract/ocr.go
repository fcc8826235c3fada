package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"clinsum"
)

// OCRExtractor recognizes text in scanned page images through Tesseract.
// Each image file is one page.
type OCRExtractor struct {
	// Languages passed to Tesseract, e.g. "eng", "spa". Empty uses the
	// Tesseract default.
	Languages []string
}

func (o *OCRExtractor) SupportedFormats() []string {
	return []string{"png", "jpg", "jpeg", "tif", "tiff", "bmp"}
}

func (o *OCRExtractor) Extract(ctx context.Context, path string) (clinsum.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return clinsum.SourceDocument{}, err
	}

	c := gosseract.NewClient()
	defer c.Close()

	if err := c.SetImage(path); err != nil {
		return clinsum.SourceDocument{}, fmt.Errorf("set image: %w", err)
	}
	if len(o.Languages) > 0 {
		if err := c.SetLanguage(o.Languages...); err != nil {
			return clinsum.SourceDocument{}, fmt.Errorf("set languages: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return clinsum.SourceDocument{}, fmt.Errorf("recognize text: %w", err)
	}

	return clinsum.SourceDocument{
		Text:      strings.TrimSpace(text),
		PageCount: 1,
	}, nil
}
