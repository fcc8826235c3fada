// Package extract turns document files into plain source text for the
// engine. Extraction is a collaborator, not part of the pipeline: a
// failure here is reported upstream and never reaches the retry
// controller.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"clinsum"
)

// Extractor produces a source document from a file of a specific format.
type Extractor interface {
	Extract(ctx context.Context, path string) (clinsum.SourceDocument, error)
	SupportedFormats() []string
}

// Registry dispatches files to extractors by format.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range []Extractor{&PDFExtractor{}, &OCRExtractor{}, &TextExtractor{}} {
		for _, f := range e.SupportedFormats() {
			r.extractors[f] = e
		}
	}
	return r
}

// Register adds or replaces the extractor for a format.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// Get returns the extractor for a format.
func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[format]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for format %q", clinsum.ErrExtractionFailed, format)
	}
	return e, nil
}

// ExtractFile picks an extractor from the file extension and runs it.
func (r *Registry) ExtractFile(ctx context.Context, path string) (clinsum.SourceDocument, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	e, err := r.Get(format)
	if err != nil {
		return clinsum.SourceDocument{}, err
	}
	doc, err := e.Extract(ctx, path)
	if err != nil {
		return clinsum.SourceDocument{}, fmt.Errorf("%w: %s: %v", clinsum.ErrExtractionFailed, path, err)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return clinsum.SourceDocument{}, fmt.Errorf("%w: %s produced no text", clinsum.ErrExtractionFailed, path)
	}
	return doc, nil
}
