package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"

	"clinsum/composer"
)

// HTML converts the summary's Markdown rendering to an HTML fragment for
// the delivery preview.
func HTML(sum composer.Summary) (string, error) {
	md := Markdown(sum)
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}
