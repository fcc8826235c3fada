// Package render turns a composed summary into its delivery formats:
// deterministic Markdown with the canonical header order, and HTML for the
// preview endpoint.
package render

import (
	"strings"

	"clinsum/composer"
)

// Canonical section headers in document order.
var Headers = []string{
	"Overview",
	"Key Points",
	"Detailed Findings",
	"Care Plan",
	"Diagnoses",
	"Providers",
	"Medications",
}

// Markdown renders the summary as a Markdown document. Output is a pure
// function of the summary value; identical summaries render byte-identical
// documents.
func Markdown(sum composer.Summary) string {
	var b strings.Builder
	b.WriteString("# Clinical Summary\n\n")

	section(&b, "Overview", sum.Overview)
	list(&b, "Key Points", sum.KeyPoints)
	section(&b, "Detailed Findings", sum.Findings)
	section(&b, "Care Plan", sum.CarePlan)
	list(&b, "Diagnoses", sum.Diagnoses)
	list(&b, "Providers", sum.Providers)
	list(&b, "Medications", sum.Medications)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func section(b *strings.Builder, header, body string) {
	b.WriteString("## ")
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n")
}

func list(b *strings.Builder, header string, items []string) {
	b.WriteString("## ")
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
