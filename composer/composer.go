// Package composer merges ordered chunk partials into one canonical,
// deduplicated, noise-free clinical summary document.
//
// The output schema is fixed: four narrative sections and three entity
// lists, always present. Sections left empty after filtering receive a
// deterministic fallback sentence so downstream consumers never see a
// missing key.
package composer

import (
	"strings"

	"clinsum/orchestrator"
)

// Fallback values synthesized for sections and lists that end up empty.
const (
	FallbackOverview  = "No overview could be derived from the source document."
	FallbackKeyPoint  = "No additional findings documented."
	FallbackFindings  = "No detailed findings documented."
	FallbackCarePlan  = "No care plan documented."
	FallbackListEntry = "None documented"
)

// Summary is the merged artifact: ordered canonical narrative sections plus
// deduplicated entity lists.
type Summary struct {
	Overview    string   `json:"overview"`
	KeyPoints   []string `json:"key_points"`
	Findings    string   `json:"findings"`
	CarePlan    string   `json:"care_plan"`
	Diagnoses   []string `json:"diagnoses"`
	Providers   []string `json:"providers"`
	Medications []string `json:"medications"`
}

// NarrativeLen returns the combined character count of the prose sections,
// the quantity the supervisor's length score is computed over.
func (s Summary) NarrativeLen() int {
	n := len(s.Overview) + len(s.Findings) + len(s.CarePlan)
	for _, kp := range s.KeyPoints {
		n += len(kp)
	}
	return n
}

// Config controls composition.
type Config struct {
	// Rules is the injected noise rule set. The zero value means
	// DefaultRules; NoRules disables filtering entirely.
	Rules RuleSet

	// MinNarrativeChars is the floor below which the composer pads the
	// findings section with factual fragments before falling back to
	// filler. Defaults to 400.
	MinNarrativeChars int
}

// Composer merges partials into a Summary.
type Composer struct {
	cfg Config
}

// New returns a Composer. Zero-value config fields get defaults.
func New(cfg Config) *Composer {
	// Nil slices mean the rule set was never set; empty non-nil slices
	// (NoRules) are an explicit request for no filtering.
	if cfg.Rules.Forbidden == nil && cfg.Rules.Exemptions == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.MinNarrativeChars == 0 {
		cfg.MinNarrativeChars = 400
	}
	return &Composer{cfg: cfg}
}

// Compose merges the ordered partials into the canonical document. The
// result is deterministic: identical partials always produce an identical
// summary.
func (c *Composer) Compose(partials []orchestrator.Partial) Summary {
	narrative := c.mergeProse(partials, orchestrator.FieldNarrative)
	carePlan := c.mergeProse(partials, orchestrator.FieldCarePlan)
	keyPoints := c.mergeList(partials, orchestrator.FieldKeyPoints)

	sum := Summary{
		Overview:    overviewFrom(narrative),
		KeyPoints:   keyPoints,
		Findings:    strings.Join(narrative, " "),
		CarePlan:    strings.Join(carePlan, " "),
		Diagnoses:   c.mergeList(partials, orchestrator.FieldDiagnoses),
		Providers:   c.mergeList(partials, orchestrator.FieldProviders),
		Medications: c.mergeList(partials, orchestrator.FieldMedications),
	}

	c.padFindings(&sum, keyPoints)
	fillFallbacks(&sum)
	return sum
}

// mergeProse concatenates a prose field across partials in chunk order,
// splits it into sentences, drops noise lines, and collapses the
// duplicates introduced by chunk overlap. Overlap only repeats content
// between adjacent chunks, so duplicate detection spans the current
// partial and the one immediately before it; a sentence genuinely
// repeated in distant parts of the source survives. Comparison is done on
// a case/whitespace-normalized form; the surviving sentence keeps its
// original casing.
func (c *Composer) mergeProse(partials []orchestrator.Partial, field string) []string {
	var out []string
	prev := map[string]bool{}
	for _, p := range partials {
		cur := map[string]bool{}
		if f, ok := p.Fields[field]; ok && f.Text != "" {
			for _, sent := range splitSentences(f.Text) {
				if !c.cfg.Rules.allows(sent) {
					continue
				}
				key := normalizeForCompare(sent)
				if key == "" || cur[key] || prev[key] {
					continue
				}
				cur[key] = true
				out = append(out, sent)
			}
		}
		prev = cur
	}
	return out
}

// mergeList unions a list field across partials preserving first-seen
// order, deduplicating on trimmed, whitespace-collapsed, case-folded form.
// Display form keeps the casing of the first occurrence.
func (c *Composer) mergeList(partials []orchestrator.Partial, field string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range partials {
		f, ok := p.Fields[field]
		if !ok {
			continue
		}
		for _, item := range f.Items {
			item = collapseWhitespace(strings.TrimSpace(item))
			if item == "" || !c.cfg.Rules.allows(item) {
				continue
			}
			key := strings.ToLower(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

// padFindings keeps the findings section above the configured floor by
// appending already-extracted factual fragments (key points not yet in the
// findings prose) before any filler is considered. Padding from extracted
// facts keeps the output auditable against the source.
func (c *Composer) padFindings(sum *Summary, keyPoints []string) {
	if len(sum.Findings) >= c.cfg.MinNarrativeChars {
		return
	}
	existing := normalizeForCompare(sum.Findings)
	var pads []string
	for _, kp := range keyPoints {
		if len(sum.Findings)+padLen(pads) >= c.cfg.MinNarrativeChars {
			break
		}
		if strings.Contains(existing, normalizeForCompare(kp)) {
			continue
		}
		pads = append(pads, asSentence(kp))
	}
	if len(pads) > 0 {
		if sum.Findings != "" {
			sum.Findings += " "
		}
		sum.Findings += strings.Join(pads, " ")
	}
}

// fillFallbacks guarantees the fixed schema: every canonical section and
// list is populated, with a deterministic fallback where nothing survived.
func fillFallbacks(sum *Summary) {
	if strings.TrimSpace(sum.Overview) == "" {
		sum.Overview = FallbackOverview
	}
	if len(sum.KeyPoints) == 0 {
		sum.KeyPoints = []string{FallbackKeyPoint}
	}
	if strings.TrimSpace(sum.Findings) == "" {
		sum.Findings = FallbackFindings
	}
	if strings.TrimSpace(sum.CarePlan) == "" {
		sum.CarePlan = FallbackCarePlan
	}
	if len(sum.Diagnoses) == 0 {
		sum.Diagnoses = []string{FallbackListEntry}
	}
	if len(sum.Providers) == 0 {
		sum.Providers = []string{FallbackListEntry}
	}
	if len(sum.Medications) == 0 {
		sum.Medications = []string{FallbackListEntry}
	}
}

// overviewFrom synthesizes the intro section from the leading merged
// narrative sentences, capped so it stays an overview rather than a second
// findings section.
func overviewFrom(narrative []string) string {
	const maxSentences = 3
	const maxChars = 500
	var b strings.Builder
	for i, sent := range narrative {
		if i >= maxSentences || b.Len()+len(sent) > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sent)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// splitSentences splits prose on sentence terminators followed by
// whitespace or end of text, and on line breaks.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, collapseWhitespace(s))
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\n' {
			flush()
			continue
		}
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				flush()
			}
		}
	}
	flush()
	return sentences
}

// normalizeForCompare lowercases and collapses whitespace for duplicate
// detection; display text is never altered by it.
func normalizeForCompare(s string) string {
	return strings.ToLower(collapseWhitespace(strings.TrimSpace(s)))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func asSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	last := s[len(s)-1]
	if last != '.' && last != '!' && last != '?' {
		s += "."
	}
	return s
}

func padLen(pads []string) int {
	n := 0
	for _, p := range pads {
		n += len(p) + 1
	}
	return n
}
