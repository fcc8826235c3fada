// Package supervisor scores a composed summary against its source text
// using deterministic, dependency-free heuristics. It is a pure scoring
// function: no retries, no external calls, invoked once per attempt by the
// retry controller.
package supervisor

import (
	"strings"

	"clinsum/composer"
	"clinsum/render"
)

// Composite score weights.
const (
	lengthWeight    = 0.4
	alignmentWeight = 0.6
)

// Config holds the scoring thresholds. Zero values are replaced by
// Defaults() in Evaluate, so a zero Config is usable.
type Config struct {
	// BaselineFloor is the minimum expected narrative length in characters
	// for ordinary documents.
	BaselineFloor int

	// MultiPassFloor replaces BaselineFloor for multi-pass documents.
	MultiPassFloor int

	// TargetFraction is the fraction of source length the narrative is
	// expected to reach when that exceeds the floor.
	TargetFraction float64

	// MultiPassPages and MultiPassChars flag a document as multi-pass when
	// either is exceeded.
	MultiPassPages int
	MultiPassChars int

	// MinLengthScore and MinAlignmentScore are the pass thresholds.
	MinLengthScore    float64
	MinAlignmentScore float64

	// MinParagraphs and MinRenderedChars are the additional structural
	// requirements for multi-pass documents (either suffices).
	MinParagraphs    int
	MinRenderedChars int
}

// Defaults returns the production scoring configuration.
func Defaults() Config {
	return Config{
		BaselineFloor:     1000,
		MultiPassFloor:    2000,
		TargetFraction:    0.01,
		MultiPassPages:    100,
		MultiPassChars:    150000,
		MinLengthScore:    0.75,
		MinAlignmentScore: 0.80,
		MinParagraphs:     6,
		MinRenderedChars:  1200,
	}
}

// Verdict is the scoring result for one attempt.
type Verdict struct {
	LengthScore       float64 `json:"length_score"`
	AlignmentScore    float64 `json:"content_alignment_score"`
	StructuralOK      bool    `json:"structural_ok"`
	Composite         float64 `json:"composite_score"`
	MultiPassRequired bool    `json:"multi_pass_required"`
	Passed            bool    `json:"passed"`

	// RetryCount is filled in by the retry controller.
	RetryCount int `json:"retry_count"`
}

// Evaluate scores the composed summary against the source text.
func Evaluate(source string, sum composer.Summary, pageCount int, cfg Config) Verdict {
	cfg = withDefaults(cfg)

	multiPass := pageCount > cfg.MultiPassPages || len(source) > cfg.MultiPassChars

	v := Verdict{
		LengthScore:       lengthScore(source, sum, multiPass, cfg),
		AlignmentScore:    alignmentScore(source, sum),
		StructuralOK:      structuralOK(sum, multiPass, cfg),
		MultiPassRequired: multiPass,
	}
	v.Composite = lengthWeight*v.LengthScore + alignmentWeight*v.AlignmentScore
	v.Passed = v.LengthScore >= cfg.MinLengthScore &&
		v.AlignmentScore >= cfg.MinAlignmentScore &&
		v.StructuralOK
	return v
}

// lengthScore is the ratio of narrative length to its target, clamped to
// [0,1]. The target is the greater of the floor and a fraction of the
// source length; multi-pass documents use the higher floor.
func lengthScore(source string, sum composer.Summary, multiPass bool, cfg Config) float64 {
	floor := cfg.BaselineFloor
	if multiPass {
		floor = cfg.MultiPassFloor
	}
	target := float64(floor)
	if frac := cfg.TargetFraction * float64(len(source)); frac > target {
		target = frac
	}
	if target <= 0 {
		return 1
	}
	score := float64(sum.NarrativeLen()) / target
	if score > 1 {
		score = 1
	}
	return score
}

// alignmentScore measures topical grounding: the overlap coefficient of the
// summary's stop-word-filtered unigrams and bigrams against the source's.
// It asks "what fraction of what the summary says appears in the source",
// not semantic equivalence.
func alignmentScore(source string, sum composer.Summary) float64 {
	var narrative strings.Builder
	narrative.WriteString(sum.Overview)
	narrative.WriteByte(' ')
	narrative.WriteString(sum.Findings)
	narrative.WriteByte(' ')
	narrative.WriteString(sum.CarePlan)
	for _, kp := range sum.KeyPoints {
		narrative.WriteByte(' ')
		narrative.WriteString(kp)
	}

	sumTokens := tokenize(narrative.String())
	if len(sumTokens) == 0 {
		return 0
	}
	srcTokens := tokenize(source)
	if len(srcTokens) == 0 {
		return 0
	}

	srcUnigrams := toSet(srcTokens)
	srcBigrams := toSet(bigrams(srcTokens))

	matched, total := 0, 0
	for _, tok := range sumTokens {
		total++
		if srcUnigrams[tok] {
			matched++
		}
	}
	for _, bg := range bigrams(sumTokens) {
		total++
		if srcBigrams[bg] {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// structuralOK checks the rendered document shape: at least three canonical
// headers and one list construct; multi-pass documents additionally need a
// minimum paragraph count or a minimum rendered length.
func structuralOK(sum composer.Summary, multiPass bool, cfg Config) bool {
	md := render.Markdown(sum)

	headers := 0
	for _, h := range render.Headers {
		if strings.Contains(md, "## "+h) {
			headers++
		}
	}
	if headers < 3 {
		return false
	}
	if !strings.Contains(md, "\n- ") {
		return false
	}
	if multiPass {
		paragraphs := 0
		for _, block := range strings.Split(md, "\n\n") {
			if strings.TrimSpace(block) != "" {
				paragraphs++
			}
		}
		if paragraphs < cfg.MinParagraphs && len(md) < cfg.MinRenderedChars {
			return false
		}
	}
	return true
}

func withDefaults(cfg Config) Config {
	def := Defaults()
	if cfg.BaselineFloor == 0 {
		cfg.BaselineFloor = def.BaselineFloor
	}
	if cfg.MultiPassFloor == 0 {
		cfg.MultiPassFloor = def.MultiPassFloor
	}
	if cfg.TargetFraction == 0 {
		cfg.TargetFraction = def.TargetFraction
	}
	if cfg.MultiPassPages == 0 {
		cfg.MultiPassPages = def.MultiPassPages
	}
	if cfg.MultiPassChars == 0 {
		cfg.MultiPassChars = def.MultiPassChars
	}
	if cfg.MinLengthScore == 0 {
		cfg.MinLengthScore = def.MinLengthScore
	}
	if cfg.MinAlignmentScore == 0 {
		cfg.MinAlignmentScore = def.MinAlignmentScore
	}
	if cfg.MinParagraphs == 0 {
		cfg.MinParagraphs = def.MinParagraphs
	}
	if cfg.MinRenderedChars == 0 {
		cfg.MinRenderedChars = def.MinRenderedChars
	}
	return cfg
}
