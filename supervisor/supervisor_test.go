package supervisor

import (
	"strings"
	"testing"

	"clinsum/composer"
)

// groundedSummary builds a summary whose prose is drawn verbatim from the
// source, so alignment is high by construction.
func groundedSummary(source string) composer.Summary {
	sentences := strings.SplitAfter(source, ". ")
	n := len(sentences) / 2
	if n < 3 {
		n = len(sentences)
	}
	body := strings.TrimSpace(strings.Join(sentences[:n], ""))
	return composer.Summary{
		Overview:    strings.TrimSpace(sentences[0]),
		KeyPoints:   []string{"Derived from source text"},
		Findings:    body,
		CarePlan:    "Continue current management.",
		Diagnoses:   []string{"Hypertension"},
		Providers:   []string{"Dr. Reyes"},
		Medications: []string{"Lisinopril"},
	}
}

func clinicalSource(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("Patient reports improved exercise tolerance since the last visit. ")
		b.WriteString("Renal function remains stable with creatinine at baseline. ")
		b.WriteString("Cardiology recommended continuing the current antihypertensive regimen. ")
	}
	return b.String()[:n]
}

func TestEvaluatePassesGroundedSummary(t *testing.T) {
	source := clinicalSource(50000)
	v := Evaluate(source, groundedSummary(source), 10, Config{})
	if v.MultiPassRequired {
		t.Error("10-page document flagged multi-pass")
	}
	if !v.StructuralOK {
		t.Error("structural check failed for complete schema")
	}
	if v.LengthScore < 0.75 {
		t.Errorf("length score = %.2f", v.LengthScore)
	}
	if v.AlignmentScore < 0.80 {
		t.Errorf("alignment score = %.2f", v.AlignmentScore)
	}
	if !v.Passed {
		t.Errorf("verdict not passed: %+v", v)
	}
}

func TestEvaluateShortSummaryFailsLength(t *testing.T) {
	source := clinicalSource(50000)
	sum := groundedSummary(source)
	sum.Findings = "Patient reports improved exercise tolerance since the last visit."
	sum.Overview = ""
	sum.KeyPoints = []string{"x"}
	sum.CarePlan = ""
	v := Evaluate(source, sum, 10, Config{})
	if v.LengthScore >= 0.75 {
		t.Errorf("length score = %.2f, want < 0.75", v.LengthScore)
	}
	if v.Passed {
		t.Error("short summary must not pass")
	}
}

func TestEvaluateMultiPassHigherFloor(t *testing.T) {
	// A 300-page document with a summary under 600 characters fails on
	// length even when alignment is perfect.
	source := clinicalSource(40000)
	sum := groundedSummary(source)
	body := sum.Findings
	if len(body) > 500 {
		body = body[:500]
	}
	sum.Findings = body
	sum.Overview = ""
	sum.KeyPoints = []string{"short"}
	sum.CarePlan = ""

	v := Evaluate(source, sum, 300, Config{})
	if !v.MultiPassRequired {
		t.Fatal("300-page document not flagged multi-pass")
	}
	if v.LengthScore >= 0.75 {
		t.Errorf("length score = %.2f, want < 0.75 against the multi-pass floor", v.LengthScore)
	}
	if v.Passed {
		t.Error("must fail on length despite alignment")
	}
}

func TestEvaluateMultiPassByCharLength(t *testing.T) {
	source := clinicalSource(200000)
	v := Evaluate(source, groundedSummary(source), 10, Config{})
	if !v.MultiPassRequired {
		t.Error("200k-char document not flagged multi-pass")
	}
}

func TestEvaluateUngroundedSummaryFailsAlignment(t *testing.T) {
	source := clinicalSource(20000)
	sum := groundedSummary(source)
	sum.Overview = "Quarterly revenue exceeded projections across all distribution territories."
	sum.Findings = strings.Repeat("Marketing spend allocation favored digital channels substantially. ", 20)
	sum.CarePlan = "Expand warehouse automation footprint."
	sum.KeyPoints = []string{"Logistics network redesigned"}
	v := Evaluate(source, sum, 10, Config{})
	if v.AlignmentScore >= 0.80 {
		t.Errorf("alignment score = %.2f for unrelated prose", v.AlignmentScore)
	}
	if v.Passed {
		t.Error("ungrounded summary must not pass")
	}
}

func TestCompositeWeights(t *testing.T) {
	source := clinicalSource(50000)
	v := Evaluate(source, groundedSummary(source), 10, Config{})
	want := 0.4*v.LengthScore + 0.6*v.AlignmentScore
	if diff := v.Composite - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("composite = %.6f, want %.6f", v.Composite, want)
	}
}

func TestCompositeMonotonicity(t *testing.T) {
	// Composite is non-decreasing in each score individually. Exercised
	// through summaries of increasing grounded length.
	source := clinicalSource(50000)
	prevComposite := -1.0
	sentences := strings.SplitAfter(source, ". ")
	for _, frac := range []int{8, 4, 2, 1} {
		sum := groundedSummary(source)
		sum.Findings = strings.TrimSpace(strings.Join(sentences[:len(sentences)/frac], ""))
		v := Evaluate(source, sum, 10, Config{})
		if v.Composite < prevComposite-1e-9 {
			t.Errorf("composite decreased: %.4f after %.4f", v.Composite, prevComposite)
		}
		prevComposite = v.Composite
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	source := clinicalSource(30000)
	sum := groundedSummary(source)
	first := Evaluate(source, sum, 10, Config{})
	for i := 0; i < 10; i++ {
		if got := Evaluate(source, sum, 10, Config{}); got != first {
			t.Fatalf("verdict differs across runs: %+v vs %+v", got, first)
		}
	}
}

func TestTokenizeFiltersStopWords(t *testing.T) {
	tokens := tokenize("The patient WAS seen, and the plan: continue care!")
	for _, tok := range tokens {
		if stopWords[tok] {
			t.Errorf("stop word %q survived", tok)
		}
		if len(tok) < 3 {
			t.Errorf("short token %q survived", tok)
		}
	}
	joined := strings.Join(tokens, " ")
	for _, want := range []string{"patient", "seen", "plan", "continue", "care"} {
		if !strings.Contains(joined, want) {
			t.Errorf("token %q missing from %v", want, tokens)
		}
	}
}
