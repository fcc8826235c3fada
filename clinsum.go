// Package clinsum turns long OCR-extracted medical text into a compliant,
// hierarchically structured clinical summary.
//
// The engine runs a bounded retry cycle: segment the source into
// overlapping chunks, summarize each chunk through the language-model
// backend, compose the partials into one canonical document, and score it
// with the deterministic quality supervisor. Failed attempts re-run with
// tightened chunk parameters; the best-scoring candidate is retained
// across attempts and returned even when the quality bar is never met,
// flagged for manual review.
package clinsum

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clinsum/backend"
	"clinsum/composer"
	"clinsum/metrics"
	"clinsum/orchestrator"
	"clinsum/segmenter"
	"clinsum/supervisor"
)

// SourceDocument is the immutable input to one run: the full extracted
// text plus the approximate page count reported by the extraction
// collaborator. It is never mutated; concurrent chunk calls share it
// read-only.
type SourceDocument struct {
	Text      string
	PageCount int
}

// Len returns the source length in characters.
func (d SourceDocument) Len() int { return len(d.Text) }

// State is the retry controller's machine state.
type State string

const (
	StateInitial    State = "initial"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StatePassed     State = "passed"
	StateExhausted  State = "exhausted"
)

// ChunkParams is one attempt's segmentation parameter set.
type ChunkParams struct {
	Target  int `json:"target"`
	Max     int `json:"max"`
	Overlap int `json:"overlap"`
}

// Attempt records one full cycle for auditing.
type Attempt struct {
	Number   int                `json:"number"` // 1-based
	Params   ChunkParams        `json:"params"`
	Chunks   int                `json:"chunks"`
	Degraded int                `json:"degraded"`
	Verdict  supervisor.Verdict `json:"verdict"`
	Elapsed  time.Duration      `json:"elapsed"`
}

// Result is the engine's output: the best candidate summary, its verdict,
// and the attempt trail.
type Result struct {
	Summary composer.Summary   `json:"summary"`
	Verdict supervisor.Verdict `json:"verdict"`

	// NeedsReview marks a retry-exhausted result that was never
	// supervisor-verified; the caller can still deliver it, flagged.
	NeedsReview bool `json:"needs_review"`

	State    State     `json:"state"`
	Attempts []Attempt `json:"attempts"`

	// BestAttempt is the 1-based attempt the summary came from.
	BestAttempt int `json:"best_attempt"`
}

// Option configures the engine.
type Option func(*Engine)

// WithMetrics injects an observability collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRules overrides the composer's noise rule set. composer.NoRules
// disables noise filtering entirely.
func WithRules(rs composer.RuleSet) Option {
	return func(e *Engine) { e.rules = rs }
}

// Engine is the retry controller tying the pipeline together.
type Engine struct {
	cfg     Config
	backend backend.Summarizer
	metrics metrics.Collector
	rules   composer.RuleSet
}

// New creates an engine over an explicit backend.
func New(cfg Config, b backend.Summarizer, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	e := &Engine{
		cfg:     cfg,
		backend: b,
		metrics: metrics.Nop{},
		rules:   composer.DefaultRules(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewFromConfig creates an engine with the HTTP backend described by
// cfg.Backend.
func NewFromConfig(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("%w: backend base_url is required", ErrInvalidConfig)
	}
	return New(cfg, backend.NewClient(cfg.Backend), opts...)
}

// Summarize runs the full retry cycle on one source document.
//
// The first attempt uses the baseline chunk parameters. On a supervisor
// failure the controller tightens the parameters (smaller chunks, more
// backend calls) and re-runs the whole cycle, up to MaxRetries re-runs.
// Attempts are strictly sequential; each one builds fresh attempt-local
// state from (source, params) so no retry state leaks between attempts.
//
// A passing attempt returns immediately with its own summary and verdict.
// Only when every attempt fails does best-candidate selection apply: the
// failing attempt with the highest composite score is delivered, the
// earlier attempt winning ties, with NeedsReview set rather than failing:
// a degraded, flagged artifact beats no artifact.
func (e *Engine) Summarize(ctx context.Context, doc SourceDocument) (*Result, error) {
	if doc.Len() == 0 {
		return nil, ErrEmptySource
	}

	params := ChunkParams{
		Target:  e.cfg.TargetChunkSize,
		Max:     e.cfg.MaxChunkSize,
		Overlap: e.cfg.OverlapSize,
	}

	result := &Result{State: StateInitial}
	bestComposite := -1.0

	maxAttempts := 1 + e.cfg.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.State = StateAttempting

		slog.Info("attempt: starting",
			"attempt", attempt, "target", params.Target, "max", params.Max, "overlap", params.Overlap,
			"source_chars", doc.Len(), "pages", doc.PageCount)

		start := time.Now()
		sum, stats, err := e.runAttempt(ctx, doc, params)
		if err != nil {
			return nil, err
		}

		verdict := supervisor.Evaluate(doc.Text, sum, doc.PageCount, e.cfg.Supervisor)
		verdict.RetryCount = attempt - 1
		elapsed := time.Since(start)

		result.Attempts = append(result.Attempts, Attempt{
			Number:   attempt,
			Params:   params,
			Chunks:   stats.Chunks,
			Degraded: stats.Degraded,
			Verdict:  verdict,
			Elapsed:  elapsed,
		})
		e.metrics.AttemptCompleted(attempt, stats.Chunks, verdict.Composite, verdict.Passed)

		slog.Info("attempt: scored",
			"attempt", attempt,
			"length_score", verdict.LengthScore,
			"alignment_score", verdict.AlignmentScore,
			"structural_ok", verdict.StructuralOK,
			"composite", verdict.Composite,
			"passed", verdict.Passed,
			"degraded_chunks", stats.Degraded,
			"elapsed", elapsed.Round(time.Millisecond))

		// A passing attempt is delivered as-is: the returned summary and
		// verdict always come from the same attempt, even when an earlier
		// failing attempt scored a higher composite.
		if verdict.Passed {
			result.Summary = sum
			result.Verdict = verdict
			result.BestAttempt = attempt
			result.State = StatePassed
			e.metrics.RunCompleted(true, false, attempt)
			return result, nil
		}

		// Best-candidate retention serves the exhausted path. Strictly
		// greater keeps the earliest attempt on score ties.
		if verdict.Composite > bestComposite {
			bestComposite = verdict.Composite
			result.Summary = sum
			result.Verdict = verdict
			result.BestAttempt = attempt
		}

		if attempt < maxAttempts {
			result.State = StateRetrying
			params = tighten(params)
			slog.Info("attempt: supervisor failed, retrying with tighter chunks",
				"next_target", params.Target, "next_max", params.Max, "next_overlap", params.Overlap)
		}
	}

	result.State = StateExhausted
	result.NeedsReview = true
	// The retained verdict reports the retries consumed by the whole run,
	// not just by the attempt it came from.
	result.Verdict.RetryCount = maxAttempts - 1
	e.metrics.RunCompleted(false, true, maxAttempts)
	slog.Warn("run exhausted retries, returning best candidate for review",
		"best_attempt", result.BestAttempt, "composite", result.Verdict.Composite)
	return result, nil
}

// runAttempt executes one Segmenter-Orchestrator-Composer cycle with
// attempt-local state.
func (e *Engine) runAttempt(ctx context.Context, doc SourceDocument, params ChunkParams) (composer.Summary, orchestrator.Stats, error) {
	chunks, err := segmenter.Segment(doc.Text, params.Target, params.Max, params.Overlap)
	if err != nil {
		return composer.Summary{}, orchestrator.Stats{}, err
	}

	orch := orchestrator.New(e.backend, orchestrator.Config{
		Concurrency: e.cfg.Concurrency,
		MaxRetries:  e.cfg.ChunkRetries,
		BaseDelay:   e.cfg.ChunkRetryDelay,
	}, e.metrics)

	partials, stats, err := orch.Summarize(ctx, doc.Text, chunks)
	if err != nil {
		return composer.Summary{}, orchestrator.Stats{}, err
	}

	comp := composer.New(composer.Config{
		Rules:             e.rules,
		MinNarrativeChars: e.cfg.MinNarrativeChars,
	})
	return comp.Compose(partials), stats, nil
}

// tighten shrinks the chunk parameters for the next attempt. Smaller
// chunks mean more, more focused backend calls. The overlap is clamped so
// the segmenter constraints keep holding, and a floor stops the parameters
// from collapsing on repeated retries.
func tighten(p ChunkParams) ChunkParams {
	const minTarget = 1200

	next := ChunkParams{
		Target:  p.Target * 3 / 4,
		Max:     p.Max * 3 / 4,
		Overlap: p.Overlap,
	}
	if next.Target < minTarget {
		next.Target = minTarget
	}
	if next.Max < next.Target {
		next.Max = next.Target
	}
	if next.Overlap >= next.Target {
		next.Overlap = next.Target / 4
	}
	return next
}
