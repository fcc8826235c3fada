// Package orchestrator dispatches chunk summarization calls to the backend,
// normalizes the heterogeneous responses into a canonical partial shape, and
// preserves chunk order regardless of completion order.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clinsum/backend"
	"clinsum/metrics"
	"clinsum/segmenter"
)

// Config controls dispatch and retry behaviour.
type Config struct {
	// Concurrency bounds parallel backend calls. Defaults to 4.
	Concurrency int

	// MaxRetries is the per-chunk retry budget for transient failures.
	// Defaults to 3.
	MaxRetries int

	// BaseDelay seeds the exponential backoff between transient retries.
	// Defaults to 500ms; tests shrink it.
	BaseDelay time.Duration
}

// Stats reports per-attempt orchestration counters for observability.
type Stats struct {
	Chunks   int
	Degraded int
}

// Orchestrator fans chunk summarization out to the backend.
type Orchestrator struct {
	backend backend.Summarizer
	cfg     Config
	metrics metrics.Collector
}

// New returns an Orchestrator. Zero-value config fields get defaults; a nil
// collector is replaced with a no-op.
func New(b backend.Summarizer, cfg Config, collector metrics.Collector) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Orchestrator{backend: b, cfg: cfg, metrics: collector}
}

// Summarize calls the backend once per chunk and returns the normalized
// partials in chunk order. Calls run concurrently up to the configured
// limit; results are written into an index-addressed slice so completion
// order never changes output order.
//
// One bad chunk never sinks the run: a chunk whose retry budget is
// exhausted degrades to an empty partial and is counted in Stats.Degraded.
// The only error returned is context cancellation.
func (o *Orchestrator) Summarize(ctx context.Context, source string, chunks []segmenter.Chunk) ([]Partial, Stats, error) {
	if len(chunks) == 0 {
		return nil, Stats{}, nil
	}

	partials := make([]Partial, len(chunks))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, chunk segmenter.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()

			p, ok := o.summarizeChunk(ctx, source, i, chunk)
			if !ok {
				p = EmptyPartial(i)
				p.Degraded = true
				o.metrics.ChunkDegraded()
			}
			partials[i] = p
		}(i, chunk)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// A partially-composed result must not look like success.
		return nil, Stats{}, err
	}

	stats := Stats{Chunks: len(chunks)}
	for i := range partials {
		if partials[i].Degraded {
			stats.Degraded++
		}
	}
	return partials, stats, nil
}

// summarizeChunk runs the per-chunk retry policy:
//   - transient failures retry up to MaxRetries with exponential backoff;
//   - a permanent failure (malformed/empty response) is retried once with
//     the strict instruction, then the chunk is degraded.
func (o *Orchestrator) summarizeChunk(ctx context.Context, source string, index int, chunk segmenter.Chunk) (Partial, bool) {
	req := backend.Request{
		Text:            chunk.Text(source),
		TrailingContext: trailingContext(source, chunk),
	}

	strictUsed := false
	transientAttempts := 0
	for {
		start := time.Now()
		raw, err := o.backend.Summarize(ctx, req)
		if err == nil {
			p, nerr := normalize(index, raw)
			if nerr == nil {
				o.metrics.ChunkProcessed(time.Since(start), chunk.Len())
				return p, true
			}
			err = nerr
		}

		if ctx.Err() != nil {
			return Partial{}, false
		}

		if backend.Transient(err) {
			transientAttempts++
			if transientAttempts > o.cfg.MaxRetries {
				slog.Warn("orchestrator: chunk retries exhausted",
					"chunk", index, "attempts", transientAttempts, "error", err)
				return Partial{}, false
			}
			delay := o.cfg.BaseDelay * time.Duration(1<<(transientAttempts-1))
			slog.Warn("orchestrator: transient backend failure, retrying",
				"chunk", index, "attempt", transientAttempts, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Partial{}, false
			}
			continue
		}

		// Permanent failure: one stricter retry, then degrade.
		if !strictUsed {
			strictUsed = true
			req.Strict = true
			slog.Warn("orchestrator: malformed response, retrying strict",
				"chunk", index, "error", err)
			continue
		}
		slog.Warn("orchestrator: chunk degraded after strict retry",
			"chunk", index, "error", err)
		return Partial{}, false
	}
}

// trailingContext returns the tail of the previous chunk, i.e. the text
// immediately before this chunk's start, capped at the chunk's overlap.
// The first chunk has no previous context.
func trailingContext(source string, chunk segmenter.Chunk) string {
	if chunk.Overlap <= 0 || chunk.Start == 0 {
		return ""
	}
	start := chunk.Start - chunk.Overlap
	if start < 0 {
		start = 0
	}
	return source[start:chunk.Start]
}
