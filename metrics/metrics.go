// Package metrics defines the observability collaborator. Counters and
// timings emitted here are consumed out of process; the engine only needs
// something to hand them to.
package metrics

import (
	"log/slog"
	"time"
)

// Collector receives engine observability events.
type Collector interface {
	// ChunkProcessed records one completed chunk summarization call.
	ChunkProcessed(latency time.Duration, chars int)

	// ChunkDegraded records a chunk that fell back to an empty partial
	// after its retry budget was exhausted.
	ChunkDegraded()

	// AttemptCompleted records one full segment-summarize-compose-evaluate
	// cycle.
	AttemptCompleted(attempt int, chunks int, composite float64, passed bool)

	// RunCompleted records the terminal outcome of a run.
	RunCompleted(passed, needsReview bool, attempts int)
}

// Nop discards all events.
type Nop struct{}

func (Nop) ChunkProcessed(time.Duration, int)           {}
func (Nop) ChunkDegraded()                              {}
func (Nop) AttemptCompleted(int, int, float64, bool)    {}
func (Nop) RunCompleted(bool, bool, int)                {}

// Log emits every event through slog at debug/info level. It is the
// default collector for the CLI and server.
type Log struct{}

func (Log) ChunkProcessed(latency time.Duration, chars int) {
	slog.Debug("metrics: chunk processed", "latency", latency.Round(time.Millisecond), "chars", chars)
}

func (Log) ChunkDegraded() {
	slog.Warn("metrics: chunk degraded to empty partial")
}

func (Log) AttemptCompleted(attempt, chunks int, composite float64, passed bool) {
	slog.Info("metrics: attempt completed",
		"attempt", attempt, "chunks", chunks, "composite", composite, "passed", passed)
}

func (Log) RunCompleted(passed, needsReview bool, attempts int) {
	slog.Info("metrics: run completed",
		"passed", passed, "needs_review", needsReview, "attempts", attempts)
}
