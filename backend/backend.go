// Package backend defines the language-model summarization capability the
// engine depends on, plus an OpenAI-compatible HTTP implementation.
//
// The backend is treated as a black box: given chunk text it returns a raw,
// backend-defined response that may be partially malformed. Failure classes
// are distinguishable so the orchestrator can apply different retry
// policies: transient failures (timeouts, rate limiting, upstream outages)
// are retried with backoff, permanent failures (malformed or empty
// responses) get one stricter retry before the chunk is degraded.
package backend

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrRateLimited is returned when the backend rejects a request with 429.
	ErrRateLimited = errors.New("backend: rate limited")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("backend: request timed out")

	// ErrUnavailable is returned for upstream 5xx responses and network errors.
	ErrUnavailable = errors.New("backend: service unavailable")

	// ErrMalformed is returned when the response body cannot be used.
	ErrMalformed = errors.New("backend: malformed response")

	// ErrEmptyResponse is returned when the backend returns no content.
	ErrEmptyResponse = errors.New("backend: empty response")

	// ErrRequestFailed is returned for non-retryable request failures.
	ErrRequestFailed = errors.New("backend: request failed")
)

// Request carries one chunk to be summarized.
type Request struct {
	// Text is the chunk body.
	Text string

	// TrailingContext is the tail of the previous chunk, supplied so
	// references spanning a chunk boundary are not lost.
	TrailingContext string

	// Strict asks for a harder-edged schema instruction. Set on the second
	// attempt after a malformed response.
	Strict bool
}

// RawResponse is the backend-defined result for one chunk. Content is kept
// as raw bytes; the orchestrator owns all shape normalization.
type RawResponse struct {
	Content []byte
	Model   string
}

// Summarizer is the external summarization capability.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*RawResponse, error)
}

// Transient reports whether err belongs to the retryable failure class.
func Transient(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}
