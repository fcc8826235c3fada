package clinsum

import "errors"

var (
	// ErrEmptySource is returned when the source document has no text.
	// Nothing to summarize is an input error; no attempt is run.
	ErrEmptySource = errors.New("clinsum: source document is empty")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("clinsum: invalid configuration")

	// ErrExtractionFailed is returned when the text-extraction collaborator
	// cannot produce a source document. It never reaches the retry
	// controller; callers report it upstream.
	ErrExtractionFailed = errors.New("clinsum: text extraction failed")
)
