// Package segmenter splits source text into bounded, overlapping chunks.
//
// Segmentation is a pure function of (text, parameters): given identical
// inputs the chunk boundaries are bit-identical on every call. Chunk offsets
// are character (byte) offsets into the source; the downstream backend
// accepts raw text, so sizes are expressed in characters rather than tokens.
package segmenter

import (
	"errors"
	"fmt"
)

// ErrInvalidParams is returned when the segmentation parameters violate
// 0 < overlap < target <= max.
var ErrInvalidParams = errors.New("segmenter: invalid parameters")

// Chunk is a half-open range [Start, End) into the source text. Overlap is
// the number of leading characters shared with the previous chunk; it is
// zero for the first chunk.
type Chunk struct {
	Start   int
	End     int
	Overlap int
}

// Len returns the chunk span length in characters.
func (c Chunk) Len() int { return c.End - c.Start }

// Text returns the chunk's slice of the source it was produced from.
func (c Chunk) Text(source string) string { return source[c.Start:c.End] }

// Segment walks the source left to right producing ordered chunks of about
// target characters each. A chunk may extend up to max characters when a
// paragraph or sentence boundary falls inside the extension window, so
// chunks tend to end on natural boundaries instead of mid-sentence.
// Consecutive chunks share overlap characters; the final chunk always ends
// exactly at len(text). A trailing remainder smaller than overlap is merged
// into the previous chunk rather than emitted on its own.
//
// Empty text yields a nil slice and no error: there is nothing to
// summarize, which callers treat as a distinct condition, not a failure.
func Segment(text string, target, max, overlap int) ([]Chunk, error) {
	if overlap <= 0 || target <= overlap || max < target {
		return nil, fmt.Errorf("%w: target=%d max=%d overlap=%d (need 0 < overlap < target <= max)",
			ErrInvalidParams, target, max, overlap)
	}
	n := len(text)
	if n == 0 {
		return nil, nil
	}
	if n <= target {
		return []Chunk{{Start: 0, End: n, Overlap: 0}}, nil
	}

	var chunks []Chunk
	cursor := 0
	prevEnd := 0
	for {
		end := cursor + target
		if end >= n {
			end = n
		} else {
			end = extendToBoundary(text, end, min(cursor+max, n))
			// A remainder smaller than the overlap would produce a tiny
			// trailing chunk; fold it into this one instead.
			if n-end < overlap {
				end = n
			}
		}

		ov := 0
		if len(chunks) > 0 {
			ov = prevEnd - cursor
		}
		chunks = append(chunks, Chunk{Start: cursor, End: end, Overlap: ov})
		if end == n {
			return chunks, nil
		}

		next := end - overlap
		if next <= cursor {
			// Never regress past the previous cursor; unreachable while
			// target > overlap, kept as a guard against pathological input.
			next = cursor + 1
		}
		prevEnd = end
		cursor = next
	}
}

// extendToBoundary scans [end, limit) for the first natural break and
// returns the position just after it. Preference order: paragraph break,
// then sentence terminator followed by whitespace, then newline. When no
// boundary exists in the window the original end is kept.
func extendToBoundary(text string, end, limit int) int {
	if end >= limit {
		return end
	}
	window := text[end:limit]

	for i := 0; i+1 < len(window); i++ {
		if window[i] == '\n' && window[i+1] == '\n' {
			return end + i + 2
		}
	}
	for i := 0; i < len(window); i++ {
		if isSentenceEnd(window[i]) {
			// Require whitespace (or end of window) after the terminator so
			// decimals like "98.6" do not split.
			if i+1 >= len(window) || isSpace(window[i+1]) {
				return end + i + 1
			}
		}
	}
	for i := 0; i < len(window); i++ {
		if window[i] == '\n' {
			return end + i + 1
		}
	}
	return end
}

func isSentenceEnd(b byte) bool { return b == '.' || b == '!' || b == '?' }

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }
