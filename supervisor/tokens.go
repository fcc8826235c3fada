package supervisor

import "strings"

// stopWords is the fixed filter set for alignment scoring. Deliberately
// small and general: the score measures lexical grounding, not style.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "with": true, "that": true, "this": true, "from": true,
	"his": true, "her": true, "has": true, "had": true, "have": true,
	"not": true, "but": true, "all": true, "any": true, "been": true,
	"will": true, "would": true, "there": true, "their": true, "they": true,
	"which": true, "when": true, "where": true, "who": true, "how": true,
	"what": true, "than": true, "then": true, "also": true, "into": true,
	"over": true, "under": true, "per": true, "upon": true, "within": true,
}

// tokenize lowercases, splits on whitespace and punctuation, and drops
// stop words and tokens shorter than three characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// bigrams builds adjacent token pairs.
func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
