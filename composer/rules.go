package composer

import "regexp"

// Rule is one noise matcher. Rules are applied in order to every assembled
// line; a match removes the line unless an exemption also matches.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// RuleSet is the injectable noise-filtering configuration. Keeping it a
// value passed into the Composer lets the forbidden-phrase list and the
// canonical-negative exemptions evolve without touching merge logic.
type RuleSet struct {
	Forbidden  []Rule
	Exemptions []Rule
}

// DefaultRules returns the built-in forbidden-phrase set for OCR-extracted
// medical documents: consent/warning boilerplate, intake and checkbox
// fragments, vital-sign tables, and administrative/billing noise.
func DefaultRules() RuleSet {
	return RuleSet{
		Forbidden: []Rule{
			{"consent", regexp.MustCompile(`(?i)\b(i|patient)\s+(hereby\s+)?consent(s)?\b|\bconsent\s+(form|obtained|to treat)\b|\bsignature\s+on\s+file\b|\bauthoriz(e|ation)\s+to\s+release\b`)},
			{"intake-checkbox", regexp.MustCompile(`\[\s*[xX]?\s*\]|☐|☑|☒|(?i)\bcheck\s+all\s+that\s+apply\b|(?i)\bplease\s+(complete|fill\s+out|sign)\b`)},
			{"vital-signs", regexp.MustCompile(`(?i)\b(bp|blood\s+pressure)\s*[:=]?\s*\d{2,3}\s*/\s*\d{2,3}|\b(temp|temperature)\s*[:=]\s*\d{2,3}(\.\d)?|\b(pulse|hr|heart\s+rate)\s*[:=]\s*\d{2,3}|\b(spo2|o2\s+sat)\s*[:=]?\s*\d{2,3}\s*%|\b(resp|rr)\s*[:=]\s*\d{1,2}\b`)},
			{"admin-billing", regexp.MustCompile(`(?i)\b(copay|co-pay|insurance\s+(id|carrier|plan)|member\s+id|account\s+(no|number)|billing\s+code|cpt\s+code|fax(ed)?\s+to|page\s+\d+\s+of\s+\d+)\b`)},
		},
		Exemptions: []Rule{
			// Clinically meaningful negatives must survive filtering.
			{"negative-finding", regexp.MustCompile(`(?i)\bno\s+(diagnosis|evidence|history|signs?|symptoms?|complaints?)\s+of\b|\bnegative\s+for\b|\bdenies\b|\bruled\s+out\b`)},
		},
	}
}

// NoRules returns a rule set that filters nothing. Unlike the zero
// RuleSet, which New replaces with DefaultRules, passing NoRules disables
// noise filtering entirely.
func NoRules() RuleSet {
	return RuleSet{Forbidden: []Rule{}, Exemptions: []Rule{}}
}

// allows reports whether line survives the rule set.
func (rs RuleSet) allows(line string) bool {
	for _, ex := range rs.Exemptions {
		if ex.Pattern.MatchString(line) {
			return true
		}
	}
	for _, r := range rs.Forbidden {
		if r.Pattern.MatchString(line) {
			return false
		}
	}
	return true
}
