package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"clinsum/backend"
)

// Canonical partial field names. Text fields hold prose; list fields hold
// ordered string sequences. Every Partial carries all of them, never nil.
const (
	FieldNarrative   = "narrative"
	FieldKeyPoints   = "key_points"
	FieldCarePlan    = "care_plan"
	FieldDiagnoses   = "diagnoses"
	FieldProviders   = "providers"
	FieldMedications = "medications"
)

// CanonicalFields lists every field of a Partial in schema order.
var CanonicalFields = []string{
	FieldNarrative, FieldKeyPoints, FieldCarePlan,
	FieldDiagnoses, FieldProviders, FieldMedications,
}

// listFields marks which canonical fields are sequences.
var listFields = map[string]bool{
	FieldKeyPoints:   true,
	FieldDiagnoses:   true,
	FieldProviders:   true,
	FieldMedications: true,
}

// fieldAliases maps key names the backend is known to emit onto the
// canonical field set. Unknown keys are dropped.
var fieldAliases = map[string]string{
	"summary":       FieldNarrative,
	"overview":      FieldNarrative,
	"text":          FieldNarrative,
	"highlights":    FieldKeyPoints,
	"keypoints":     FieldKeyPoints,
	"findings":      FieldKeyPoints,
	"plan":          FieldCarePlan,
	"careplan":      FieldCarePlan,
	"follow_up":     FieldCarePlan,
	"followup":      FieldCarePlan,
	"conditions":    FieldDiagnoses,
	"problems":      FieldDiagnoses,
	"diagnosis":     FieldDiagnoses,
	"clinicians":    FieldProviders,
	"physicians":    FieldProviders,
	"doctors":       FieldProviders,
	"drugs":         FieldMedications,
	"prescriptions": FieldMedications,
	"medication":    FieldMedications,
}

// Field is the tagged-variant value of one partial field: either prose
// (Text) or an ordered sequence (Items). List reports which variant is
// meaningful. Absent data is an empty string or empty slice, never nil
// semantics leaking to the composer.
type Field struct {
	Text  string
	Items []string
	List  bool
}

// Partial is the normalized summary of one chunk.
type Partial struct {
	// Index is the chunk position; the composer relies on it for
	// document-level narrative order.
	Index int

	Fields map[string]Field

	// Degraded marks a chunk whose backend calls were exhausted; all
	// fields are empty.
	Degraded bool
}

// EmptyPartial returns a fully-populated partial with empty values.
func EmptyPartial(index int) Partial {
	f := make(map[string]Field, len(CanonicalFields))
	for _, name := range CanonicalFields {
		f[name] = Field{List: listFields[name], Items: []string{}}
	}
	return Partial{Index: index, Fields: f}
}

// normalize coerces a raw backend response into the canonical Partial
// shape. The backend may return fields as scalars, nested structures, or
// omit them entirely; every value is flattened deterministically so
// identical responses always produce identical partials. A response whose
// top level is not a JSON object is a permanent error.
func normalize(index int, raw *backend.RawResponse) (Partial, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw.Content, &payload); err != nil {
		return Partial{}, fmt.Errorf("%w: top-level object: %v", backend.ErrMalformed, err)
	}

	// Process keys in sorted order so two aliases resolving to the same
	// canonical field always merge identically, regardless of map
	// iteration order.
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := EmptyPartial(index)
	for _, key := range keys {
		val := payload[key]
		name := canonicalKey(key)
		if name == "" {
			continue
		}
		if listFields[name] {
			items := append(p.Fields[name].Items, flattenList(val)...)
			p.Fields[name] = Field{List: true, Items: items}
		} else {
			text := flattenValue(val)
			if existing := p.Fields[name].Text; existing != "" && text != "" {
				// Two aliases mapped to the same field; keep both in a
				// stable order by appending.
				text = existing + " " + text
			} else if text == "" {
				text = p.Fields[name].Text
			}
			p.Fields[name] = Field{Text: strings.TrimSpace(text)}
		}
	}
	return p, nil
}

// canonicalKey resolves a backend key to a canonical field name, or ""
// when the key is unknown. Tolerates case, hyphens and spaces, so
// "Key Points" and "care-plan" both resolve.
func canonicalKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.ReplaceAll(k, " ", "_")
	for _, name := range CanonicalFields {
		if k == name {
			return name
		}
	}
	if name, ok := fieldAliases[k]; ok {
		return name
	}
	return ""
}

// flattenList coerces a JSON value into a string sequence. Scalars become
// a one-element sequence; objects contribute one flattened entry; nested
// arrays are walked in order.
func flattenList(raw json.RawMessage) []string {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			if s := flattenValue(el); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := flattenValue(raw); s != "" {
		return []string{s}
	}
	return nil
}

// flattenValue renders any JSON value as a single normalized string.
// Objects are serialized as "key: value; key: value" with keys sorted so
// the result does not depend on map iteration order.
func flattenValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, el := range arr {
			if s := flattenValue(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v := flattenValue(obj[k])
			if v == "" {
				continue
			}
			parts = append(parts, k+": "+v)
		}
		return strings.Join(parts, "; ")
	}

	return ""
}
