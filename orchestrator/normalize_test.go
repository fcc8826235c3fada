package orchestrator

import (
	"errors"
	"reflect"
	"testing"

	"clinsum/backend"
)

func mustNormalize(t *testing.T, content string) Partial {
	t.Helper()
	p, err := normalize(0, &backend.RawResponse{Content: []byte(content)})
	if err != nil {
		t.Fatalf("normalize() error = %v", err)
	}
	return p
}

func TestNormalizeCompleteResponse(t *testing.T) {
	p := mustNormalize(t, `{
		"narrative": "Patient seen for follow up.",
		"key_points": ["stable", "no new symptoms"],
		"care_plan": "Return in six months.",
		"diagnoses": ["Hypertension"],
		"providers": ["Dr. Alvarez"],
		"medications": ["Lisinopril 10mg"]
	}`)

	if got := p.Fields[FieldNarrative].Text; got != "Patient seen for follow up." {
		t.Errorf("narrative = %q", got)
	}
	if got := p.Fields[FieldKeyPoints].Items; !reflect.DeepEqual(got, []string{"stable", "no new symptoms"}) {
		t.Errorf("key_points = %v", got)
	}
	if got := p.Fields[FieldMedications].Items; len(got) != 1 || got[0] != "Lisinopril 10mg" {
		t.Errorf("medications = %v", got)
	}
}

func TestNormalizeAllFieldsAlwaysPresent(t *testing.T) {
	p := mustNormalize(t, `{"narrative": "Only prose."}`)
	for _, name := range CanonicalFields {
		f, ok := p.Fields[name]
		if !ok {
			t.Fatalf("field %q missing", name)
		}
		if f.List && f.Items == nil {
			t.Errorf("list field %q has nil items", name)
		}
	}
}

func TestNormalizeScalarIntoListField(t *testing.T) {
	p := mustNormalize(t, `{"diagnoses": "Diabetes mellitus type 2"}`)
	if got := p.Fields[FieldDiagnoses].Items; len(got) != 1 || got[0] != "Diabetes mellitus type 2" {
		t.Errorf("diagnoses = %v, want single-item list", got)
	}
}

func TestNormalizeListIntoTextField(t *testing.T) {
	p := mustNormalize(t, `{"narrative": ["First part.", "Second part."]}`)
	if got := p.Fields[FieldNarrative].Text; got != "First part., Second part." {
		t.Errorf("narrative = %q", got)
	}
}

func TestNormalizeNestedStructures(t *testing.T) {
	// Nested objects flatten with sorted keys so the result is stable.
	p := mustNormalize(t, `{"medications": [{"name": "Metformin", "dose": "500mg"}]}`)
	got := p.Fields[FieldMedications].Items
	if len(got) != 1 || got[0] != "dose: 500mg; name: Metformin" {
		t.Errorf("medications = %v", got)
	}
}

func TestNormalizeNumbersAndBools(t *testing.T) {
	p := mustNormalize(t, `{"key_points": [42, true, "text"]}`)
	want := []string{"42", "true", "text"}
	if got := p.Fields[FieldKeyPoints].Items; !reflect.DeepEqual(got, want) {
		t.Errorf("key_points = %v, want %v", got, want)
	}
}

func TestNormalizeAliases(t *testing.T) {
	cases := []struct {
		body  string
		field string
		text  string
		items []string
	}{
		{`{"summary": "prose"}`, FieldNarrative, "prose", nil},
		{`{"Overview": "prose"}`, FieldNarrative, "prose", nil},
		{`{"plan": "return soon"}`, FieldCarePlan, "return soon", nil},
		{`{"conditions": ["CHF"]}`, FieldDiagnoses, "", []string{"CHF"}},
		{`{"drugs": ["aspirin"]}`, FieldMedications, "", []string{"aspirin"}},
		{`{"Key Points": ["a"]}`, FieldKeyPoints, "", []string{"a"}},
		{`{"care-plan": "x"}`, FieldCarePlan, "x", nil},
	}
	for _, tc := range cases {
		p := mustNormalize(t, tc.body)
		f := p.Fields[tc.field]
		if tc.items != nil {
			if !reflect.DeepEqual(f.Items, tc.items) {
				t.Errorf("%s: items = %v, want %v", tc.body, f.Items, tc.items)
			}
		} else if f.Text != tc.text {
			t.Errorf("%s: text = %q, want %q", tc.body, f.Text, tc.text)
		}
	}
}

func TestNormalizeUnknownKeysDropped(t *testing.T) {
	p := mustNormalize(t, `{"narrative": "x", "confidence": 0.9, "mystery_field": ["y"]}`)
	for name, f := range p.Fields {
		if name == FieldNarrative {
			continue
		}
		if f.Text != "" || len(f.Items) != 0 {
			t.Errorf("field %q unexpectedly populated: %+v", name, f)
		}
	}
}

func TestNormalizeNotAnObject(t *testing.T) {
	_, err := normalize(0, &backend.RawResponse{Content: []byte(`["just", "a", "list"]`)})
	if !errors.Is(err, backend.ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
	_, err = normalize(0, &backend.RawResponse{Content: []byte(`nonsense`)})
	if !errors.Is(err, backend.ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	body := `{"summary": "a", "narrative": "b", "diagnoses": ["x"], "conditions": ["y"]}`
	first := mustNormalize(t, body)
	for i := 0; i < 20; i++ {
		p := mustNormalize(t, body)
		if !reflect.DeepEqual(p, first) {
			t.Fatalf("normalization not deterministic: %+v vs %+v", p, first)
		}
	}
}
