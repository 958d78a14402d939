package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFlexString(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantSet bool
	}{
		{"string", `"Rex"`, "Rex", true},
		{"trimmed", `"  Rex "`, "Rex", true},
		{"array first non-empty", `["", "Rex", "Max"]`, "Rex", true},
		{"array leading blank then value", `["Rex", ""]`, "Rex", true},
		{"number", `12.5`, "12.5", true},
		{"bool", `true`, "true", true},
		{"null", `null`, "", false},
		{"null string", `"null"`, "", false},
		{"empty array", `[]`, "", false},
		{"object", `{"a":1}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f FlexString
			if err := json.Unmarshal([]byte(tc.in), &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if f.Set != tc.wantSet || f.Value != tc.want {
				t.Fatalf("got (%q,%v) want (%q,%v)", f.Value, f.Set, tc.want, tc.wantSet)
			}
		})
	}
}

func TestFlexStrings(t *testing.T) {
	var f FlexStrings
	if err := json.Unmarshal([]byte(`["a", "", null, 3]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 2 || f[0] != "a" || f[1] != "3" {
		t.Fatalf("got %v", f)
	}

	if err := json.Unmarshal([]byte(`"solo"`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 1 || f[0] != "solo" {
		t.Fatalf("single scalar: got %v", f)
	}
}

func TestParseReply(t *testing.T) {
	t.Run("strips wrapper text and normalizes", func(t *testing.T) {
		raw := "Claro, aquí está:\n```json\n" + `{
			"patient": {"name": ["Rex", ""], "species": "Canino", "owner": "Ana"},
			"veterinarian": {"name": "Dr. Pérez", "license": null},
			"study": {"type": "Radiografía", "date": "07/08/2025", "incidences": ["latero-lateral"]},
			"findings": "Sin hallazgos",
			"differentials": "Gastritis",
			"measurements": {"peso": "12 kg"},
			"confidence": "85"
		}` + "\n```\nEspero que sirva."

		rec, err := ParseReply(raw)
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		if rec.Patient.Name == nil || *rec.Patient.Name != "Rex" {
			t.Fatalf("patient name = %v", rec.Patient.Name)
		}
		if rec.Veterinarian.License != nil {
			t.Fatalf("license should be nil")
		}
		if rec.Study.Date == nil || *rec.Study.Date != "2025-08-07" {
			t.Fatalf("study date = %v", rec.Study.Date)
		}
		if len(*rec.Study.Incidences) != 1 {
			t.Fatalf("incidences = %v", *rec.Study.Incidences)
		}
		if len(rec.Differentials) != 1 || rec.Differentials[0] != "Gastritis" {
			t.Fatalf("differentials = %v", rec.Differentials)
		}
		if rec.Recommendations == nil {
			t.Fatalf("recommendations must not be nil")
		}
		if rec.Confidence != 85 || !rec.ConfidenceSet {
			t.Fatalf("confidence = %v set %v", rec.Confidence, rec.ConfidenceSet)
		}
	})

	t.Run("missing nested objects are shaped", func(t *testing.T) {
		rec, err := ParseReply(`{"diagnosis": "Otitis"}`)
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		if rec.Study.Incidences == nil || rec.Study.EchoData == nil {
			t.Fatalf("study collections must be present")
		}
		if rec.Differentials == nil || rec.Measurements == nil {
			t.Fatalf("top-level collections must be present")
		}
		if rec.Diagnosis == nil || *rec.Diagnosis != "Otitis" {
			t.Fatalf("diagnosis = %v", rec.Diagnosis)
		}
		if rec.ConfidenceSet {
			t.Fatalf("absent confidence must not be marked set")
		}
	})

	t.Run("unparseable reply yields skeleton", func(t *testing.T) {
		rec, err := ParseReply("no puedo ayudar con eso")
		if err == nil {
			t.Fatalf("expected error")
		}
		if rec.Confidence != 0 || rec.Patient.Name != nil || len(rec.Differentials) != 0 {
			t.Fatalf("expected skeleton, got %+v", rec)
		}
	})

	t.Run("unrecognized date is kept verbatim", func(t *testing.T) {
		rec, err := ParseReply(`{"study": {"date": "agosto 2025"}}`)
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		if rec.Study.Date == nil || *rec.Study.Date != "agosto 2025" {
			t.Fatalf("date = %v", rec.Study.Date)
		}
	})
}

func TestBuildPromptEmbedsText(t *testing.T) {
	p := BuildPrompt("PACIENTE: Rex")
	if !strings.Contains(p, "REPORTE:\nPACIENTE: Rex") {
		t.Fatalf("report text not embedded")
	}
	if !strings.Contains(p, "DD/MM/YYYY") {
		t.Fatalf("date convention missing")
	}
}
