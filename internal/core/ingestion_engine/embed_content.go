package ingestion_engine

import (
	"strings"

	"github.com/markdave123-py/diagnovet/internal/models"
)

// embeddingContent builds the text indexed for semantic search: the structured
// fields first, then extracted text lines until roughly maxTokens is reached.
func embeddingContent(r *models.Report, maxTokens int) string {
	var lines []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" && v != models.NotSpecified && v != models.PendingExtraction {
			lines = append(lines, label+": "+v)
		}
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	add("Diagnóstico", deref(r.Diagnosis))
	add("Hallazgos", deref(r.Findings))
	add("Especie", r.Patient.Species)
	add("Raza", deref(r.Patient.Breed))
	add("Estudio", r.Study.Type)
	add("Región", deref(r.Study.BodyRegion))
	add("Diferenciales", strings.Join(r.Differentials, "; "))
	add("Recomendaciones", strings.Join(r.Recommendations, "; "))

	tokens := 0
	for _, l := range lines {
		tokens += approxTokens(l)
	}
	for _, l := range strings.Split(deref(r.ExtractedText), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		t := approxTokens(l)
		if tokens+t > maxTokens {
			break
		}
		lines = append(lines, l)
		tokens += t
	}
	return strings.Join(lines, "\n")
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
