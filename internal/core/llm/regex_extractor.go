package llm

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/markdave123-py/diagnovet/internal/models"
)

// labelBoundary stands in for \b, which only knows ASCII letters.
const labelBoundary = `(?:^|[^\p{L}\p{N}_])`

// labelled matches "<label>: value" up to the end of the line.
func labelled(labels string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + labelBoundary + `(?:` + labels + `)[\s:]+([^\n\r]+)`)
}

var (
	rePatientName    = labelled(`paciente|nombre`)
	rePatientSpecies = labelled(`especie|animal`)
	rePatientBreed   = labelled(`raza|breed`)
	rePatientAge     = labelled(`edad|age`)
	rePatientWeight  = labelled(`peso|weight`)
	rePatientOwner   = labelled(`propietario|dueño|owner|tutor`)

	reVetName    = labelled(`dr\.?|m\.?v\.?|veterinario`)
	reVetLicense = labelled(`matrícula|mat\.?|lic\.?`)
	reVetClinic  = labelled(`clínica|centro|hospital`)
	reVetContact = labelled(`teléfono|tel\.?|contacto`)

	reStudyType       = labelled(`estudio|tipo`)
	reStudyTechnique  = labelled(`técnica|método`)
	reStudyBodyRegion = labelled(`región|zona|área`)

	reFindings  = labelled(`hallazgos|se observa|findings`)
	reDiagnosis = labelled(`diagnóstico|impresión|diagnosis`)

	reTitles = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + labelBoundary + `(doctor|dr\.?)`),
		regexp.MustCompile(`(?i)` + labelBoundary + `(médico veterinario|m\.?v\.?)`),
		regexp.MustCompile(`(?i)` + labelBoundary + `(veterinario)`),
	}

	reDates = []*regexp.Regexp{
		regexp.MustCompile(`(?:^|\D)(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})(?:\D|$)`),
		regexp.MustCompile(`(?:^|\D)(\d{4}[/\-]\d{1,2}[/\-]\d{1,2})(?:\D|$)`),
		regexp.MustCompile(`(?i)(\d{1,2}\s+de\s+\w+\s+de\s+\d{4})`),
	}

	reIncidencesLine = labelled(`incidencias|proyecciones`)
	reProjections    = regexp.MustCompile(`(?i)latero-lateral|ventro-dorsal|obl[ií]cuo`)

	reEquipmentLine    = labelled(`equipo|equipamiento|máquina`)
	reEquipmentKeyword = regexp.MustCompile(`(?i)digital|analógico|portátil`)

	reReferredLine = labelled(`derivado por|referido por`)
	reReferredDr   = regexp.MustCompile(`(?i)` + labelBoundary + `dra?\.?\s+([^\n\r]+)`)

	reDifferentialsLine   = labelled(`diagnósticos diferenciales|diferenciales`)
	reRecommendationsLine = labelled(`recomendaciones|tratamiento|sugerencias`)
	reNumbered            = regexp.MustCompile(`(?m)^\s*[1-5][.)]\s+(\S[^\n\r]*)`)

	echoPatterns = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"fs", labelled(`fracción de eyección|fs`)},
		{"fe", labelled(`fracción de eyección|fe`)},
		{"lvidd", labelled(`lvidd|diámetro diastólico`)},
		{"lvids", labelled(`lvids|diámetro sistólico`)},
	}

	measurementPatterns = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"weight", labelled(`peso|weight`)},
		{"temperature", labelled(`temperatura|temp`)},
		{"heartRate", labelled(`frecuencia cardíaca|fc`)},
		{"respiratoryRate", labelled(`frecuencia respiratoria|fr`)},
	}
)

// RegexExtractor is the offline fallback: each field comes from its own
// pattern, first match wins, and confidence is fixed.
type RegexExtractor struct {
	now func() time.Time
}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{now: time.Now}
}

func (x *RegexExtractor) Provider() string          { return ProviderRegex }
func (x *RegexExtractor) Model() string             { return ProviderRegex }
func (x *RegexExtractor) AvailableModels() []string { return []string{} }

func (x *RegexExtractor) TestConnection(context.Context) ConnectionStatus {
	return ConnectionStatus{Success: true, Provider: ProviderRegex, Model: ProviderRegex}
}

func (x *RegexExtractor) Extract(ctx context.Context, text string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incidences := incidencesOf(text)
	echo := captureMap(text, echoPatterns)
	date := studyDate(text, x.now())

	rec := Record{
		Patient: models.PatientFields{
			Name:    required(rePatientName, text),
			Species: required(rePatientSpecies, text),
			Breed:   field(rePatientBreed, text),
			Age:     field(rePatientAge, text),
			Weight:  field(rePatientWeight, text),
			Owner:   required(rePatientOwner, text),
		},
		Veterinarian: models.VeterinarianFields{
			Name:       required(reVetName, text),
			License:    field(reVetLicense, text),
			Title:      title(text),
			Clinic:     field(reVetClinic, text),
			Contact:    field(reVetContact, text),
			ReferredBy: referredBy(text),
		},
		Study: models.StudyFields{
			Type:       required(reStudyType, text),
			Date:       &date,
			Technique:  field(reStudyTechnique, text),
			BodyRegion: field(reStudyBodyRegion, text),
			Incidences: &incidences,
			Equipment:  equipment(text),
			EchoData:   &echo,
		},
		Findings:        field(reFindings, text),
		Diagnosis:       field(reDiagnosis, text),
		Differentials:   listed(reDifferentialsLine, text),
		Recommendations: listed(reRecommendationsLine, text),
		Measurements:    captureMap(text, measurementPatterns),
		Confidence:      regexConfidence,
	}
	return &Result{Record: rec, Confidence: regexConfidence, Provider: ProviderRegex, Parsed: true}, nil
}

func field(re *regexp.Regexp, text string) *string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return models.Opt(m[1])
}

func required(re *regexp.Regexp, text string) *string {
	if v := field(re, text); v != nil {
		return v
	}
	ns := models.NotSpecified
	return &ns
}

func title(text string) *string {
	for _, re := range reTitles {
		if m := re.FindStringSubmatch(text); m != nil {
			return models.Opt(m[1])
		}
	}
	return nil
}

// studyDate returns the first recognizable date as YYYY-MM-DD, or today.
func studyDate(text string, now time.Time) string {
	for _, re := range reDates {
		if m := re.FindStringSubmatch(text); m != nil {
			if iso, ok := models.ParseStudyDate(m[1]); ok {
				return iso
			}
		}
	}
	return now.Format(models.DateLayout)
}

func incidencesOf(text string) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s != "" && !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	if m := reIncidencesLine.FindStringSubmatch(text); m != nil {
		add(m[1])
	}
	for _, p := range reProjections.FindAllString(text, -1) {
		add(p)
	}
	return out
}

func equipment(text string) *string {
	if v := field(reEquipmentLine, text); v != nil {
		return v
	}
	if m := reEquipmentKeyword.FindString(text); m != "" {
		return &m
	}
	return nil
}

func referredBy(text string) *string {
	if v := field(reReferredLine, text); v != nil {
		return v
	}
	return field(reReferredDr, text)
}

// listed collects the labelled line followed by every numbered item.
func listed(label *regexp.Regexp, text string) []string {
	out := []string{}
	if v := field(label, text); v != nil {
		out = append(out, *v)
	}
	for _, m := range reNumbered.FindAllStringSubmatch(text, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func captureMap(text string, patterns []struct {
	key string
	re  *regexp.Regexp
}) map[string]any {
	out := map[string]any{}
	for _, p := range patterns {
		if v := field(p.re, text); v != nil {
			out[p.key] = *v
		}
	}
	return out
}
