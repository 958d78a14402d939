package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/diagnovet/internal/models"
)

// Record is a fully shaped structured extraction: nested objects and arrays
// are never nil, absent scalars are nil.
type Record struct {
	Patient         models.PatientFields      `json:"patient"`
	Veterinarian    models.VeterinarianFields `json:"veterinarian"`
	Study           models.StudyFields        `json:"study"`
	Findings        *string                   `json:"findings"`
	Diagnosis       *string                   `json:"diagnosis"`
	Differentials   []string                  `json:"differentials"`
	Recommendations []string                  `json:"recommendations"`
	Measurements    map[string]any            `json:"measurements"`
	Confidence      float64                   `json:"confidence"`
	// ConfidenceSet tells a declared 0 apart from a missing confidence.
	ConfidenceSet   bool                      `json:"-"`
}

// Skeleton is the empty record used when a reply cannot be parsed.
func Skeleton() Record {
	incidences := []string{}
	echo := map[string]any{}
	return Record{
		Study:           models.StudyFields{Incidences: &incidences, EchoData: &echo},
		Differentials:   []string{},
		Recommendations: []string{},
		Measurements:    map[string]any{},
	}
}

// FlexString accepts a string, number, bool or array. Arrays resolve to their
// first non-empty element; null and "null" leave it unset.
type FlexString struct {
	Value string
	Set   bool
}

func (f *FlexString) UnmarshalJSON(b []byte) error {
	*f = FlexString{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.assign(s)
	case '[':
		var items []FlexString
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, it := range items {
			if it.Set {
				*f = it
				return nil
			}
		}
	case '{':
		// objects carry no scalar value
	default:
		f.assign(string(b))
	}
	return nil
}

func (f *FlexString) assign(s string) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return
	}
	f.Value, f.Set = s, true
}

// Ptr returns nil when unset.
func (f FlexString) Ptr() *string {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// FlexStrings accepts an array of scalars or a single scalar; blanks are dropped.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	*f = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '[' {
		var one FlexString
		if err := one.UnmarshalJSON(b); err != nil {
			return err
		}
		if one.Set {
			*f = FlexStrings{one.Value}
		}
		return nil
	}
	var items []FlexString
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	for _, it := range items {
		if it.Set {
			*f = append(*f, it.Value)
		}
	}
	return nil
}

// FlexMap accepts an object; any other JSON value decodes to nil.
type FlexMap map[string]any

func (f *FlexMap) UnmarshalJSON(b []byte) error {
	*f = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*f = m
	return nil
}

// FlexNumber accepts a number or a numeric string such as "85" or "85%".
type FlexNumber struct {
	Value float64
	Set   bool
}

func (f *FlexNumber) UnmarshalJSON(b []byte) error {
	*f = FlexNumber{}
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil || !s.Set {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s.Value, "%")), 64)
	if err != nil {
		return nil
	}
	f.Value, f.Set = v, true
	return nil
}

type replyPatient struct {
	Name    FlexString `json:"name"`
	Species FlexString `json:"species"`
	Breed   FlexString `json:"breed"`
	Age     FlexString `json:"age"`
	Weight  FlexString `json:"weight"`
	Owner   FlexString `json:"owner"`
}

type replyVeterinarian struct {
	Name       FlexString `json:"name"`
	License    FlexString `json:"license"`
	Title      FlexString `json:"title"`
	Clinic     FlexString `json:"clinic"`
	Contact    FlexString `json:"contact"`
	ReferredBy FlexString `json:"referredBy"`
}

type replyStudy struct {
	Type       FlexString  `json:"type"`
	Date       FlexString  `json:"date"`
	Technique  FlexString  `json:"technique"`
	BodyRegion FlexString  `json:"bodyRegion"`
	Equipment  FlexString  `json:"equipment"`
	Incidences FlexStrings `json:"incidences"`
	EchoData   FlexMap     `json:"echoData"`
}

type reply struct {
	Patient         *replyPatient      `json:"patient"`
	Veterinarian    *replyVeterinarian `json:"veterinarian"`
	Study           *replyStudy        `json:"study"`
	Findings        FlexString         `json:"findings"`
	Diagnosis       FlexString         `json:"diagnosis"`
	Differentials   FlexStrings        `json:"differentials"`
	Recommendations FlexStrings        `json:"recommendations"`
	Measurements    FlexMap            `json:"measurements"`
	Confidence      FlexNumber         `json:"confidence"`
}

// ParseReply decodes a model reply into a Record. Text around the outermost
// braces is ignored. On failure it returns Skeleton and the decode error.
func ParseReply(raw string) (Record, error) {
	s := strings.TrimSpace(raw)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	var r reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Skeleton(), fmt.Errorf("decode reply: %w", err)
	}
	if r.Patient == nil {
		r.Patient = &replyPatient{}
	}
	if r.Veterinarian == nil {
		r.Veterinarian = &replyVeterinarian{}
	}
	if r.Study == nil {
		r.Study = &replyStudy{}
	}

	rec := Skeleton()
	rec.Patient = models.PatientFields{
		Name:    r.Patient.Name.Ptr(),
		Species: r.Patient.Species.Ptr(),
		Breed:   r.Patient.Breed.Ptr(),
		Age:     r.Patient.Age.Ptr(),
		Weight:  r.Patient.Weight.Ptr(),
		Owner:   r.Patient.Owner.Ptr(),
	}
	rec.Veterinarian = models.VeterinarianFields{
		Name:       r.Veterinarian.Name.Ptr(),
		License:    r.Veterinarian.License.Ptr(),
		Title:      r.Veterinarian.Title.Ptr(),
		Clinic:     r.Veterinarian.Clinic.Ptr(),
		Contact:    r.Veterinarian.Contact.Ptr(),
		ReferredBy: r.Veterinarian.ReferredBy.Ptr(),
	}

	incidences := nonNilStrings(r.Study.Incidences)
	echo := map[string]any(r.Study.EchoData)
	if echo == nil {
		echo = map[string]any{}
	}
	rec.Study = models.StudyFields{
		Type:       r.Study.Type.Ptr(),
		Date:       convertDate(r.Study.Date),
		Technique:  r.Study.Technique.Ptr(),
		BodyRegion: r.Study.BodyRegion.Ptr(),
		Equipment:  r.Study.Equipment.Ptr(),
		Incidences: &incidences,
		EchoData:   &echo,
	}

	rec.Findings = r.Findings.Ptr()
	rec.Diagnosis = r.Diagnosis.Ptr()
	rec.Differentials = nonNilStrings(r.Differentials)
	rec.Recommendations = nonNilStrings(r.Recommendations)
	if r.Measurements != nil {
		rec.Measurements = r.Measurements
	}
	if r.Confidence.Set {
		rec.Confidence = r.Confidence.Value
		rec.ConfidenceSet = true
	}
	return rec, nil
}

// convertDate rewrites day-first dates as YYYY-MM-DD and keeps anything else verbatim.
func convertDate(d FlexString) *string {
	if !d.Set {
		return nil
	}
	if iso, ok := models.ParseStudyDate(d.Value); ok {
		return &iso
	}
	return d.Ptr()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
