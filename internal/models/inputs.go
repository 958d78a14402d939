package models

import "strings"

type PatientFields struct {
	Name    *string `json:"name,omitempty"`
	Species *string `json:"species,omitempty"`
	Breed   *string `json:"breed,omitempty"`
	Age     *string `json:"age,omitempty"`
	Weight  *string `json:"weight,omitempty"`
	Owner   *string `json:"owner,omitempty"`
}

type VeterinarianFields struct {
	Name       *string `json:"name,omitempty"`
	License    *string `json:"license,omitempty"`
	Title      *string `json:"title,omitempty"`
	Clinic     *string `json:"clinic,omitempty"`
	Contact    *string `json:"contact,omitempty"`
	ReferredBy *string `json:"referredBy,omitempty"`
}

type StudyFields struct {
	Type       *string         `json:"type,omitempty"`
	Date       *string         `json:"date,omitempty"`
	Technique  *string         `json:"technique,omitempty"`
	BodyRegion *string         `json:"bodyRegion,omitempty"`
	Incidences *[]string       `json:"incidences,omitempty"`
	Equipment  *string         `json:"equipment,omitempty"`
	EchoData   *map[string]any `json:"echoData,omitempty"`
}

// ReportInput is the body of a create request.
type ReportInput struct {
	Filename        string             `json:"filename"`
	FileURL         string             `json:"fileUrl"`
	StorageKey      string             `json:"storageKey,omitempty"`
	ContentType     string             `json:"contentType,omitempty"`
	Status          ProcessingStatus   `json:"status,omitempty"`
	Confidence      *float64           `json:"confidence,omitempty"`
	Findings        *string            `json:"findings,omitempty"`
	Diagnosis       *string            `json:"diagnosis,omitempty"`
	Differentials   []string           `json:"differentials,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Measurements    map[string]any     `json:"measurements,omitempty"`
	Images          []string           `json:"images,omitempty"`
	ExtractedText   *string            `json:"extractedText,omitempty"`
	Patient         PatientFields      `json:"patient"`
	Veterinarian    VeterinarianFields `json:"veterinarian"`
	Study           StudyFields        `json:"study"`
}

// ReportPatch is the body of an update request; nil fields are left untouched.
type ReportPatch struct {
	Findings        *string             `json:"findings,omitempty"`
	Diagnosis       *string             `json:"diagnosis,omitempty"`
	Differentials   *[]string           `json:"differentials,omitempty"`
	Recommendations *[]string           `json:"recommendations,omitempty"`
	Measurements    *map[string]any     `json:"measurements,omitempty"`
	Images          *[]string           `json:"images,omitempty"`
	ExtractedText   *string             `json:"extractedText,omitempty"`
	Status          *ProcessingStatus   `json:"status,omitempty"`
	Confidence      *float64            `json:"confidence,omitempty"`
	Patient         *PatientFields      `json:"patient,omitempty"`
	Veterinarian    *VeterinarianFields `json:"veterinarian,omitempty"`
	Study           *StudyFields        `json:"study,omitempty"`
}

func (p ReportPatch) Empty() bool {
	return p.Findings == nil && p.Diagnosis == nil && p.Differentials == nil &&
		p.Recommendations == nil && p.Measurements == nil && p.Images == nil &&
		p.ExtractedText == nil && p.Status == nil && p.Confidence == nil &&
		p.Patient == nil && p.Veterinarian == nil && p.Study == nil
}

// ExtractionUpdate is what a successful extraction writes in one transaction.
type ExtractionUpdate struct {
	Patient         Patient
	Veterinarian    Veterinarian
	Study           Study
	Findings        *string
	Diagnosis       *string
	Differentials   []string
	Recommendations []string
	Measurements    map[string]any
	ExtractedText   string
	Confidence      float64
	Status          ProcessingStatus
}

// Placeholder returns the input used for a freshly uploaded file.
func Placeholder(filename, url, key, contentType, today string) ReportInput {
	pending := PendingExtraction
	return ReportInput{
		Filename:    filename,
		FileURL:     url,
		StorageKey:  key,
		ContentType: contentType,
		Status:      StatusUploaded,
		Patient:     PatientFields{Name: &pending, Species: &pending, Owner: &pending},
		Veterinarian: VeterinarianFields{
			Name: &pending,
		},
		Study: StudyFields{Type: &pending, Date: &today},
	}
}

// MergePatient overlays non-empty fields of f on current.
func MergePatient(current Patient, f PatientFields) Patient {
	out := current
	out.ID = ""
	out.Name = pick(f.Name, current.Name)
	out.Species = pick(f.Species, current.Species)
	out.Owner = pick(f.Owner, current.Owner)
	out.Breed = pickOpt(f.Breed, current.Breed)
	out.Age = pickOpt(f.Age, current.Age)
	out.Weight = pickOpt(f.Weight, current.Weight)
	return out
}

func MergeVeterinarian(current Veterinarian, f VeterinarianFields) Veterinarian {
	out := current
	out.ID = ""
	out.Name = pick(f.Name, current.Name)
	out.License = pickOpt(f.License, current.License)
	out.Title = pickOpt(f.Title, current.Title)
	out.Clinic = pickOpt(f.Clinic, current.Clinic)
	out.Contact = pickOpt(f.Contact, current.Contact)
	out.ReferredBy = pickOpt(f.ReferredBy, current.ReferredBy)
	return out
}

func MergeStudy(current Study, f StudyFields) Study {
	out := current
	out.ID = ""
	out.Type = pick(f.Type, current.Type)
	if f.Date != nil && strings.TrimSpace(*f.Date) != "" {
		out.Date = *f.Date
	}
	out.Technique = pickOpt(f.Technique, current.Technique)
	out.BodyRegion = pickOpt(f.BodyRegion, current.BodyRegion)
	out.Equipment = pickOpt(f.Equipment, current.Equipment)
	if f.Incidences != nil {
		out.Incidences = *f.Incidences
	}
	if f.EchoData != nil {
		out.EchoData = *f.EchoData
	}
	return out
}

// PatientFromFields builds a new patient; missing required values become NotSpecified.
func PatientFromFields(f PatientFields) Patient {
	return MergePatient(Patient{Name: NotSpecified, Species: NotSpecified, Owner: NotSpecified}, f)
}

func VeterinarianFromFields(f VeterinarianFields) Veterinarian {
	return MergeVeterinarian(Veterinarian{Name: NotSpecified}, f)
}

func StudyFromFields(f StudyFields, today string) Study {
	return MergeStudy(Study{Type: NotSpecified, Date: today, Incidences: []string{}}, f)
}

func pick(v *string, fallback string) string {
	if v != nil {
		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}
	return fallback
}

func pickOpt(v *string, fallback *string) *string {
	if v != nil {
		if s := strings.TrimSpace(*v); s != "" {
			return &s
		}
	}
	return fallback
}

// Opt returns nil for blank strings.
func Opt(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
