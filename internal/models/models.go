package models

import (
	"time"
)

// ProcessingStatus tracks a report through the extraction lifecycle.
type ProcessingStatus string

const (
	StatusUploaded    ProcessingStatus = "UPLOADED"
	StatusProcessing  ProcessingStatus = "PROCESSING"
	StatusCompleted   ProcessingStatus = "COMPLETED"
	StatusNeedsReview ProcessingStatus = "NEEDS_REVIEW"
	StatusError       ProcessingStatus = "ERROR"
)

var AllStatuses = []ProcessingStatus{
	StatusUploaded, StatusProcessing, StatusCompleted, StatusNeedsReview, StatusError,
}

func (s ProcessingStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal is true once the pipeline has finished with the report.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNeedsReview || s == StatusError
}

const (
	// PendingExtraction fills required fields of a placeholder report.
	PendingExtraction = "Pendiente de extracción"
	// NotSpecified replaces required fields the extractor could not find.
	NotSpecified = "No especificado"
)

// User is an operator allowed to edit reports.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Patient is deduplicated on name+species+owner.
type Patient struct {
	ID      string  `db:"id" json:"id"`
	Name    string  `db:"name" json:"name"`
	Species string  `db:"species" json:"species"`
	Breed   *string `db:"breed" json:"breed"`
	Age     *string `db:"age" json:"age"`
	Weight  *string `db:"weight" json:"weight"`
	Owner   string  `db:"owner" json:"owner"`
}

// Veterinarian is deduplicated on name+license.
type Veterinarian struct {
	ID         string  `db:"id" json:"id"`
	Name       string  `db:"name" json:"name"`
	License    *string `db:"license" json:"license"`
	Title      *string `db:"title" json:"title"`
	Clinic     *string `db:"clinic" json:"clinic"`
	Contact    *string `db:"contact" json:"contact"`
	ReferredBy *string `db:"referred_by" json:"referredBy"`
}

// Study rows are append-only; a report points at its latest study.
type Study struct {
	ID         string         `db:"id" json:"id"`
	Type       string         `db:"type" json:"type"`
	Date       string         `db:"date" json:"date"` // YYYY-MM-DD
	Technique  *string        `db:"technique" json:"technique"`
	BodyRegion *string        `db:"body_region" json:"bodyRegion"`
	Incidences []string       `db:"incidences" json:"incidences"`
	Equipment  *string        `db:"equipment" json:"equipment"`
	EchoData   map[string]any `db:"echo_data" json:"echoData"`
}

// Report is one processed veterinary document.
type Report struct {
	ID              string           `db:"id" json:"id"`
	Filename        string           `db:"filename" json:"filename"`
	FileURL         string           `db:"file_url" json:"fileUrl"`
	StorageKey      string           `db:"storage_key" json:"storageKey"`
	ContentType     string           `db:"content_type" json:"contentType"`
	Status          ProcessingStatus `db:"status" json:"status"`
	Confidence      *float64         `db:"confidence" json:"confidence"`
	Findings        *string          `db:"findings" json:"findings"`
	Diagnosis       *string          `db:"diagnosis" json:"diagnosis"`
	Differentials   []string         `db:"differentials" json:"differentials"`
	Recommendations []string         `db:"recommendations" json:"recommendations"`
	Measurements    map[string]any   `db:"measurements" json:"measurements"`
	Images          []string         `db:"images" json:"images"`
	ExtractedText   *string          `db:"extracted_text" json:"extractedText"`
	ProcessingError *string          `db:"processing_error" json:"processingError"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updatedAt"`

	PatientID      string `db:"patient_id" json:"patientId"`
	VeterinarianID string `db:"veterinarian_id" json:"veterinarianId"`
	StudyID        string `db:"study_id" json:"studyId"`

	Patient      Patient      `json:"patient"`
	Veterinarian Veterinarian `json:"veterinarian"`
	Study        Study        `json:"study"`
}

// ReportStats backs the dashboard counters.
type ReportStats struct {
	TotalReports       int     `json:"totalReports"`
	CompletedReports   int     `json:"completedReports"`
	ProcessingReports  int     `json:"processingReports"`
	ErrorReports       int     `json:"errorReports"`
	NeedsReviewReports int     `json:"needsReviewReports"`
	UploadedReports    int     `json:"uploadedReports"`
	TotalPatients      int     `json:"totalPatients"`
	TotalVeterinarians int     `json:"totalVeterinarians"`
	CompletionRate     float64 `json:"completionRate"`
}

// ReportMatch is a semantic search hit.
type ReportMatch struct {
	Report   Report  `json:"report"`
	Distance float64 `json:"distance"`
}
