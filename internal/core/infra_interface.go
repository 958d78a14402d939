package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/diagnovet/internal/models"
)

// ReportFilter narrows a report listing. Text predicates are case-insensitive substrings.
type ReportFilter struct {
	Page         int
	Limit        int
	Status       models.ProcessingStatus
	Search       string
	SearchFields []SearchField
	DateFrom     *time.Time
	DateTo       *time.Time
	Species      string
	Veterinarian string
}

type SearchField string

const (
	SearchExtractedText SearchField = "extracted_text"
	SearchDiagnosis     SearchField = "diagnosis"
	SearchFindings      SearchField = "findings"
	SearchFilename      SearchField = "filename"
	SearchPatientName   SearchField = "patient_name"
	SearchVetName       SearchField = "veterinarian_name"
)

// Page is one slice of a listing plus the total match count.
type Page struct {
	Reports []models.Report
	Total   int
}

// ReportStore persists reports and their patient, veterinarian and study rows.
type ReportStore interface {
	CreateReport(ctx context.Context, in models.ReportInput) (*models.Report, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, f ReportFilter) (*Page, error)
	UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error)
	DeleteReport(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.ReportStats, error)

	ClaimForProcessing(ctx context.Context, id string, staleAfter time.Duration) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ApplyExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (*models.Report, error)
	ListStale(ctx context.Context, status models.ProcessingStatus, olderThan time.Duration) ([]models.Report, error)

	UpsertEmbedding(ctx context.Context, reportID, content string, vec []float32) error
	SemanticSearch(ctx context.Context, vec []float32, limit int) ([]models.ReportMatch, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// DbClient is everything the application needs from the database.
type DbClient interface {
	ReportStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}

// StoredObject describes a file written to object storage.
type StoredObject struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
}

// ObjectClient defines interactions with S3 or any S3-compatible store.
type ObjectClient interface {
	UploadReportFile(ctx context.Context, data []byte, originalName, contentType string) (*StoredObject, error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
