package services

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	db "github.com/markdave123-py/diagnovet/internal/core/database"
	"github.com/markdave123-py/diagnovet/internal/models"
)

const (
	downloadURLTTL     = 15 * time.Minute
	defaultSemanticTop = 5
	maxSemanticTop     = 20
)

var errInvalidStudyDate = apperr.Validation("Fecha de estudio inválida")

// searchQueryFields are the columns matched by the dedicated search route.
var searchQueryFields = []core.SearchField{
	core.SearchPatientName, core.SearchVetName, core.SearchDiagnosis,
	core.SearchFindings, core.SearchExtractedText,
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type PagedReports struct {
	Data       []models.Report `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// ReportStatus is the polling view of a report's processing state.
type ReportStatus struct {
	ID              string                  `json:"id"`
	Status          models.ProcessingStatus `json:"status"`
	Confidence      *float64                `json:"confidence"`
	Filename        string                  `json:"filename"`
	ProcessingError *string                 `json:"processingError"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

type ReportService struct {
	db       core.ReportStore
	obj      core.ObjectClient
	embedder core.EmbeddingProvider
	log      *zap.Logger
}

// NewReportService wires report CRUD. embedder may be nil, which disables semantic search.
func NewReportService(store core.ReportStore, obj core.ObjectClient, embedder core.EmbeddingProvider, log *zap.Logger) *ReportService {
	return &ReportService{db: store, obj: obj, embedder: embedder, log: log.Named("reports")}
}

func (s *ReportService) List(ctx context.Context, f core.ReportFilter) (*PagedReports, error) {
	f.Page, f.Limit = db.NormalizePage(f.Page, f.Limit)
	page, err := s.db.ListReports(ctx, f)
	if err != nil {
		return nil, err
	}
	return paged(page, f.Page, f.Limit), nil
}

// Search matches query against patient and veterinarian names, diagnosis,
// findings and extracted text.
func (s *ReportService) Search(ctx context.Context, query string, page, limit int) (*PagedReports, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("La búsqueda no puede estar vacía")
	}
	return s.List(ctx, core.ReportFilter{
		Page:         page,
		Limit:        limit,
		Search:       query,
		SearchFields: searchQueryFields,
	})
}

func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	return s.db.GetReport(ctx, id)
}

func (s *ReportService) Create(ctx context.Context, raw []byte) (*models.Report, error) {
	var in models.ReportInput
	if err := decodeValidated(createReportSchema, raw, &in); err != nil {
		return nil, err
	}
	if err := canonicalStudyDate(&in.Study); err != nil {
		return nil, err
	}
	rep, err := s.db.CreateReport(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.Info("reports.created", zap.String("report_id", rep.ID), zap.String("filename", rep.Filename))
	return rep, nil
}

func (s *ReportService) Update(ctx context.Context, id string, raw []byte) (*models.Report, error) {
	var patch models.ReportPatch
	if err := decodeValidated(updateReportSchema, raw, &patch); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, apperr.Validation("No hay datos para actualizar")
	}
	if patch.Study != nil {
		if err := canonicalStudyDate(patch.Study); err != nil {
			return nil, err
		}
	}
	rep, err := s.db.UpdateReport(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.log.Info("reports.updated", zap.String("report_id", id))
	return rep, nil
}

// canonicalStudyDate rewrites a supplied study date as YYYY-MM-DD. Only
// extraction falls back to today; a client sending a bad date gets an error.
func canonicalStudyDate(st *models.StudyFields) error {
	if st.Date == nil || strings.TrimSpace(*st.Date) == "" {
		return nil
	}
	d, ok := models.ParseStudyDate(*st.Date)
	if !ok {
		return errInvalidStudyDate
	}
	st.Date = &d
	return nil
}

// Delete removes the report row and then its stored file. A storage failure
// is logged; the row is already gone.
func (s *ReportService) Delete(ctx context.Context, id string) error {
	rep, err := s.db.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteReport(ctx, id); err != nil {
		return err
	}
	if rep.StorageKey != "" {
		if err := s.obj.DeleteFile(ctx, rep.StorageKey); err != nil {
			s.log.Warn("reports.delete.object_failed", zap.String("report_id", id), zap.String("key", rep.StorageKey), zap.Error(err))
		}
	}
	s.log.Info("reports.deleted", zap.String("report_id", id))
	return nil
}

func (s *ReportService) Stats(ctx context.Context) (*models.ReportStats, error) {
	return s.db.Stats(ctx)
}

func (s *ReportService) Status(ctx context.Context, id string) (*ReportStatus, error) {
	rep, err := s.db.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReportStatus{
		ID:              rep.ID,
		Status:          rep.Status,
		Confidence:      rep.Confidence,
		Filename:        rep.Filename,
		ProcessingError: rep.ProcessingError,
		CreatedAt:       rep.CreatedAt,
		UpdatedAt:       rep.UpdatedAt,
	}, nil
}

// Download describes how to serve a report's original file: a redirect to
// URL, or Body streamed by the caller, who must close it.
type Download struct {
	URL         string
	Body        io.ReadCloser
	Filename    string
	ContentType string
}

// Download prefers a short-lived presigned URL, then streams the stored object,
// then falls back to the stored URL.
func (s *ReportService) Download(ctx context.Context, id string) (*Download, error) {
	rep, err := s.db.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("report_id", id))

	if rep.StorageKey != "" {
		u, err := s.obj.PresignGet(ctx, rep.StorageKey, downloadURLTTL)
		if err == nil {
			return &Download{URL: u}, nil
		}
		log.Warn("reports.download.presign_failed", zap.Error(err))

		body, err := s.obj.GetObjectReader(ctx, rep.StorageKey)
		if err == nil {
			ct := rep.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			return &Download{Body: body, Filename: rep.Filename, ContentType: ct}, nil
		}
		log.Warn("reports.download.stream_failed", zap.Error(err))
	}
	if rep.FileURL == "" {
		return nil, apperr.NotFound("Archivo no disponible")
	}
	return &Download{URL: rep.FileURL}, nil
}

// Semantic ranks reports by embedding distance to q.
func (s *ReportService) Semantic(ctx context.Context, q string, limit int) ([]models.ReportMatch, error) {
	if s.embedder == nil {
		return nil, apperr.Validation("Búsqueda semántica no disponible: GEMINI_API_KEY no configurada")
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperr.Validation("La búsqueda no puede estar vacía")
	}
	if limit < 1 {
		limit = defaultSemanticTop
	}
	if limit > maxSemanticTop {
		limit = maxSemanticTop
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{q})
	if err != nil {
		return nil, apperr.ExternalAPI("Error al generar el embedding de la búsqueda", err)
	}
	if len(vecs) != 1 {
		return nil, apperr.ExternalAPI("Respuesta inválida del servicio de embeddings", nil)
	}
	return s.db.SemanticSearch(ctx, vecs[0], limit)
}

func paged(p *core.Page, page, limit int) *PagedReports {
	reports := p.Reports
	if reports == nil {
		reports = []models.Report{}
	}
	pages := 0
	if limit > 0 {
		pages = (p.Total + limit - 1) / limit
	}
	return &PagedReports{
		Data:       reports,
		Pagination: Pagination{Page: page, Limit: limit, Total: p.Total, Pages: pages},
	}
}
