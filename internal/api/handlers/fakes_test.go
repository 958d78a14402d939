package handlers

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/core/ingestion_engine"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
	"github.com/markdave123-py/diagnovet/internal/models"
	"github.com/markdave123-py/diagnovet/internal/services"
)

func newTestResponder(exposeStack bool) *Responder {
	return NewResponder(zap.NewNop(), exposeStack)
}

// route mounts h on a chi router so URL params resolve like in production.
func route(method, pattern string, h http.HandlerFunc, rs *Responder) http.Handler {
	r := chi.NewRouter()
	r.NotFound(rs.NotFound)
	r.MethodNotAllowed(rs.MethodNotAllowed)
	r.Method(method, pattern, h)
	return r
}

type fakeReports struct {
	lastFilter core.ReportFilter
	page       *services.PagedReports
	report     *models.Report
	download   *services.Download
	err        error
	rawBody    []byte
}

func (f *fakeReports) List(ctx context.Context, flt core.ReportFilter) (*services.PagedReports, error) {
	f.lastFilter = flt
	return f.page, f.err
}

func (f *fakeReports) Search(ctx context.Context, query string, page, limit int) (*services.PagedReports, error) {
	f.lastFilter = core.ReportFilter{Search: query, Page: page, Limit: limit}
	return f.page, f.err
}

func (f *fakeReports) Get(ctx context.Context, id string) (*models.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.report == nil || f.report.ID != id {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	return f.report, nil
}

func (f *fakeReports) Create(ctx context.Context, raw []byte) (*models.Report, error) {
	f.rawBody = raw
	return f.report, f.err
}

func (f *fakeReports) Update(ctx context.Context, id string, raw []byte) (*models.Report, error) {
	f.rawBody = raw
	return f.report, f.err
}

func (f *fakeReports) Delete(ctx context.Context, id string) error { return f.err }

func (f *fakeReports) Stats(ctx context.Context) (*models.ReportStats, error) {
	return &models.ReportStats{}, f.err
}

func (f *fakeReports) Download(ctx context.Context, id string) (*services.Download, error) {
	return f.download, f.err
}

func (f *fakeReports) Semantic(ctx context.Context, q string, limit int) ([]models.ReportMatch, error) {
	return nil, f.err
}

type fakeExporter struct {
	data []byte
	rows int
}

func (f fakeExporter) ExportXLSX(ctx context.Context, flt core.ReportFilter) ([]byte, int, error) {
	return f.data, f.rows, nil
}

type fakeUploader struct {
	got     []services.UploadFile
	results []services.UploadResult
}

func (f *fakeUploader) UploadBatch(ctx context.Context, files []services.UploadFile) []services.UploadResult {
	f.got = files
	if f.results != nil {
		return f.results
	}
	out := make([]services.UploadResult, len(files))
	for i, file := range files {
		out[i] = services.UploadResult{ID: "id-" + file.Name, Filename: file.Name, Status: services.UploadStatusUploaded}
	}
	return out
}

// fakeQueue records enqueued ids together with whether the response had
// already been written when Enqueue ran.
type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []string
	afterBody []bool
	w         *flushRecorder
	outcome   *ingestion_engine.Outcome
	err       error
}

func (q *fakeQueue) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, id)
	q.afterBody = append(q.afterBody, q.w != nil && q.w.flushed)
	return nil
}

func (q *fakeQueue) Reprocess(ctx context.Context, id string) (*ingestion_engine.Outcome, error) {
	return q.outcome, q.err
}

func (q *fakeQueue) QueueStats() ingestion_engine.QueueStats {
	return ingestion_engine.QueueStats{Length: 1, Capacity: 64, Workers: 2}
}

type flushRecorder struct {
	http.ResponseWriter
	flushed bool
}

func (f *flushRecorder) Flush() {
	f.flushed = true
	if fl, ok := f.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

type fakeStatus struct{}

func (fakeStatus) Status(ctx context.Context, id string) (*services.ReportStatus, error) {
	if id != "r1" {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	return &services.ReportStatus{ID: id, Status: models.StatusCompleted}, nil
}

type fakeLLM struct {
	status llm.ConnectionStatus
}

func (f fakeLLM) TestConnection(ctx context.Context) llm.ConnectionStatus { return f.status }
func (fakeLLM) AvailableModels() []string                                 { return nil }
func (fakeLLM) Provider() string                                          { return "openrouter" }
func (fakeLLM) Model() string                                             { return "google/gemini-2.0-flash-001" }

type fakeAuth struct {
	err error
}

func (f fakeAuth) Signup(ctx context.Context, email, password string) (string, error) {
	return "signup-token", f.err
}

func (f fakeAuth) Login(ctx context.Context, email, password string) (string, error) {
	return "login-token", f.err
}

type fakeBody struct {
	data   []byte
	closed bool
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *fakeBody) Close() error {
	b.closed = true
	return nil
}
