package ingestion_engine

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
	"github.com/markdave123-py/diagnovet/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	reports  map[string]*models.Report
	applied  map[string]models.ExtractionUpdate
	failed   map[string]string
	embedded map[string]string
	claimErr error
}

func newFakeStore(reports ...models.Report) *fakeStore {
	s := &fakeStore{
		reports:  map[string]*models.Report{},
		applied:  map[string]models.ExtractionUpdate{},
		failed:   map[string]string{},
		embedded: map[string]string{},
	}
	for k := range reports {
		r := reports[k]
		s.reports[r.ID] = &r
	}
	return s
}

func (s *fakeStore) CreateReport(ctx context.Context, in models.ReportInput) (*models.Report, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListReports(ctx context.Context, f core.ReportFilter) (*core.Page, error) {
	return &core.Page{}, nil
}

func (s *fakeStore) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) DeleteReport(ctx context.Context, id string) error { return nil }

func (s *fakeStore) Stats(ctx context.Context) (*models.ReportStats, error) {
	return &models.ReportStats{}, nil
}

func (s *fakeStore) ClaimForProcessing(ctx context.Context, id string, staleAfter time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	r, ok := s.reports[id]
	if !ok {
		return apperr.NotFound("Reporte no encontrado")
	}
	r.Status = models.StatusProcessing
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = reason
	if r, ok := s.reports[id]; ok {
		r.Status = models.StatusError
		r.ProcessingError = &reason
	}
	return nil
}

func (s *fakeStore) ApplyExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	s.applied[id] = upd
	r.Status = upd.Status
	r.Confidence = &upd.Confidence
	r.Diagnosis = upd.Diagnosis
	r.Patient = upd.Patient
	r.Study = upd.Study
	r.ExtractedText = &upd.ExtractedText
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListStale(ctx context.Context, status models.ProcessingStatus, olderThan time.Duration) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *fakeStore) UpsertEmbedding(ctx context.Context, reportID, content string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedded[reportID] = content
	return nil
}

func (s *fakeStore) SemanticSearch(ctx context.Context, vec []float32, limit int) ([]models.ReportMatch, error) {
	return nil, nil
}

func (s *fakeStore) status(id string) models.ProcessingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[id].Status
}

type fakeObjects struct {
	mu    sync.Mutex
	gets  int
	data  []byte
	err   error
	delay time.Duration
}

func (o *fakeObjects) UploadReportFile(ctx context.Context, data []byte, name, ct string) (*core.StoredObject, error) {
	return nil, errors.New("not implemented")
}

func (o *fakeObjects) GetFile(ctx context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	o.gets++
	o.mu.Unlock()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	return o.data, o.err
}

func (o *fakeObjects) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(o.data))), nil
}

func (o *fakeObjects) DeleteFile(ctx context.Context, key string) error { return nil }

func (o *fakeObjects) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

type fakeText struct {
	text string
	err  error
}

func (f fakeText) ExtractText(ctx context.Context, data []byte) (string, error) {
	return f.text, f.err
}

type fakeRecords struct {
	res *llm.Result
	err error
}

func (f fakeRecords) Extract(ctx context.Context, text string) (*llm.Result, error) {
	return f.res, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func strp(s string) *string { return &s }

func uploaded(id string) models.Report {
	return models.Report{
		ID:          id,
		Filename:    "informe.pdf",
		StorageKey:  "diagnovet/reports/documents/1_informe.pdf",
		ContentType: "application/pdf",
		Status:      models.StatusUploaded,
		Patient:     models.Patient{Name: models.PendingExtraction, Species: models.PendingExtraction, Owner: models.PendingExtraction},
	}
}

func result(conf float64) *llm.Result {
	rec := llm.Skeleton()
	rec.Patient.Name = strp("Rex")
	rec.Patient.Species = strp("Canino")
	rec.Study.Date = strp("07/08/2025")
	rec.Diagnosis = strp("Otitis externa")
	rec.Confidence = conf
	return &llm.Result{Record: rec, Confidence: conf, Provider: "fake", Parsed: true}
}

type harness struct {
	store   *fakeStore
	objects *fakeObjects
	ing     *DocumentIngestor
}

func newHarness(records RecordExtractor, reports ...models.Report) *harness {
	h := &harness{
		store:   newFakeStore(reports...),
		objects: &fakeObjects{data: []byte("%PDF-1.4")},
	}
	h.ing = NewDocumentIngestor(h.store, h.objects, fakeText{text: "Paciente: Rex"}, records, nil,
		IngestConfig{Workers: 2, QueueSize: 8, Timeout: time.Second, ConfidenceThreshold: 80},
		nil, zap.NewNop())
	h.ing.now = func() time.Time { return time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestProcessOneStatusPolicy(t *testing.T) {
	cases := []struct {
		name string
		conf float64
		want models.ProcessingStatus
	}{
		{"above threshold completes", 90, models.StatusCompleted},
		{"at threshold needs review", 80, models.StatusNeedsReview},
		{"regex confidence needs review", 50, models.StatusNeedsReview},
		{"unparsed reply needs review", 0, models.StatusNeedsReview},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(fakeRecords{res: result(tc.conf)}, uploaded("r1"))

			out, err := h.ing.ProcessOne(context.Background(), "r1")
			if err != nil {
				t.Fatalf("ProcessOne: %v", err)
			}
			if out.Report.Status != tc.want || h.store.status("r1") != tc.want {
				t.Fatalf("status = %s want %s", out.Report.Status, tc.want)
			}
			if out.Confidence != tc.conf {
				t.Fatalf("confidence = %v", out.Confidence)
			}
		})
	}
}

func TestProcessOneNormalizesRecord(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("r1"))

	if _, err := h.ing.ProcessOne(context.Background(), "r1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	upd := h.store.applied["r1"]
	if upd.Study.Date != "2025-08-07" {
		t.Fatalf("study date = %q, want day-first 2025-08-07", upd.Study.Date)
	}
	if upd.Patient.Name != "Rex" || upd.Patient.Owner != models.NotSpecified {
		t.Fatalf("patient = %+v", upd.Patient)
	}
	if upd.Veterinarian.Name != models.NotSpecified {
		t.Fatalf("veterinarian = %+v", upd.Veterinarian)
	}
	if upd.Study.Type != models.NotSpecified || upd.Study.Incidences == nil {
		t.Fatalf("study = %+v", upd.Study)
	}
	if upd.Differentials == nil || upd.Recommendations == nil || upd.Measurements == nil {
		t.Fatalf("collections must not be nil: %+v", upd)
	}
	if upd.ExtractedText != "Paciente: Rex" {
		t.Fatalf("extracted text = %q", upd.ExtractedText)
	}
}

func TestProcessOneUnparseableDateFallsBackToToday(t *testing.T) {
	res := result(95)
	res.Record.Study.Date = strp("agosto 2025")
	h := newHarness(fakeRecords{res: res}, uploaded("r1"))

	if _, err := h.ing.ProcessOne(context.Background(), "r1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if got := h.store.applied["r1"].Study.Date; got != "2025-09-01" {
		t.Fatalf("study date = %q", got)
	}
}

func TestProcessOneFailures(t *testing.T) {
	t.Run("structured extraction error marks ERROR without applying", func(t *testing.T) {
		h := newHarness(fakeRecords{err: &llm.HTTPStatusError{StatusCode: 503, Body: "busy"}}, uploaded("r1"))

		_, err := h.ing.ProcessOne(context.Background(), "r1")
		if apperr.KindOf(err) != apperr.KindExternalAPI {
			t.Fatalf("err = %v", err)
		}
		if h.store.status("r1") != models.StatusError {
			t.Fatalf("status = %s", h.store.status("r1"))
		}
		if _, ok := h.store.applied["r1"]; ok {
			t.Fatalf("extraction must not be applied")
		}
		if h.store.failed["r1"] != "Error en la API del proveedor de IA" {
			t.Fatalf("reason = %q", h.store.failed["r1"])
		}
		rep, _ := h.store.GetReport(context.Background(), "r1")
		if rep.Patient.Name != models.PendingExtraction {
			t.Fatalf("placeholder overwritten: %+v", rep.Patient)
		}
	})

	t.Run("non-PDF is rejected before download", func(t *testing.T) {
		img := uploaded("r2")
		img.Filename = "radiografia.png"
		img.StorageKey = "diagnovet/reports/images/1_radiografia.png"
		h := newHarness(fakeRecords{res: result(95)}, img)

		_, err := h.ing.ProcessOne(context.Background(), "r2")
		if apperr.KindOf(err) != apperr.KindFileProcessing {
			t.Fatalf("err = %v", err)
		}
		if h.store.failed["r2"] != "El archivo no es un PDF" {
			t.Fatalf("reason = %q", h.store.failed["r2"])
		}
		if h.objects.gets != 0 {
			t.Fatalf("file downloaded for a non-PDF")
		}
	})

	t.Run("storage error marks ERROR", func(t *testing.T) {
		h := newHarness(fakeRecords{res: result(95)}, uploaded("r3"))
		h.objects.err = apperr.ExternalAPI("Error al descargar el archivo", errors.New("timeout"))

		if _, err := h.ing.ProcessOne(context.Background(), "r3"); err == nil {
			t.Fatalf("expected error")
		}
		if h.store.failed["r3"] != "Error al descargar el archivo" {
			t.Fatalf("reason = %q", h.store.failed["r3"])
		}
	})

	t.Run("lost claim leaves the report alone", func(t *testing.T) {
		h := newHarness(fakeRecords{res: result(95)}, uploaded("r4"))
		h.store.claimErr = apperr.Conflict("El reporte ya se está procesando")

		_, err := h.ing.ProcessOne(context.Background(), "r4")
		if apperr.KindOf(err) != apperr.KindConflict {
			t.Fatalf("err = %v", err)
		}
		if _, ok := h.store.failed["r4"]; ok {
			t.Fatalf("lost claim must not mark the report failed")
		}
	})
}

func TestProcessOneIndexesEmbedding(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("r1"))
	h.ing.embedder = fakeEmbedder{}

	if _, err := h.ing.ProcessOne(context.Background(), "r1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	content := h.store.embedded["r1"]
	if !strings.Contains(content, "Diagnóstico: Otitis externa") {
		t.Fatalf("embedding content = %q", content)
	}
}

func TestQueueDrainsOnShutdown(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	var reports []models.Report
	for _, id := range ids {
		reports = append(reports, uploaded(id))
	}
	h := newHarness(fakeRecords{res: result(95)}, reports...)
	h.objects.delay = 10 * time.Millisecond

	ctx := context.Background()
	h.ing.Start(ctx)
	for _, id := range ids {
		if err := h.ing.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.ing.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, id := range ids {
		if st := h.store.status(id); st != models.StatusCompleted {
			t.Fatalf("report %s status = %s", id, st)
		}
	}

	if err := h.ing.Enqueue(ctx, "late"); !errors.Is(err, errQueueClosed) {
		t.Fatalf("Enqueue after shutdown: %v", err)
	}
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)})
	h.ing = NewDocumentIngestor(h.store, h.objects, fakeText{}, fakeRecords{}, nil,
		IngestConfig{Workers: 1, QueueSize: 1}, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.ing.Enqueue(ctx, "x"); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := h.ing.Enqueue(ctx, "y"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Enqueue: %v", err)
	}
	if h.store.failed["y"] != enqueueFailedReason {
		t.Fatalf("failed reason = %q", h.store.failed["y"])
	}
	if qs := h.ing.QueueStats(); qs.Length != 1 || qs.Capacity != 1 || qs.Workers != 1 {
		t.Fatalf("queue stats = %+v", qs)
	}
}

func TestReprocessOutlivesCancelledCaller(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("r1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.ing.Reprocess(ctx, "r1")
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if out.Report.Status != models.StatusCompleted {
		t.Fatalf("status = %s", out.Report.Status)
	}
}

func TestEnqueueFailureMarksReportFailed(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("r1"))
	h.ing.Start(context.Background())
	if err := h.ing.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if err := h.ing.Enqueue(context.Background(), "r1"); !errors.Is(err, errQueueClosed) {
		t.Fatalf("Enqueue: %v", err)
	}
	if h.store.failed["r1"] != enqueueFailedReason || h.store.status("r1") != models.StatusError {
		t.Fatalf("failed = %q status %s", h.store.failed["r1"], h.store.status("r1"))
	}
}

func TestEnqueueSkipsQueuedReport(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("r1"))
	ctx := context.Background()
	for n := 0; n < 2; n++ {
		if err := h.ing.Enqueue(ctx, "r1"); err != nil {
			t.Fatalf("Enqueue #%d: %v", n, err)
		}
	}
	if qs := h.ing.QueueStats(); qs.Length != 1 {
		t.Fatalf("queue length = %d", qs.Length)
	}
}

func TestShutdownReleasesBlockedEnqueue(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("x"), uploaded("y"))
	h.ing = NewDocumentIngestor(h.store, h.objects, fakeText{}, fakeRecords{}, nil,
		IngestConfig{Workers: 1, QueueSize: 1}, nil, zap.NewNop())

	ctx := context.Background()
	if err := h.ing.Enqueue(ctx, "x"); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- h.ing.Enqueue(ctx, "y") }()

	// let the sender block on the full queue
	time.Sleep(20 * time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	if err := h.ing.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("Shutdown waited %v on a blocked sender", took)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, errQueueClosed) {
			t.Fatalf("blocked Enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue never returned")
	}
	if h.store.status("y") != models.StatusError {
		t.Fatalf("status y = %s", h.store.status("y"))
	}
}

func TestRequeuePendingRecoversUploadedReports(t *testing.T) {
	done := uploaded("done")
	done.Status = models.StatusCompleted
	h := newHarness(fakeRecords{res: result(95)}, uploaded("a"), uploaded("b"), done)

	ctx := context.Background()
	h.ing.Start(ctx)
	n, err := h.ing.RequeuePending(ctx)
	if err != nil {
		t.Fatalf("RequeuePending: %v", err)
	}
	if n != 2 {
		t.Fatalf("requeued = %d", n)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.ing.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if st := h.store.status(id); st != models.StatusCompleted {
			t.Fatalf("report %s status = %s", id, st)
		}
	}
	if _, ok := h.store.applied["done"]; ok {
		t.Fatal("completed report must not be reprocessed")
	}
}

func TestRequeuePendingStopsAtQueueCapacity(t *testing.T) {
	h := newHarness(fakeRecords{res: result(95)}, uploaded("a"), uploaded("b"), uploaded("c"))
	h.ing = NewDocumentIngestor(h.store, h.objects, fakeText{}, fakeRecords{}, nil,
		IngestConfig{Workers: 1, QueueSize: 2}, nil, zap.NewNop())

	n, err := h.ing.RequeuePending(context.Background())
	if err != nil {
		t.Fatalf("RequeuePending: %v", err)
	}
	if n != 2 || h.ing.QueueStats().Length != 2 {
		t.Fatalf("requeued = %d length %d", n, h.ing.QueueStats().Length)
	}
}
