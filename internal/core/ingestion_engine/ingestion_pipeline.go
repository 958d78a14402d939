package ingestion_engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
	"github.com/markdave123-py/diagnovet/internal/models"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

var (
	errQueueClosed = apperr.Internal("La cola de procesamiento está cerrada", nil)
	errQueueFull   = apperr.Internal("La cola de procesamiento está llena", nil)
)

const enqueueFailedReason = "No se pudo encolar el reporte"

// Outcome is the result of one successful extraction.
type Outcome struct {
	Report        *models.Report `json:"report"`
	Confidence    float64        `json:"confidence"`
	ExtractedData llm.Record     `json:"extractedData"`
	Provider      string         `json:"provider"`
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
// embedder may be nil to skip semantic indexing.
func NewDocumentIngestor(
	db core.ReportStore,
	obj core.ObjectClient,
	text core.TextExtractor,
	records RecordExtractor,
	embedder core.EmbeddingProvider,
	cfg IngestConfig,
	m *metrics.Collector,
	log *zap.Logger,
) *DocumentIngestor {
	cfg.withDefaults()
	return &DocumentIngestor{
		db: db, obj: obj, text: text, records: records, embedder: embedder,
		cfg:      cfg,
		metrics:  m,
		log:      log.Named("ingest"),
		now:      time.Now,
		jobs:     make(chan string, cfg.QueueSize),
		queued:   map[string]struct{}{},
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. Jobs already running are only cancelled when
// Shutdown gives up waiting, not when ctx is cancelled.
func (i *DocumentIngestor) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.base != nil || i.closed {
		return
	}
	i.base, i.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for w := 1; w <= i.cfg.Workers; w++ {
		i.wg.Add(1)
		go i.worker(w)
	}
	i.log.Info("ingest.started", zap.Int("workers", i.cfg.Workers), zap.Int("queue", i.cfg.QueueSize))
}

func (i *DocumentIngestor) worker(w int) {
	defer i.wg.Done()
	for id := range i.jobs {
		i.mu.Lock()
		delete(i.queued, id)
		i.mu.Unlock()
		i.metrics.SetQueueDepth(len(i.jobs))
		i.runJob(w, id)
	}
	i.log.Debug("ingest.worker.stopped", zap.Int("worker", w))
}

func (i *DocumentIngestor) runJob(w int, id string) {
	// after a timed-out Shutdown the report stays UPLOADED for RequeuePending
	if i.base.Err() != nil {
		i.log.Warn("ingest.job.deferred", zap.Int("worker", w), zap.String("report_id", id))
		return
	}
	ctx, cancel := context.WithTimeout(i.base, i.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("ingest.worker.panic", zap.String("report_id", id), zap.Any("panic", r))
			i.fail(ctx, id, apperr.Internal("Error interno al procesar el reporte", nil))
		}
	}()

	i.log.Debug("ingest.job.start", zap.Int("worker", w), zap.String("report_id", id))
	if _, err := i.ProcessOne(ctx, id); err != nil {
		i.log.Warn("ingest.job.failed", zap.Int("worker", w), zap.String("report_id", id), zap.Error(err))
	}
}

// Enqueue schedules a report for extraction. It blocks while the queue is full
// until ctx is done or Shutdown starts. A report that cannot be queued is
// marked ERROR so its status still reaches a terminal state.
func (i *DocumentIngestor) Enqueue(ctx context.Context, reportID string) error {
	sent, err := i.send(ctx, reportID, true)
	if err != nil {
		i.log.Error("ingest.enqueue.failed", zap.String("report_id", reportID), zap.Error(err))
		i.markFailed(ctx, reportID, enqueueFailedReason)
		return err
	}
	if sent {
		i.log.Debug("ingest.enqueued", zap.String("report_id", reportID), zap.Int("depth", len(i.jobs)))
	}
	return nil
}

// send puts reportID on the queue without holding mu while blocked. It
// reports false with no error when the id is already queued. Without wait a
// full queue fails at once with errQueueFull.
func (i *DocumentIngestor) send(ctx context.Context, reportID string, wait bool) (bool, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return false, errQueueClosed
	}
	if _, ok := i.queued[reportID]; ok {
		i.mu.Unlock()
		return false, nil
	}
	i.queued[reportID] = struct{}{}
	i.senders.Add(1)
	i.mu.Unlock()
	defer i.senders.Done()

	var err error
	if wait {
		select {
		case i.jobs <- reportID:
		case <-i.stopping:
			err = errQueueClosed
		case <-ctx.Done():
			err = ctx.Err()
		}
	} else {
		select {
		case i.jobs <- reportID:
		default:
			err = errQueueFull
		}
	}
	if err == nil {
		i.metrics.SetQueueDepth(len(i.jobs))
		return true, nil
	}
	i.mu.Lock()
	delete(i.queued, reportID)
	i.mu.Unlock()
	return false, err
}

// RequeuePending queues UPLOADED reports older than PendingAfter, which lost
// their job to a restart or a timed-out shutdown. It never blocks on a full
// queue; whatever does not fit waits for the next call.
func (i *DocumentIngestor) RequeuePending(ctx context.Context) (int, error) {
	pending, err := i.db.ListStale(ctx, models.StatusUploaded, i.cfg.PendingAfter)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rep := range pending {
		sent, err := i.send(ctx, rep.ID, false)
		if errors.Is(err, errQueueFull) {
			break
		}
		if err != nil {
			return n, err
		}
		if sent {
			n++
		}
	}
	if n > 0 {
		i.log.Info("ingest.requeued", zap.Int("count", n), zap.Int("pending", len(pending)))
	}
	return n, nil
}

// Shutdown stops accepting jobs and waits for queued and in-flight jobs to
// finish. When ctx ends first, in-flight jobs are cancelled.
func (i *DocumentIngestor) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.stopping)
	}
	i.mu.Unlock()
	i.senders.Wait()
	i.closeJobs.Do(func() { close(i.jobs) })

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		i.log.Info("ingest.stopped")
		return nil
	case <-ctx.Done():
		if i.cancel != nil {
			i.cancel()
		}
		i.log.Warn("ingest.shutdown.timeout", zap.Int("pending", len(i.jobs)))
		return ctx.Err()
	}
}

func (i *DocumentIngestor) QueueStats() QueueStats {
	return QueueStats{Length: len(i.jobs), Capacity: cap(i.jobs), Workers: i.cfg.Workers}
}

// ProcessOne claims a report and runs download, text extraction, structured
// extraction and persistence. Any failure leaves the report in ERROR with the
// extracted fields untouched.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, reportID string) (*Outcome, error) {
	start := time.Now()
	log := i.log.With(zap.String("report_id", reportID))

	if err := i.db.ClaimForProcessing(ctx, reportID, i.cfg.StaleAfter); err != nil {
		log.Warn("ingest.claim.rejected", zap.Error(err))
		return nil, err
	}
	log.Info("ingest.extract.start")

	out, err := i.extract(ctx, reportID, log)
	if err != nil {
		i.fail(ctx, reportID, err)
		i.metrics.IncIngest(string(models.StatusError))
		log.Error("ingest.extract.failed",
			zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return nil, err
	}

	i.metrics.IncIngest(string(out.Report.Status))
	log.Info("ingest.extract.done",
		zap.String("status", string(out.Report.Status)),
		zap.Float64("confidence", out.Confidence),
		zap.String("provider", out.Provider),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return out, nil
}

// Reprocess runs ProcessOne for an operator request. The run outlives a
// cancelled caller and is bounded by the job timeout instead.
func (i *DocumentIngestor) Reprocess(ctx context.Context, reportID string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.Timeout)
	defer cancel()
	return i.ProcessOne(ctx, reportID)
}

func (i *DocumentIngestor) extract(ctx context.Context, id string, log *zap.Logger) (*Outcome, error) {
	rep, err := i.db.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsPDF(rep.Filename, rep.StorageKey) {
		return nil, errNotPDF
	}
	if rep.StorageKey == "" {
		return nil, apperr.FileProcessing("El reporte no tiene un archivo almacenado", nil)
	}

	t := time.Now()
	data, err := i.obj.GetFile(ctx, rep.StorageKey)
	if err != nil {
		return nil, err
	}
	i.metrics.ObserveStage("download", time.Since(t))

	t = time.Now()
	text, err := i.text.ExtractText(ctx, data)
	if err != nil {
		return nil, err
	}
	i.metrics.ObserveStage("text", time.Since(t))
	log.Debug("ingest.text.ok", zap.Int("text_len", len(text)))

	t = time.Now()
	res, err := i.records.Extract(ctx, text)
	if err != nil {
		return nil, structuredError(err)
	}
	i.metrics.ObserveStage("structured", time.Since(t))

	t = time.Now()
	saved, err := i.db.ApplyExtraction(ctx, id, i.buildUpdate(res, text))
	if err != nil {
		return nil, err
	}
	i.metrics.ObserveStage("persist", time.Since(t))

	i.index(ctx, saved, log)

	return &Outcome{
		Report:        saved,
		Confidence:    res.Confidence,
		ExtractedData: res.Record,
		Provider:      res.Provider,
	}, nil
}

// buildUpdate maps a structured record onto the rows written by ApplyExtraction.
func (i *DocumentIngestor) buildUpdate(res *llm.Result, text string) models.ExtractionUpdate {
	rec := res.Record
	now := i.now()

	study := models.StudyFromFields(rec.Study, now.Format(models.DateLayout))
	study.Date = models.NormalizeStudyDate(study.Date, now)
	if study.Incidences == nil {
		study.Incidences = []string{}
	}
	if study.EchoData == nil {
		study.EchoData = map[string]any{}
	}

	status := models.StatusNeedsReview
	if res.Confidence > i.cfg.ConfidenceThreshold {
		status = models.StatusCompleted
	}

	measurements := rec.Measurements
	if measurements == nil {
		measurements = map[string]any{}
	}

	return models.ExtractionUpdate{
		Patient:         models.PatientFromFields(rec.Patient),
		Veterinarian:    models.VeterinarianFromFields(rec.Veterinarian),
		Study:           study,
		Findings:        rec.Findings,
		Diagnosis:       rec.Diagnosis,
		Differentials:   orEmpty(rec.Differentials),
		Recommendations: orEmpty(rec.Recommendations),
		Measurements:    measurements,
		ExtractedText:   text,
		Confidence:      res.Confidence,
		Status:          status,
	}
}

// index stores the semantic-search embedding. Failures are logged only.
func (i *DocumentIngestor) index(ctx context.Context, rep *models.Report, log *zap.Logger) {
	if i.embedder == nil {
		return
	}
	content := embeddingContent(rep, i.cfg.EmbedTokens)
	if content == "" {
		return
	}
	vecs, err := i.embedder.EmbedTexts(ctx, []string{content})
	if err != nil || len(vecs) != 1 {
		log.Warn("ingest.embed.failed", zap.Error(err), zap.Int("vectors", len(vecs)))
		return
	}
	if err := i.db.UpsertEmbedding(ctx, rep.ID, content, vecs[0]); err != nil {
		log.Warn("ingest.embed.store_failed", zap.Error(err))
	}
}

// fail records the failure on the report. It runs even when ctx has expired.
func (i *DocumentIngestor) fail(ctx context.Context, id string, cause error) {
	reason := apperr.MessageOf(cause, "Error al procesar el reporte")
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "Tiempo de procesamiento agotado"
	}

	i.markFailed(ctx, id, reason)
}

func (i *DocumentIngestor) markFailed(ctx context.Context, id, reason string) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.db.MarkFailed(mctx, id, reason); err != nil {
		i.log.Error("ingest.mark_failed.error", zap.String("report_id", id), zap.Error(err))
	}
}

func structuredError(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		return apperr.ExternalAPI("API key del proveedor de IA no configurada", err)
	case errors.Is(err, llm.ErrCircuitOpen):
		return apperr.ExternalAPI("El proveedor de IA no está disponible temporalmente", err)
	}
	var he *llm.HTTPStatusError
	if errors.As(err, &he) {
		return apperr.ExternalAPI("Error en la API del proveedor de IA", err)
	}
	var me *llm.MalformedReplyError
	if errors.As(err, &me) {
		return apperr.ExternalAPI("Respuesta inválida del proveedor de IA", err)
	}
	return apperr.ExternalAPI("Error al extraer datos estructurados", err)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
