package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/models"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

const (
	MaxUploadFiles    = 10
	MaxUploadFileSize = 10 << 20
	uploadConcurrency = 4
)

// AllowedUploadTypes is the MIME allow-list for uploads.
var AllowedUploadTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
}

const (
	UploadStatusUploaded = "uploaded"
	UploadStatusError    = "error"
)

type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadResult is the per-file outcome of a batch upload.
type UploadResult struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	Status   string `json:"status"`
	PublicID string `json:"publicId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type UploadService struct {
	db      core.ReportStore
	obj     core.ObjectClient
	metrics *metrics.Collector
	log     *zap.Logger
	now     func() time.Time
}

func NewUploadService(store core.ReportStore, obj core.ObjectClient, m *metrics.Collector, log *zap.Logger) *UploadService {
	return &UploadService{db: store, obj: obj, metrics: m, log: log.Named("upload"), now: time.Now}
}

// UploadBatch stores every file and creates its placeholder report. Files are
// handled concurrently and independently; results keep the input order.
func (s *UploadService) UploadBatch(ctx context.Context, files []UploadFile) []UploadResult {
	results := make([]UploadResult, len(files))

	var g errgroup.Group
	g.SetLimit(uploadConcurrency)
	for i := range files {
		g.Go(func() error {
			results[i] = s.uploadOne(ctx, files[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *UploadService) uploadOne(ctx context.Context, f UploadFile) UploadResult {
	kind := "image"
	if strings.EqualFold(f.ContentType, "application/pdf") || strings.HasSuffix(strings.ToLower(f.Name), ".pdf") {
		kind = "document"
	}
	log := s.log.With(zap.String("filename", f.Name), zap.Int("bytes", len(f.Data)))
	failed := UploadResult{Filename: f.Name, Status: UploadStatusError, Error: "Error al subir el archivo"}

	obj, err := s.obj.UploadReportFile(ctx, f.Data, f.Name, f.ContentType)
	if err != nil {
		s.metrics.IncUpload(kind, "error")
		log.Error("upload.store.failed", zap.Error(err))
		return failed
	}

	today := s.now().Format(models.DateLayout)
	rep, err := s.db.CreateReport(ctx, models.Placeholder(f.Name, obj.URL, obj.Key, obj.ContentType, today))
	if err != nil {
		s.metrics.IncUpload(kind, "error")
		log.Error("upload.placeholder.failed", zap.String("key", obj.Key), zap.Error(err))
		// the object has no report pointing at it
		if derr := s.obj.DeleteFile(context.WithoutCancel(ctx), obj.Key); derr != nil {
			log.Warn("upload.cleanup.failed", zap.String("key", obj.Key), zap.Error(derr))
		}
		return failed
	}

	s.metrics.IncUpload(kind, "ok")
	log.Info("upload.ok", zap.String("report_id", rep.ID), zap.String("key", obj.Key))
	return UploadResult{
		ID:       rep.ID,
		Filename: f.Name,
		URL:      obj.URL,
		Status:   UploadStatusUploaded,
		PublicID: obj.Key,
	}
}
