package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/core/ingestion_engine"
	"github.com/markdave123-py/diagnovet/internal/services"
)

const (
	uploadField = "files"
	enqueueWait = 10 * time.Second
)

var (
	errNoFiles        = apperr.Validation("No se proporcionaron archivos")
	errFileTooLarge   = apperr.Validation("El archivo es demasiado grande. Máximo 10MB por archivo.")
	errTooManyFiles   = apperr.Validation("Demasiados archivos. Máximo 10 archivos por request.")
	errFileType       = apperr.Validation("Tipo de archivo no permitido. Solo se permiten imágenes (JPEG, PNG, GIF, WebP) y PDFs.")
	errUnexpectedFile = apperr.Validation("Campo de archivo inesperado.")
)

type Uploader interface {
	UploadBatch(ctx context.Context, files []services.UploadFile) []services.UploadResult
}

type StatusReader interface {
	Status(ctx context.Context, id string) (*services.ReportStatus, error)
}

// JobQueue hands report ids to the extraction workers.
type JobQueue interface {
	Enqueue(ctx context.Context, reportID string) error
	Reprocess(ctx context.Context, reportID string) (*ingestion_engine.Outcome, error)
}

type UploadHandler struct {
	uploader Uploader
	status   StatusReader
	queue    JobQueue
	rs       *Responder
	log      *zap.Logger
}

func NewUploadHandler(uploader Uploader, status StatusReader, queue JobQueue, rs *Responder, log *zap.Logger) *UploadHandler {
	return &UploadHandler{uploader: uploader, status: status, queue: queue, rs: rs, log: log.Named("upload_handler")}
}

// Upload stores the multipart "files" parts, answers with the per-file
// results and only then queues the stored reports for extraction.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	files, err := readUploadFiles(w, r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}

	results := h.uploader.UploadBatch(r.Context(), files)
	h.rs.OK(w, results, fmt.Sprintf("%d archivo(s) subido(s) correctamente", len(results)))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), enqueueWait)
	defer cancel()
	for _, res := range results {
		if res.Status != services.UploadStatusUploaded {
			continue
		}
		if err := h.queue.Enqueue(ctx, res.ID); err != nil {
			h.log.Error("upload.enqueue.failed", zap.String("report_id", res.ID), zap.Error(err))
		}
	}
}

// Process re-runs extraction for one report synchronously.
func (h *UploadHandler) Process(w http.ResponseWriter, r *http.Request) {
	out, err := h.queue.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, out, "Archivo procesado correctamente")
}

func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, st, "")
}

func readUploadFiles(w http.ResponseWriter, r *http.Request) ([]services.UploadFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadFiles*(services.MaxUploadFileSize+1<<16)+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFiles
	}

	var files []services.UploadFile
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, multipartError(err)
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			return nil, errUnexpectedFile
		}
		if len(files) == services.MaxUploadFiles {
			_ = part.Close()
			return nil, errTooManyFiles
		}

		f, err := readPart(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, errNoFiles
	}
	return files, nil
}

func readPart(part *multipart.Part) (services.UploadFile, error) {
	ct := partContentType(part)
	if !services.AllowedUploadTypes[ct] {
		return services.UploadFile{}, errFileType
	}
	data, err := io.ReadAll(io.LimitReader(part, services.MaxUploadFileSize+1))
	if err != nil {
		return services.UploadFile{}, multipartError(err)
	}
	if len(data) > services.MaxUploadFileSize {
		return services.UploadFile{}, errFileTooLarge
	}
	return services.UploadFile{Name: filepath.Base(part.FileName()), ContentType: ct, Data: data}, nil
}

func partContentType(part *multipart.Part) string {
	raw := part.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(mt)
}

func multipartError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return errFileTooLarge
	}
	return apperr.New(apperr.KindValidation, "Error al leer los archivos", err)
}
