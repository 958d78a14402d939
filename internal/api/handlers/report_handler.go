package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
	"github.com/markdave123-py/diagnovet/internal/services"
)

const (
	maxJSONBody = 1 << 20
	xlsxType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ReportAPI is the report surface the handler drives.
type ReportAPI interface {
	List(ctx context.Context, f core.ReportFilter) (*services.PagedReports, error)
	Search(ctx context.Context, query string, page, limit int) (*services.PagedReports, error)
	Get(ctx context.Context, id string) (*models.Report, error)
	Create(ctx context.Context, raw []byte) (*models.Report, error)
	Update(ctx context.Context, id string, raw []byte) (*models.Report, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.ReportStats, error)
	Download(ctx context.Context, id string) (*services.Download, error)
	Semantic(ctx context.Context, q string, limit int) ([]models.ReportMatch, error)
}

type Exporter interface {
	ExportXLSX(ctx context.Context, f core.ReportFilter) ([]byte, int, error)
}

type ReportHandler struct {
	reports  ReportAPI
	exporter Exporter
	rs       *Responder
}

func NewReportHandler(reports ReportAPI, exporter Exporter, rs *Responder) *ReportHandler {
	return &ReportHandler{reports: reports, exporter: exporter, rs: rs}
}

// List answers GET /reports with the paginated envelope {success, data, pagination}.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	res, err := h.reports.List(r.Context(), f)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Raw(w, http.StatusOK, pagedBody(res))
}

func (h *ReportHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.reports.Search(r.Context(), chi.URLParam(r, "query"), intParam(q.Get("page")), intParam(q.Get("limit")))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Raw(w, http.StatusOK, pagedBody(res))
}

func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.reports.Stats(r.Context())
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, st, "")
}

func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	data, rows, err := h.exporter.ExportXLSX(r.Context(), f)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	name := fmt.Sprintf("reportes-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Total-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ReportHandler) Semantic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matches, err := h.reports.Semantic(r.Context(), q.Get("q"), intParam(q.Get("limit")))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if matches == nil {
		matches = []models.ReportMatch{}
	}
	h.rs.OK(w, matches, "")
}

func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, rep, "")
}

func (h *ReportHandler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.reports.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	if d.Body == nil {
		http.Redirect(w, r, d.URL, http.StatusFound)
		return
	}
	defer d.Body.Close()
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": d.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, d.Body)
}

func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	rep, err := h.reports.Create(r.Context(), raw)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Created(w, rep, "Reporte creado correctamente")
}

func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	rep, err := h.reports.Update(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, rep, "Reporte actualizado correctamente")
}

func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, nil, "Reporte eliminado correctamente")
}

type pagedResponse struct {
	Success    bool                `json:"success"`
	Data       []models.Report     `json:"data"`
	Pagination services.Pagination `json:"pagination"`
}

func pagedBody(p *services.PagedReports) pagedResponse {
	return pagedResponse{Success: true, Data: p.Data, Pagination: p.Pagination}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperr.Validation("El cuerpo de la petición es demasiado grande")
		}
		return nil, apperr.New(apperr.KindValidation, "No se pudo leer el cuerpo de la petición", err)
	}
	return raw, nil
}

// filterFromQuery maps the list query string. page and limit are clamped
// later; malformed numbers are treated as absent.
func filterFromQuery(r *http.Request) (core.ReportFilter, error) {
	q := r.URL.Query()
	f := core.ReportFilter{
		Page:         intParam(q.Get("page")),
		Limit:        intParam(q.Get("limit")),
		Search:       strings.TrimSpace(q.Get("search")),
		Species:      strings.TrimSpace(q.Get("species")),
		Veterinarian: strings.TrimSpace(q.Get("veterinarian")),
	}

	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		st := models.ProcessingStatus(s)
		if !st.Valid() {
			return f, apperr.Validation("Estado inválido: " + s)
		}
		f.Status = st
	}

	var err error
	if f.DateFrom, err = dateParam(q.Get("dateFrom"), false); err != nil {
		return f, err
	}
	if f.DateTo, err = dateParam(q.Get("dateTo"), true); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// dateParam accepts YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func dateParam(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return nil, apperr.Validation("Fecha inválida: " + s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
