package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
)

func newReportService(store *memStore, obj *memObjects) *ReportService {
	return NewReportService(store, obj, nil, zap.NewNop())
}

func seed(store *memStore, n int) {
	for i := 1; i <= n; i++ {
		store.add(models.Report{
			ID:         fmt.Sprintf("r%d", i),
			Filename:   fmt.Sprintf("informe-%d.pdf", i),
			StorageKey: fmt.Sprintf("root/documents/%d_informe.pdf", i),
			FileURL:    fmt.Sprintf("https://cdn.test/%d.pdf", i),
			Patient:    models.Patient{Name: fmt.Sprintf("Paciente %d", i)},
		})
	}
}

func TestReportServiceListPagination(t *testing.T) {
	store := newMemStore()
	seed(store, 23)
	svc := newReportService(store, &memObjects{})

	cases := []struct {
		name             string
		page, limit      int
		wantPage, wantN  int
		wantLimit, pages int
	}{
		{"defaults", 0, 0, 1, 10, 10, 3},
		{"last page", 3, 10, 3, 3, 10, 3},
		{"limit clamped", 1, 500, 1, 23, 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.List(context.Background(), core.ReportFilter{Page: tc.page, Limit: tc.limit})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			p := res.Pagination
			if p.Page != tc.wantPage || p.Limit != tc.wantLimit || p.Total != 23 || p.Pages != tc.pages {
				t.Fatalf("pagination = %+v", p)
			}
			if len(res.Data) != tc.wantN {
				t.Fatalf("got %d reports want %d", len(res.Data), tc.wantN)
			}
		})
	}
}

func TestReportServiceListEmptyHasNonNilData(t *testing.T) {
	svc := newReportService(newMemStore(), &memObjects{})
	res, err := svc.List(context.Background(), core.ReportFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Data == nil || res.Pagination.Pages != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestReportServiceSearch(t *testing.T) {
	store := newMemStore()
	seed(store, 3)
	svc := newReportService(store, &memObjects{})

	if _, err := svc.Search(context.Background(), "   ", 1, 10); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("empty query err = %v", err)
	}

	res, err := svc.Search(context.Background(), "paciente 2", 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0].ID != "r2" {
		t.Fatalf("data = %+v", res.Data)
	}
	f := store.filters[len(store.filters)-1]
	for _, sf := range f.SearchFields {
		if sf == core.SearchFilename {
			t.Fatalf("search route must not match filenames")
		}
	}
	if len(f.SearchFields) != 5 {
		t.Fatalf("search fields = %v", f.SearchFields)
	}
}

func TestReportServiceCreateValidation(t *testing.T) {
	store := newMemStore()
	svc := newReportService(store, &memObjects{})
	ctx := context.Background()

	bad := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing filename", `{"fileUrl": "https://x"}`},
		{"empty filename", `{"filename": "", "fileUrl": "https://x"}`},
		{"bad status", `{"filename": "a.pdf", "fileUrl": "https://x", "status": "DONE"}`},
		{"confidence out of range", `{"filename": "a.pdf", "fileUrl": "https://x", "confidence": 140}`},
		{"differentials not strings", `{"filename": "a.pdf", "fileUrl": "https://x", "differentials": [1]}`},
		{"unparseable study date", `{"filename": "a.pdf", "fileUrl": "https://x", "study": {"date": "ayer"}}`},
		{"impossible study date", `{"filename": "a.pdf", "fileUrl": "https://x", "study": {"date": "31/02/2025"}}`},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, []byte(tc.body))
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("err = %v", err)
			}
		})
	}

	rep, err := svc.Create(ctx, []byte(`{
		"filename": "a.pdf", "fileUrl": "https://x", "status": "COMPLETED",
		"patient": {"name": "Rex", "breed": null},
		"study": {"date": "07/08/2025", "incidences": ["VD"]}
	}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rep.Filename != "a.pdf" || rep.Status != models.StatusCompleted {
		t.Fatalf("report = %+v", rep)
	}
	if d := store.created[0].Study.Date; d == nil || *d != "2025-08-07" {
		t.Fatalf("stored study date = %v", d)
	}
}

func TestDescribeSchemaErrorNamesField(t *testing.T) {
	svc := newReportService(newMemStore(), &memObjects{})
	_, err := svc.Create(context.Background(), []byte(`{"filename": "a.pdf", "fileUrl": "x", "confidence": "alta"}`))
	if err == nil || !strings.Contains(err.Error(), "/confidence") {
		t.Fatalf("err = %v", err)
	}
}

func TestReportServiceUpdate(t *testing.T) {
	store := newMemStore()
	seed(store, 1)
	svc := newReportService(store, &memObjects{})
	ctx := context.Background()

	if _, err := svc.Update(ctx, "r1", []byte(`{}`)); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("empty patch err = %v", err)
	}
	if _, err := svc.Update(ctx, "nope", []byte(`{"diagnosis": "x"}`)); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing report err = %v", err)
	}

	rep, err := svc.Update(ctx, "r1", []byte(`{"diagnosis": "Otitis", "patient": {"name": "Rex"}}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rep.Diagnosis == nil || *rep.Diagnosis != "Otitis" {
		t.Fatalf("diagnosis = %v", rep.Diagnosis)
	}
	if p := store.patched["r1"].Patient; p == nil || p.Name == nil || *p.Name != "Rex" {
		t.Fatalf("patient patch = %+v", p)
	}

	_, err = svc.Update(ctx, "r1", []byte(`{"study": {"date": "no consta"}}`))
	if apperr.KindOf(err) != apperr.KindValidation || apperr.MessageOf(err, "") != "Fecha de estudio inválida" {
		t.Fatalf("bad study date err = %v", err)
	}
	if _, err := svc.Update(ctx, "r1", []byte(`{"study": {"date": "2025/03/09"}}`)); err != nil {
		t.Fatalf("Update study: %v", err)
	}
	if d := store.patched["r1"].Study.Date; d == nil || *d != "2025-03-09" {
		t.Fatalf("patched study date = %v", d)
	}
}

func TestReportServiceDeleteRemovesObject(t *testing.T) {
	store := newMemStore()
	seed(store, 1)
	obj := &memObjects{}
	svc := newReportService(store, obj)

	if err := svc.Delete(context.Background(), "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(store.deleted) != 1 || len(obj.deleted) != 1 || obj.deleted[0] != "root/documents/1_informe.pdf" {
		t.Fatalf("deleted rows %v objects %v", store.deleted, obj.deleted)
	}
	if err := svc.Delete(context.Background(), "r1"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestReportServiceDownload(t *testing.T) {
	store := newMemStore()
	seed(store, 1)
	obj := &memObjects{body: "%PDF-1.4"}
	svc := newReportService(store, obj)
	ctx := context.Background()

	d, err := svc.Download(ctx, "r1")
	if err != nil || !strings.HasPrefix(d.URL, "https://signed.test/") || !strings.Contains(d.URL, "ttl=15m0s") {
		t.Fatalf("presigned = %+v err = %v", d, err)
	}

	obj.presignErr = errors.New("no credentials")
	d, err = svc.Download(ctx, "r1")
	if err != nil || d.Body == nil {
		t.Fatalf("stream = %+v err = %v", d, err)
	}
	data, _ := io.ReadAll(d.Body)
	_ = d.Body.Close()
	if string(data) != "%PDF-1.4" || d.Filename != "informe-1.pdf" {
		t.Fatalf("body %q filename %q", data, d.Filename)
	}

	obj.readErr = errors.New("no such key")
	d, err = svc.Download(ctx, "r1")
	if err != nil || d.URL != "https://cdn.test/1.pdf" {
		t.Fatalf("fallback = %+v err = %v", d, err)
	}
}

func TestReportServiceStatus(t *testing.T) {
	store := newMemStore()
	reason := "El archivo no es un PDF"
	store.add(models.Report{ID: "r1", Filename: "x.png", Status: models.StatusError, ProcessingError: &reason})
	svc := newReportService(store, &memObjects{})

	st, err := svc.Status(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != models.StatusError || st.ProcessingError == nil || *st.ProcessingError != reason {
		t.Fatalf("status = %+v", st)
	}
}

func TestReportServiceSemantic(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 30; i++ {
		store.matches = append(store.matches, models.ReportMatch{Distance: float64(i)})
	}
	ctx := context.Background()

	svc := newReportService(store, &memObjects{})
	if _, err := svc.Semantic(ctx, "displasia", 5); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("without embedder err = %v", err)
	}

	svc = NewReportService(store, &memObjects{}, stubEmbedder{}, zap.NewNop())
	if _, err := svc.Semantic(ctx, " ", 5); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("blank query err = %v", err)
	}
	got, err := svc.Semantic(ctx, "displasia", 0)
	if err != nil || len(got) != defaultSemanticTop {
		t.Fatalf("default limit: %d results, err %v", len(got), err)
	}
	got, _ = svc.Semantic(ctx, "displasia", 100)
	if len(got) != maxSemanticTop {
		t.Fatalf("max limit: %d results", len(got))
	}

	svc = NewReportService(store, &memObjects{}, stubEmbedder{err: errors.New("quota")}, zap.NewNop())
	if _, err := svc.Semantic(ctx, "displasia", 5); apperr.KindOf(err) != apperr.KindExternalAPI {
		t.Fatalf("embed failure err = %v", err)
	}
}
