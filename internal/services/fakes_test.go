package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	reports   map[string]*models.Report
	order     []string
	created   []models.ReportInput
	patched   map[string]models.ReportPatch
	deleted   []string
	filters   []core.ReportFilter
	stats     models.ReportStats
	stale     []models.Report
	matches   []models.ReportMatch
	createErr error
	users     map[string]*models.User
}

func newMemStore() *memStore {
	return &memStore{
		reports: map[string]*models.Report{},
		patched: map[string]models.ReportPatch{},
		users:   map[string]*models.User{},
	}
}

func (s *memStore) add(r models.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = &r
	s.order = append(s.order, r.ID)
}

func (s *memStore) CreateReport(ctx context.Context, in models.ReportInput) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, in)
	id := fmt.Sprintf("rep-%d", len(s.created))
	r := &models.Report{ID: id, Filename: in.Filename, FileURL: in.FileURL, StorageKey: in.StorageKey, Status: in.Status}
	s.reports[id] = r
	s.order = append(s.order, id)
	cp := *r
	return &cp, nil
}

func (s *memStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListReports(ctx context.Context, f core.ReportFilter) (*core.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)

	var all []models.Report
	for _, id := range s.order {
		if r, ok := s.reports[id]; ok {
			if f.Search == "" || strings.Contains(strings.ToLower(r.Patient.Name), strings.ToLower(f.Search)) {
				all = append(all, *r)
			}
		}
	}
	from := (f.Page - 1) * f.Limit
	if from > len(all) {
		from = len(all)
	}
	to := min(from+f.Limit, len(all))
	return &core.Page{Reports: all[from:to], Total: len(all)}, nil
}

func (s *memStore) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("Reporte no encontrado")
	}
	s.patched[id] = patch
	if patch.Diagnosis != nil {
		r.Diagnosis = patch.Diagnosis
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return apperr.NotFound("Reporte no encontrado")
	}
	delete(s.reports, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *memStore) Stats(ctx context.Context) (*models.ReportStats, error) {
	st := s.stats
	return &st, nil
}

func (s *memStore) ClaimForProcessing(ctx context.Context, id string, staleAfter time.Duration) error {
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id string, reason string) error { return nil }

func (s *memStore) ApplyExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (*models.Report, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) ListStale(ctx context.Context, status models.ProcessingStatus, olderThan time.Duration) ([]models.Report, error) {
	if status != models.StatusProcessing {
		return nil, nil
	}
	return s.stale, nil
}

func (s *memStore) UpsertEmbedding(ctx context.Context, reportID, content string, vec []float32) error {
	return nil
}

func (s *memStore) SemanticSearch(ctx context.Context, vec []float32, limit int) ([]models.ReportMatch, error) {
	if len(s.matches) > limit {
		return s.matches[:limit], nil
	}
	return s.matches, nil
}

func (s *memStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Email]; ok {
		return apperr.Conflict("El usuario ya existe")
	}
	cp := *u
	s.users[u.Email] = &cp
	return nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, apperr.NotFound("Usuario no encontrado")
	}
	cp := *u
	return &cp, nil
}

type memObjects struct {
	mu         sync.Mutex
	uploaded   []string
	deleted    []string
	failNames  map[string]bool
	presignErr error
	readErr    error
	body       string
}

func (o *memObjects) UploadReportFile(ctx context.Context, data []byte, name, contentType string) (*core.StoredObject, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failNames[name] {
		return nil, apperr.ExternalAPI("Error al subir el archivo", errors.New("quota exceeded"))
	}
	key := "root/documents/1_" + name
	o.uploaded = append(o.uploaded, key)
	return &core.StoredObject{URL: "https://cdn.test/" + key, Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (o *memObjects) GetFile(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (o *memObjects) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	if o.readErr != nil {
		return nil, o.readErr
	}
	return io.NopCloser(strings.NewReader(o.body)), nil
}

func (o *memObjects) DeleteFile(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, key)
	return nil
}

func (o *memObjects) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if o.presignErr != nil {
		return "", o.presignErr
	}
	return "https://signed.test/" + key + "?ttl=" + ttl.String(), nil
}

type stubEmbedder struct {
	err error
}

func (e stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeRequeuer struct {
	calls int
	err   error
}

func (r *fakeRequeuer) RequeuePending(ctx context.Context) (int, error) {
	r.calls++
	return 0, r.err
}
