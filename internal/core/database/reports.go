package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
)

const reportColumns = `
	r.id, r.filename, r.file_url, r.storage_key, r.content_type, r.status, r.confidence,
	r.findings, r.diagnosis, r.differentials, r.recommendations, r.measurements, r.images,
	r.extracted_text, r.processing_error, r.created_at, r.updated_at,
	p.id, p.name, p.species, p.breed, p.age, p.weight, p.owner,
	v.id, v.name, NULLIF(v.license, ''), v.title, v.clinic, v.contact, v.referred_by,
	s.id, s.type, to_char(s.date, 'YYYY-MM-DD'), s.technique, s.body_region, s.incidences,
	s.equipment, s.echo_data`

const reportJoins = `
	FROM reports r
	JOIN patients p ON p.id = r.patient_id
	JOIN veterinarians v ON v.id = r.veterinarian_id
	JOIN studies s ON s.id = r.study_id`

var (
	errReportNotFound   = apperr.NotFound("Reporte no encontrado")
	errInvalidStudyDate = apperr.Validation("Fecha de estudio inválida")
)

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanReport(row rowScanner, extra ...any) (*models.Report, error) {
	var (
		r               models.Report
		status          string
		differentials   jsonb[[]string]
		recommendations jsonb[[]string]
		measurements    jsonb[map[string]any]
		images          jsonb[[]string]
		incidences      jsonb[[]string]
		echo            jsonb[map[string]any]
	)
	dest := []any{
		&r.ID, &r.Filename, &r.FileURL, &r.StorageKey, &r.ContentType, &status, &r.Confidence,
		&r.Findings, &r.Diagnosis, &differentials, &recommendations, &measurements, &images,
		&r.ExtractedText, &r.ProcessingError, &r.CreatedAt, &r.UpdatedAt,
		&r.Patient.ID, &r.Patient.Name, &r.Patient.Species, &r.Patient.Breed, &r.Patient.Age, &r.Patient.Weight, &r.Patient.Owner,
		&r.Veterinarian.ID, &r.Veterinarian.Name, &r.Veterinarian.License, &r.Veterinarian.Title,
		&r.Veterinarian.Clinic, &r.Veterinarian.Contact, &r.Veterinarian.ReferredBy,
		&r.Study.ID, &r.Study.Type, &r.Study.Date, &r.Study.Technique, &r.Study.BodyRegion, &incidences,
		&r.Study.Equipment, &echo,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.Status = models.ProcessingStatus(status)
	r.Differentials = nonNil(differentials.V)
	r.Recommendations = nonNil(recommendations.V)
	r.Measurements = measurements.V
	r.Images = nonNil(images.V)
	r.Study.Incidences = nonNil(incidences.V)
	r.Study.EchoData = echo.V
	r.PatientID = r.Patient.ID
	r.VeterinarianID = r.Veterinarian.ID
	r.StudyID = r.Study.ID
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (c *DatabaseClient) CreateReport(ctx context.Context, in models.ReportInput) (*models.Report, error) {
	if strings.TrimSpace(in.Filename) == "" || strings.TrimSpace(in.FileURL) == "" {
		return nil, apperr.Validation("Datos requeridos faltantes para crear el reporte")
	}
	status := in.Status
	if status == "" {
		status = models.StatusUploaded
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}
	defer func() { _ = tx.Rollback() }()

	today := time.Now().Format(models.DateLayout)
	patientID, err := upsertPatient(ctx, tx, models.PatientFromFields(in.Patient))
	if err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}
	vetID, err := upsertVeterinarian(ctx, tx, models.VeterinarianFromFields(in.Veterinarian))
	if err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}
	study := models.StudyFromFields(in.Study, today)
	date, ok := models.ParseStudyDate(study.Date)
	if !ok {
		return nil, errInvalidStudyDate
	}
	study.Date = date
	studyID, err := insertStudy(ctx, tx, study)
	if err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}

	diffs, _ := toJSON(nonNil(in.Differentials))
	recs, _ := toJSON(nonNil(in.Recommendations))
	images, _ := toJSON(nonNil(in.Images))
	meas, err := toJSON(in.Measurements)
	if err != nil {
		return nil, apperr.Validation("Mediciones inválidas")
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO reports
			(id, filename, file_url, storage_key, content_type, status, confidence, findings, diagnosis,
			 differentials, recommendations, measurements, images, extracted_text,
			 patient_id, veterinarian_id, study_id, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9,
			 $10::jsonb, $11::jsonb, $12::jsonb, $13::jsonb, $14,
			 $15, $16, $17, now(), now())
	`
	if _, err := tx.ExecContext(ctx, q,
		id, in.Filename, in.FileURL, in.StorageKey, in.ContentType, string(status), in.Confidence,
		in.Findings, in.Diagnosis, diffs, recs, meas, images, in.ExtractedText,
		patientID, vetID, studyID,
	); err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}

	rep, err := getReport(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Database("Error al crear el reporte", err)
	}
	return rep, nil
}

func (c *DatabaseClient) GetReport(ctx context.Context, id string) (*models.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation("ID de reporte inválido")
	}
	return getReport(ctx, c.db, id)
}

func getReport(ctx context.Context, q queryer, id string) (*models.Report, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reportColumns+reportJoins+` WHERE r.id = $1`, id)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errReportNotFound
	}
	if err != nil {
		return nil, apperr.Database("Error al obtener el reporte", err)
	}
	return rep, nil
}

func (c *DatabaseClient) ListReports(ctx context.Context, f core.ReportFilter) (*core.Page, error) {
	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	where, args := buildWhere(f)

	var (
		reports []models.Report
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)
		q := fmt.Sprintf(`SELECT %s %s %s ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`,
			reportColumns, reportJoins, where, len(args)+1, len(args)+2)
		rows, err := c.db.QueryContext(gctx, q, listArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rep, err := scanReport(rows)
			if err != nil {
				return err
			}
			reports = append(reports, *rep)
		}
		return rows.Err()
	})
	g.Go(func() error {
		return c.db.QueryRowContext(gctx, `SELECT count(*) `+reportJoins+where, args...).Scan(&total)
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Database("Error al obtener los reportes", err)
	}
	if reports == nil {
		reports = []models.Report{}
	}
	return &core.Page{Reports: reports, Total: total}, nil
}

// UpdateReport applies patch. Nested patient and veterinarian values are
// re-keyed through the natural-key upsert; a study patch always inserts a new study row.
func (c *DatabaseClient) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation("ID de reporte inválido")
	}
	if patch.Empty() {
		return nil, apperr.Validation("No hay datos para actualizar")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Database("Error al actualizar el reporte", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM reports WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, apperr.Database("Error al actualizar el reporte", err)
	}
	current, err := getReport(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	set := newSetBuilder()
	if patch.Patient != nil {
		pid, err := upsertPatient(ctx, tx, models.MergePatient(current.Patient, *patch.Patient))
		if err != nil {
			return nil, apperr.Database("Error al actualizar el reporte", err)
		}
		set.add("patient_id", pid)
	}
	if patch.Veterinarian != nil {
		vid, err := upsertVeterinarian(ctx, tx, models.MergeVeterinarian(current.Veterinarian, *patch.Veterinarian))
		if err != nil {
			return nil, apperr.Database("Error al actualizar el reporte", err)
		}
		set.add("veterinarian_id", vid)
	}
	if patch.Study != nil {
		study := models.MergeStudy(current.Study, *patch.Study)
		date, ok := models.ParseStudyDate(study.Date)
		if !ok {
			return nil, errInvalidStudyDate
		}
		study.Date = date
		sid, err := insertStudy(ctx, tx, study)
		if err != nil {
			return nil, apperr.Database("Error al actualizar el reporte", err)
		}
		set.add("study_id", sid)
	}

	if patch.Findings != nil {
		set.add("findings", *patch.Findings)
	}
	if patch.Diagnosis != nil {
		set.add("diagnosis", *patch.Diagnosis)
	}
	if patch.ExtractedText != nil {
		set.add("extracted_text", *patch.ExtractedText)
	}
	if patch.Status != nil {
		set.add("status", string(*patch.Status))
	}
	if patch.Confidence != nil {
		set.add("confidence", *patch.Confidence)
	}
	for col, v := range map[string]*[]string{
		"differentials":   patch.Differentials,
		"recommendations": patch.Recommendations,
		"images":          patch.Images,
	} {
		if v != nil {
			js, _ := toJSON(nonNil(*v))
			set.addJSON(col, js)
		}
	}
	if patch.Measurements != nil {
		js, err := toJSON(*patch.Measurements)
		if err != nil {
			return nil, apperr.Validation("Mediciones inválidas")
		}
		set.addJSON("measurements", js)
	}

	q, args := set.build("reports", id)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, apperr.Database("Error al actualizar el reporte", err)
	}

	rep, err := getReport(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Database("Error al actualizar el reporte", err)
	}
	return rep, nil
}

func (c *DatabaseClient) DeleteReport(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("ID de reporte inválido")
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("Error al eliminar el reporte", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errReportNotFound
	}
	return nil
}

func (c *DatabaseClient) Stats(ctx context.Context) (*models.ReportStats, error) {
	var st models.ReportStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.db.QueryRowContext(gctx, `
			SELECT count(*),
			       count(*) FILTER (WHERE status = 'COMPLETED'),
			       count(*) FILTER (WHERE status = 'PROCESSING'),
			       count(*) FILTER (WHERE status = 'ERROR'),
			       count(*) FILTER (WHERE status = 'NEEDS_REVIEW'),
			       count(*) FILTER (WHERE status = 'UPLOADED')
			FROM reports`).Scan(
			&st.TotalReports, &st.CompletedReports, &st.ProcessingReports,
			&st.ErrorReports, &st.NeedsReviewReports, &st.UploadedReports,
		)
	})
	g.Go(func() error {
		return c.db.QueryRowContext(gctx, `SELECT count(*) FROM patients`).Scan(&st.TotalPatients)
	})
	g.Go(func() error {
		return c.db.QueryRowContext(gctx, `SELECT count(*) FROM veterinarians`).Scan(&st.TotalVeterinarians)
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Database("Error al obtener estadísticas", err)
	}
	if st.TotalReports > 0 {
		st.CompletionRate = float64(st.CompletedReports) / float64(st.TotalReports) * 100
	}
	return &st, nil
}

// ClaimForProcessing moves a report to PROCESSING. A report already in
// PROCESSING is only taken over once it has been idle for staleAfter.
func (c *DatabaseClient) ClaimForProcessing(ctx context.Context, id string, staleAfter time.Duration) error {
	const q = `
		UPDATE reports
		SET status = 'PROCESSING', processing_error = NULL, updated_at = now()
		WHERE id = $1
		  AND (status <> 'PROCESSING' OR updated_at < now() - make_interval(secs => $2))
	`
	res, err := c.db.ExecContext(ctx, q, id, staleAfter.Seconds())
	if err != nil {
		return apperr.Database("Error al actualizar el estado", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id).Scan(&exists); err != nil {
		return apperr.Database("Error al actualizar el estado", err)
	}
	if !exists {
		return errReportNotFound
	}
	return apperr.Conflict("El reporte ya se está procesando")
}

func (c *DatabaseClient) MarkFailed(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE reports
		SET status = 'ERROR', processing_error = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, reason)
	if err != nil {
		return apperr.Database("Error al actualizar el estado", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errReportNotFound
	}
	return nil
}

// ApplyExtraction writes an extraction result and its final status in one transaction.
func (c *DatabaseClient) ApplyExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (*models.Report, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}
	defer func() { _ = tx.Rollback() }()

	patientID, err := upsertPatient(ctx, tx, upd.Patient)
	if err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}
	vetID, err := upsertVeterinarian(ctx, tx, upd.Veterinarian)
	if err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}
	studyID, err := insertStudy(ctx, tx, upd.Study)
	if err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}

	diffs, _ := toJSON(nonNil(upd.Differentials))
	recs, _ := toJSON(nonNil(upd.Recommendations))
	meas, err := toJSON(upd.Measurements)
	if err != nil {
		return nil, apperr.Internal("Error al guardar la extracción", err)
	}

	const q = `
		UPDATE reports
		SET patient_id = $2, veterinarian_id = $3, study_id = $4,
		    findings = $5, diagnosis = $6, differentials = $7::jsonb, recommendations = $8::jsonb,
		    measurements = $9::jsonb, extracted_text = $10, confidence = $11, status = $12,
		    processing_error = NULL, updated_at = now()
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, q, id, patientID, vetID, studyID,
		upd.Findings, upd.Diagnosis, diffs, recs, meas, upd.ExtractedText, upd.Confidence, string(upd.Status))
	if err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errReportNotFound
	}

	rep, err := getReport(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Database("Error al guardar la extracción", err)
	}
	return rep, nil
}

// ListStale returns up to 100 reports in status untouched for longer than
// olderThan, oldest first.
func (c *DatabaseClient) ListStale(ctx context.Context, status models.ProcessingStatus, olderThan time.Duration) ([]models.Report, error) {
	q := `SELECT ` + reportColumns + reportJoins + `
		WHERE r.status = $1 AND r.updated_at < now() - make_interval(secs => $2)
		ORDER BY r.updated_at ASC LIMIT 100`
	rows, err := c.db.QueryContext(ctx, q, string(status), olderThan.Seconds())
	if err != nil {
		return nil, apperr.Database("Error al listar reportes", err)
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, apperr.Database("Error al listar reportes", err)
		}
		out = append(out, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("Error al listar reportes", err)
	}
	c.log.Debug("db.reports.stale", zap.String("status", string(status)), zap.Int("count", len(out)))
	return out, nil
}

func upsertPatient(ctx context.Context, q queryer, p models.Patient) (string, error) {
	const stmt = `
		INSERT INTO patients (id, name, species, breed, age, weight, owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name, species, owner) DO UPDATE
		SET breed = EXCLUDED.breed, age = EXCLUDED.age, weight = EXCLUDED.weight, updated_at = now()
		RETURNING id
	`
	var id string
	err := q.QueryRowContext(ctx, stmt, uuid.NewString(), p.Name, p.Species, p.Breed, p.Age, p.Weight, p.Owner).Scan(&id)
	return id, err
}

func upsertVeterinarian(ctx context.Context, q queryer, v models.Veterinarian) (string, error) {
	const stmt = `
		INSERT INTO veterinarians (id, name, license, title, clinic, contact, referred_by)
		VALUES ($1, $2, COALESCE($3, ''), $4, $5, $6, $7)
		ON CONFLICT (name, license) DO UPDATE
		SET title = EXCLUDED.title, clinic = EXCLUDED.clinic, contact = EXCLUDED.contact,
		    referred_by = EXCLUDED.referred_by, updated_at = now()
		RETURNING id
	`
	var id string
	err := q.QueryRowContext(ctx, stmt, uuid.NewString(), v.Name, v.License, v.Title, v.Clinic, v.Contact, v.ReferredBy).Scan(&id)
	return id, err
}

func insertStudy(ctx context.Context, q queryer, s models.Study) (string, error) {
	incidences, _ := toJSON(nonNil(s.Incidences))
	echo, err := toJSON(s.EchoData)
	if err != nil {
		return "", err
	}
	const stmt = `
		INSERT INTO studies (id, type, date, technique, body_region, incidences, equipment, echo_data)
		VALUES ($1, $2, $3::date, $4, $5, $6::jsonb, $7, $8::jsonb)
		RETURNING id
	`
	var id string
	err = q.QueryRowContext(ctx, stmt, uuid.NewString(), s.Type, s.Date, s.Technique, s.BodyRegion, incidences, s.Equipment, echo).Scan(&id)
	return id, err
}

// setBuilder renders a partial UPDATE; updated_at is always bumped.
type setBuilder struct {
	cols []string
	args []any
}

func newSetBuilder() *setBuilder { return &setBuilder{} }

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) addJSON(col string, v any) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = $%d::jsonb", col, len(b.args)))
}

func (b *setBuilder) build(table, id string) (string, []any) {
	cols := append(append([]string{}, b.cols...), "updated_at = now()")
	args := append(append([]any{}, b.args...), id)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(cols, ", "), len(args)), args
}
