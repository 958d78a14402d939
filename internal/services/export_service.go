package services

import (
	"context"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	db "github.com/markdave123-py/diagnovet/internal/core/database"
	"github.com/markdave123-py/diagnovet/internal/models"
)

// MaxExportRows caps one spreadsheet export.
const MaxExportRows = 1000

const exportSheet = "Reportes"

var exportHeaders = []string{
	"ID", "Archivo", "Estado", "Confianza", "Paciente", "Especie", "Raza", "Propietario",
	"Veterinario", "Matrícula", "Clínica", "Tipo de estudio", "Fecha de estudio",
	"Diagnóstico", "Hallazgos", "Diferenciales", "Recomendaciones", "Creado",
}

// ExportService renders filtered report listings as XLSX workbooks.
type ExportService struct {
	db  core.ReportStore
	log *zap.Logger
}

func NewExportService(store core.ReportStore, log *zap.Logger) *ExportService {
	return &ExportService{db: store, log: log.Named("export")}
}

// ExportXLSX returns the workbook bytes for the reports matching f, newest
// first, up to MaxExportRows. Paging fields of f are ignored.
func (s *ExportService) ExportXLSX(ctx context.Context, f core.ReportFilter) ([]byte, int, error) {
	start := time.Now()
	reports, err := s.collect(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	x := excelize.NewFile()
	defer func() { _ = x.Close() }()

	if err := x.SetSheetName(x.GetSheetName(0), exportSheet); err != nil {
		return nil, 0, apperr.Internal("Error al generar la exportación", err)
	}
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = x.SetCellValue(exportSheet, cell, h)
	}

	for r, rep := range reports {
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = x.SetCellValue(exportSheet, cell, v)
		}
		write(1, rep.ID)
		write(2, rep.Filename)
		write(3, string(rep.Status))
		if rep.Confidence != nil {
			write(4, *rep.Confidence)
		}
		write(5, rep.Patient.Name)
		write(6, rep.Patient.Species)
		write(7, deref(rep.Patient.Breed))
		write(8, rep.Patient.Owner)
		write(9, rep.Veterinarian.Name)
		write(10, deref(rep.Veterinarian.License))
		write(11, deref(rep.Veterinarian.Clinic))
		write(12, rep.Study.Type)
		write(13, rep.Study.Date)
		write(14, deref(rep.Diagnosis))
		write(15, truncate(deref(rep.Findings), 500))
		write(16, strings.Join(rep.Differentials, "; "))
		write(17, strings.Join(rep.Recommendations, "; "))
		write(18, rep.CreatedAt.Format(time.DateTime))
	}

	_ = x.SetColWidth(exportSheet, "A", "A", 38)
	_ = x.SetColWidth(exportSheet, "B", "B", 30)
	_ = x.SetColWidth(exportSheet, "E", "M", 20)
	_ = x.SetColWidth(exportSheet, "N", "Q", 48)
	_ = x.SetColWidth(exportSheet, "R", "R", 20)

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, 0, apperr.Internal("Error al generar la exportación", err)
	}

	s.log.Info("export.xlsx.ok",
		zap.Int("rows", len(reports)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), len(reports), nil
}

func (s *ExportService) collect(ctx context.Context, f core.ReportFilter) ([]models.Report, error) {
	var out []models.Report
	f.Limit = db.MaxPageSize
	for f.Page = 1; len(out) < MaxExportRows; f.Page++ {
		page, err := s.db.ListReports(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Reports...)
		if len(page.Reports) < f.Limit || len(out) >= page.Total {
			break
		}
	}
	if len(out) > MaxExportRows {
		out = out[:MaxExportRows]
	}
	return out, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
