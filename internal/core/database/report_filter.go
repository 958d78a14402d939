package db

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/diagnovet/internal/core"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var searchColumns = map[core.SearchField]string{
	core.SearchExtractedText: "r.extracted_text",
	core.SearchDiagnosis:     "r.diagnosis",
	core.SearchFindings:      "r.findings",
	core.SearchFilename:      "r.filename",
	core.SearchPatientName:   "p.name",
	core.SearchVetName:       "v.name",
}

// AllSearchFields is the free-text search set of the list endpoint.
var AllSearchFields = []core.SearchField{
	core.SearchExtractedText, core.SearchDiagnosis, core.SearchFindings,
	core.SearchFilename, core.SearchPatientName, core.SearchVetName,
}

// NormalizePage clamps page to >= 1 and limit to 1..MaxPageSize.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// buildWhere renders f as a WHERE clause. Independent filters are ANDed, the
// free-text query is ORed across its columns.
func buildWhere(f core.ReportFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		conds = append(conds, "r.status = "+next(string(f.Status)))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		fields := f.SearchFields
		if len(fields) == 0 {
			fields = AllSearchFields
		}
		ph := next(likePattern(q))
		ors := make([]string, 0, len(fields))
		for _, fld := range fields {
			if col, ok := searchColumns[fld]; ok {
				ors = append(ors, col+" ILIKE "+ph)
			}
		}
		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if f.DateFrom != nil {
		conds = append(conds, "r.created_at >= "+next(*f.DateFrom))
	}
	if f.DateTo != nil {
		conds = append(conds, "r.created_at <= "+next(*f.DateTo))
	}
	if s := strings.TrimSpace(f.Species); s != "" {
		conds = append(conds, "p.species ILIKE "+next(likePattern(s)))
	}
	if v := strings.TrimSpace(f.Veterinarian); v != "" {
		conds = append(conds, "v.name ILIKE "+next(likePattern(v)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// likePattern wraps s in % after escaping LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
