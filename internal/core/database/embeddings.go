package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
)

// UpsertEmbedding stores the search vector of a report, replacing any previous one.
func (c *DatabaseClient) UpsertEmbedding(ctx context.Context, reportID, content string, vec []float32) error {
	if len(vec) == 0 {
		return apperr.Validation("Embedding vacío")
	}
	const q = `
		INSERT INTO report_embeddings (report_id, content, embedding, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (report_id) DO UPDATE
		SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, updated_at = now()
	`
	if _, err := c.db.ExecContext(ctx, q, reportID, content, pgvector.NewVector(vec)); err != nil {
		return apperr.Database("Error al guardar el embedding", err)
	}
	return nil
}

// SemanticSearch returns the reports nearest to vec by cosine distance.
func (c *DatabaseClient) SemanticSearch(ctx context.Context, vec []float32, limit int) ([]models.ReportMatch, error) {
	if len(vec) == 0 {
		return nil, apperr.Validation("Embedding vacío")
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	q := fmt.Sprintf(`SELECT %s, e.embedding <=> $1 AS distance %s
		JOIN report_embeddings e ON e.report_id = r.id
		ORDER BY distance ASC
		LIMIT $2`, reportColumns, reportJoins)

	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, apperr.Database("Error en la búsqueda semántica", err)
	}
	defer rows.Close()

	out := []models.ReportMatch{}
	for rows.Next() {
		var dist float64
		rep, err := scanReport(rows, &dist)
		if err != nil {
			return nil, apperr.Database("Error en la búsqueda semántica", err)
		}
		out = append(out, models.ReportMatch{Report: *rep, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("Error en la búsqueda semántica", err)
	}
	return out, nil
}
