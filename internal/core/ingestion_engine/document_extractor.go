package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
)

// NoTextFound replaces an empty text layer; the report still goes through structured extraction.
const NoTextFound = "No se pudo extraer texto del PDF"

var errNotPDF = apperr.FileProcessing("El archivo no es un PDF", nil)

// IsPDF reports whether a stored file is a PDF by its name or its storage namespace.
func IsPDF(name, key string) bool {
	if strings.EqualFold(path.Ext(name), ".pdf") || strings.EqualFold(path.Ext(key), ".pdf") {
		return true
	}
	return strings.Contains(key, "/documents/")
}

// DocconvExtractor implements core.TextExtractor using sajari/docconv, with a
// pure-Go ledongthuc/pdf pass when docconv cannot read the file.
type DocconvExtractor struct {
	useReadability bool
	log            *zap.Logger
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool, log *zap.Logger) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, log: log.Named("pdf")}
}

// ExtractText returns the text layer of a PDF. Scanned image-only PDFs yield NoTextFound.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperr.FileProcessing("El archivo está vacío", nil)
	}

	text, derr := e.docconv(data)
	if derr != nil {
		e.log.Warn("pdf.docconv.failed", zap.Error(derr), zap.Int("bytes", len(data)))

		var perr error
		text, perr = plainText(data)
		if perr != nil {
			e.log.Error("pdf.extract.failed", zap.Error(perr))
			return "", apperr.FileProcessing("Error al extraer texto del PDF", errors.Join(derr, perr))
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text = cleanText(text)
	if text == "" {
		e.log.Warn("pdf.extract.empty", zap.Int("bytes", len(data)))
		return NoTextFound, nil
	}
	e.log.Debug("pdf.extract.ok", zap.Int("text_len", len(text)))
	return text, nil
}

func (e *DocconvExtractor) docconv(data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", e.useReadability)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func plainText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	tr, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, tr); err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	return buf.String(), nil
}

// cleanText trims every line and drops blank ones.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
