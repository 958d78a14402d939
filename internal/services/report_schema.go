package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/markdave123-py/diagnovet/internal/core/apperr"
)

const nullableString = `{"type": ["string", "null"]}`

var reportProperties = `
	"filename":        {"type": "string", "minLength": 1},
	"fileUrl":         {"type": "string", "minLength": 1},
	"storageKey":      {"type": "string"},
	"contentType":     {"type": "string"},
	"status":          {"enum": ["UPLOADED", "PROCESSING", "COMPLETED", "NEEDS_REVIEW", "ERROR"]},
	"confidence":      {"type": ["number", "null"], "minimum": 0, "maximum": 100},
	"findings":        ` + nullableString + `,
	"diagnosis":       ` + nullableString + `,
	"extractedText":   ` + nullableString + `,
	"differentials":   {"type": "array", "items": {"type": "string"}},
	"recommendations": {"type": "array", "items": {"type": "string"}},
	"images":          {"type": "array", "items": {"type": "string"}},
	"measurements":    {"type": "object"},
	"patient": {
		"type": "object",
		"properties": {
			"name": ` + nullableString + `, "species": ` + nullableString + `, "breed": ` + nullableString + `,
			"age": ` + nullableString + `, "weight": ` + nullableString + `, "owner": ` + nullableString + `
		}
	},
	"veterinarian": {
		"type": "object",
		"properties": {
			"name": ` + nullableString + `, "license": ` + nullableString + `, "title": ` + nullableString + `,
			"clinic": ` + nullableString + `, "contact": ` + nullableString + `, "referredBy": ` + nullableString + `
		}
	},
	"study": {
		"type": "object",
		"properties": {
			"type": ` + nullableString + `, "date": ` + nullableString + `, "technique": ` + nullableString + `,
			"bodyRegion": ` + nullableString + `, "equipment": ` + nullableString + `,
			"incidences": {"type": "array", "items": {"type": "string"}},
			"echoData": {"type": "object"}
		}
	}
`

var (
	createReportSchema = jsonschema.MustCompileString("report_create.json", `{
		"type": "object",
		"required": ["filename", "fileUrl"],
		"properties": {`+reportProperties+`}
	}`)

	updateReportSchema = jsonschema.MustCompileString("report_update.json", `{
		"type": "object",
		"minProperties": 1,
		"properties": {`+reportProperties+`}
	}`)
)

// decodeValidated checks raw against schema and decodes it into out.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperr.New(apperr.KindValidation, "JSON inválido", err)
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.New(apperr.KindValidation, "Datos inválidos: "+describeSchemaError(err), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.New(apperr.KindValidation, "Datos inválidos", err)
	}
	return nil
}

// describeSchemaError flattens the leaf causes into "location: message" pairs.
func describeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
