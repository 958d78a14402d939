package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core/apperr"
)

const internalErrorMessage = "Error interno del servidor"

type successBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Type      apperr.Kind `json:"type"`
	Timestamp string      `json:"timestamp"`
	Path      string      `json:"path"`
	Method    string      `json:"method"`
	Stack     string      `json:"stack,omitempty"`
}

// Responder writes the JSON envelopes shared by every handler.
type Responder struct {
	log         *zap.Logger
	exposeStack bool
	now         func() time.Time
}

// NewResponder builds a Responder. Cause chains are included in error bodies
// only when exposeStack is set.
func NewResponder(log *zap.Logger, exposeStack bool) *Responder {
	return &Responder{log: log.Named("http"), exposeStack: exposeStack, now: time.Now}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rs *Responder) OK(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: data, Message: message})
}

func (rs *Responder) Created(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusCreated, successBody{Success: true, Data: data, Message: message})
}

// Raw writes v as is, for bodies that already carry their own envelope.
func (rs *Responder) Raw(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	msg := apperr.MessageOf(err, internalErrorMessage)

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("type", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		rs.log.Error("http.request.failed", fields...)
	} else {
		rs.log.Debug("http.request.rejected", fields...)
	}

	body := errorBody{
		Success:   false,
		Error:     msg,
		Type:      kind,
		Timestamp: rs.now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
	if rs.exposeStack {
		body.Stack = causeChain(err)
	}
	writeJSON(w, status, body)
}

// NotFound answers requests that matched no route.
func (rs *Responder) NotFound(w http.ResponseWriter, r *http.Request) {
	rs.Error(w, r, apperr.NotFound("Ruta no encontrada: "+r.Method+" "+r.URL.Path))
}

func (rs *Responder) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	rs.NotFound(w, r)
}

func causeChain(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, e.Error())
		if len(parts) == 10 {
			break
		}
	}
	return strings.Join(parts, "\n  caused by: ")
}
