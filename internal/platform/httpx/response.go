package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by the web tier.
type Error struct {
	Code    string
	Message string
	Status  int
	Fields  map[string]string
}

// NewError constructs an Error.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

// WithField attaches a field level problem.
func (e Error) WithField(field, problem string) Error {
	if field == "" {
		return e
	}
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[field] = problem
	e.Fields = fields
	return e
}

// WriteError writes err as JSON, flushing any pending toasts first.
func WriteError(ctx context.Context, w http.ResponseWriter, toasts *notify.Collector, err Error) {
	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  err.Status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = clip(id, 80)
	}
	if traceID := requestctx.TraceID(ctx); traceID != "" {
		payload["trace_id"] = traceID
	}
	if len(err.Fields) > 0 {
		payload["fields"] = err.Fields
	}
	if toasts != nil {
		payload["toasts"] = toasts.Toasts()
	}
	WriteJSON(w, err.Status, toasts, payload)
}

// WriteJSON writes payload with the given status. Toasts travel in the HX-Trigger header.
func WriteJSON(w http.ResponseWriter, status int, toasts *notify.Collector, payload any) {
	if toasts != nil {
		toasts.Flush(w)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
