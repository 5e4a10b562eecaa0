package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/platform/httpx"
	"finitefield.org/fashion-web/internal/storeapi"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a bounded JSON body into dst. It answers 400 itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(r.Context(), w, nil, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// writeBackendError maps storefront failures onto web responses.
func writeBackendError(w http.ResponseWriter, r *http.Request, toasts *notify.Collector, err error) {
	switch {
	case errors.Is(err, storeapi.ErrInvalidID):
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("invalid_request", "invalid resource id", http.StatusBadRequest))
	case errors.Is(err, storeapi.ErrNotFound):
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, storeapi.ErrUnauthenticated):
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("unauthenticated", "sign in required", http.StatusUnauthorized))
	default:
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("backend_unavailable", "storefront request failed", http.StatusBadGateway))
	}
}

func writeSignInRequired(w http.ResponseWriter, r *http.Request, toasts *notify.Collector) {
	httpx.WriteError(r.Context(), w, toasts, httpx.NewError("unauthenticated", "sign in required", http.StatusUnauthorized))
}
