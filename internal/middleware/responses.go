package middleware

import (
	"net/http"

	"finitefield.org/fashion-web/internal/platform/httpx"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if IsHTMX(r.Context()) || r.Header.Get("Accept") == "application/json" {
		httpx.WriteError(r.Context(), w, nil, httpx.NewError(code, msg, status))
		return
	}
	http.Error(w, msg, status)
}
