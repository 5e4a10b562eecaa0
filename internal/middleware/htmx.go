package middleware

import "net/http"

// HTMX flags htmx requests so handlers can pick fragment responses.
func HTMX(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithHTMX(r.Context(), r.Header.Get("HX-Request") == "true")))
	})
}
