package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tableapi/internal/logging"
)

// tableContext tags the request logger with the table named in the path so
// every line logged below the handler carries it.
func tableContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.With(r.Context(), "table", chi.URLParam(r, "table"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
