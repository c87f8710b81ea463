package api

import (
	"net/http"
	"strings"
)

// corsMiddleware implements the CORS preflight contract from §6: cross-origin
// requests are allowed only under /api/**/*, only GET is permitted
// cross-origin, and credentials are allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		underAPI := strings.HasPrefix(r.URL.Path, "/api/")

		if origin != "" && underAPI {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			if origin != "" && underAPI {
				w.Header().Set("Access-Control-Allow-Methods", "GET")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-Hive-Impersonate-System")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
