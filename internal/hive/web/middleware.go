package web

import "net/http"

// RequireSession wraps next so it only runs when the caller carries a
// valid session cookie, redirecting to /auth/login otherwise.
func (p *Provider) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := p.CurrentSession(r)
		if err != nil {
			http.Redirect(w, r, "/auth/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}
