package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// requireAdmin checks the bearer token against server.admin_token. With no
// token configured every admin request is refused.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.AdminToken
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if want == "" || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
			if want == "" {
				zap.L().Warn("admin request refused: server.admin_token is not set", zap.String("path", r.URL.Path))
			}
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminActor names the administrator in audit events.
func adminActor(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get("X-Actor")); name != "" {
		return "admin:" + name
	}
	return "admin"
}
