package server

import (
	"net/http"
	"strings"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
)

// tenantMiddleware resolves the tenant from the bearer token and stores it
// on the request context.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, r, apperr.New(apperr.TenantMissing, "missing bearer token"))
			return
		}

		tenant, err := s.jwt.ResolveTenant(token)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.TenantMissing, "resolving tenant", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithTenant(r.Context(), tenant)))
	})
}
