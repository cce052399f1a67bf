// Package api implements the HTTP handlers of the freight allocation service.
package api

import (
	"net/http"
	"strings"

	"freightalloc/internal/auth"
)

// getPrincipal resolves the caller. A bearer token goes through the configured
// verifier; without one, dev mode trusts X-Role and defaults to admin.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		p, err := s.Auth.Verify(tok)
		if err != nil {
			return auth.Principal{}, false
		}
		return p, true
	}
	if s.Auth != nil && s.Auth.Mode != "dev" {
		return auth.Principal{}, false
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = auth.RoleAdmin
	}
	return auth.Principal{Subject: "dev", Role: role}, true
}

// require writes 401/403 and returns false unless the caller holds one of roles.
func (s *Server) require(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	p, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
		return false
	}
	if !p.Can(roles...) {
		writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(roles, " or ")+" required", r.URL.Path)
		return false
	}
	return true
}
