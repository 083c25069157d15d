package api

import (
    "errors"
    "net/http"
    "strings"

    "hookrelay/internal/auth"
    "hookrelay/internal/model"
)

// getPrincipal resolves the caller.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - Else, in dev mode only, falls back to X-Owner-Id / X-Role headers.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        return s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
    }
    if s.Auth != nil && s.Auth.Mode != auth.ModeDev {
        return auth.Principal{}, errors.New("bearer token required")
    }
    owner := r.Header.Get("X-Owner-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if role == "" { role = "admin" }
    return auth.Principal{OwnerID: owner, Role: role}, nil
}

// requirePrincipal writes a 401 and returns false when the caller is unknown.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
    p, err := s.getPrincipal(r)
    if err != nil {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
        return p, false
    }
    return p, true
}

// canAccess reports whether p may manage reg. Admins see everything.
func canAccess(p auth.Principal, reg model.Registration) bool {
    return p.IsAdmin() || (p.OwnerID != "" && p.OwnerID == reg.OwnerID)
}
