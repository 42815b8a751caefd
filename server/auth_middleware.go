package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/pages"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyPrincipal stores the identity named by the bearer token
	ContextKeyPrincipal ContextKey = "principal"
	// ContextKeyFlowPage stores the page of the X-SSO-Token flow context
	ContextKeyFlowPage ContextKey = "flow_page"

	HeaderFlowToken = "X-SSO-Token"
)

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IdentifyMiddleware attaches the bearer's principal to the request. A missing or
// invalid token leaves the request a guest; the guards decide what that means.
func (s *Server) IdentifyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if raw := bearerToken(r); raw != "" {
			if p, err := s.auth.Identify(raw); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeyPrincipal, p))
			}
		}
		next(w, r)
	}
}

// FlowContextMiddleware attaches the page named by the X-SSO-Token header, if any.
func (s *Server) FlowContextMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if page := s.sso.PageForFlow(r.Header.Get(HeaderFlowToken)); page != nil {
			r = r.WithContext(context.WithValue(r.Context(), ContextKeyFlowPage, page))
		}
		next(w, r)
	}
}

// RequireLoggedIn admits Factor1 and Factor2 principals.
func (s *Server) RequireLoggedIn(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.RequireLoggedIn(principalFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r)
	}
}

// RequireAuthenticated admits Factor2 principals whose session is still live.
func (s *Server) RequireAuthenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.RequireAuthenticated(r.Context(), principalFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r)
	}
}

func principalFrom(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(ContextKeyPrincipal).(*auth.Principal)
	return p
}

func flowPageFrom(r *http.Request) *pages.Page {
	p, _ := r.Context().Value(ContextKeyFlowPage).(*pages.Page)
	return p
}
