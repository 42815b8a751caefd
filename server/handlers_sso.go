package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/sso"
)

type flowInRequest struct {
	ID   string `json:"id"`
	Data string `json:"d"`
}

// flowInResponse merges the login token, when the request named a subject, with the page.
type flowInResponse struct {
	*auth.TokenResponse
	Page sso.PageView `json:"page"`
}

// FlowInHandler starts a token flow. id and d come from the query or the body.
func (s *Server) FlowInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := flowInRequest{ID: r.URL.Query().Get("id"), Data: r.URL.Query().Get("d")}
		if r.Method == http.MethodPost {
			var body flowInRequest
			if err := decodeBody(w, r, &body, func(form url.Values) {
				body.ID, body.Data = form.Get("id"), form.Get("d")
			}); err != nil {
				writeError(w, r, err)
				return
			}
			if body.ID != "" {
				req.ID = body.ID
			}
			if body.Data != "" {
				req.Data = body.Data
			}
		}

		res, err := s.sso.FlowIn(r.Context(), req.ID, req.Data, s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, flowInResponse{TokenResponse: res.Login, Page: res.Page})
	}
}

// FlowOutHandler answers the flow named by the X-SSO-Token header.
func (s *Server) FlowOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.sso.FlowOut(r.Context(), principalFrom(r), r.Header.Get(HeaderFlowToken), s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) DefaultPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := s.sso.DefaultPage()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page.Public())
	}
}

// SAMLInHandler accepts an HTTP-Redirect binding AuthnRequest.
func (s *Server) SAMLInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		view, err := s.sso.SAMLIn(r.Context(), q.Get("SAMLRequest"), q.Get("RelayState"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"page": view})
	}
}

func (s *Server) SAMLMetadataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.sso.Metadata()
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		_, _ = w.Write(out)
	}
}
