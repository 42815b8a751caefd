package server

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := s.auth.Profile(r.Context(), principalFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// AuditHandler lists the caller's audit log; ?page selects the page, from 0.
func (s *Server) AuditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if raw := r.URL.Query().Get("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, r, apperrors.ValidationField("page", "Invalid page"))
				return
			}
			page = n
		}
		entries, err := s.auth.Audit(r.Context(), principalFrom(r), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type auditReportRequest struct {
	ID string `json:"id"`
}

func (s *Server) AuditReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auditReportRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.auth.ReportAudit(r.Context(), principalFrom(r), req.ID, s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	}
}
