package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RegisterRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.auth.Register(r.Context(), req, s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}

// ActivateHandler creates the account and hands back a Factor1 token.
func (s *Server) ActivateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.ActivateRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.Activate(r.Context(), req, s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) ChangeRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.ChangeRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.auth.RequestPasswordChange(r.Context(), req, s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}

func (s *Server) ChangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.ChangePasswordRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.ChangePassword(r.Context(), req, s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		if err := decodeBody(w, r, &req, func(form url.Values) {
			req.Username, req.Password = form.Get("username"), form.Get("password")
		}); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.PasswordLogin(r.Context(), req, s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// EmailAuthHandler mails the second-factor link.
func (s *Server) EmailAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.RequestEmailFactor(r.Context(), principalFrom(r), s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}

// EmailConfirmHandler resolves an emailed link. A login link completes the second
// factor of the bearer; registration and change links send the browser to the page
// that finishes them.
func (s *Server) EmailConfirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		confirmToken := q.Get("token")
		switch emailconfirm.Purpose(q.Get("action")) {
		case emailconfirm.PurposeLogin:
			res, err := s.auth.ConfirmEmailFactor(r.Context(), principalFrom(r), confirmToken, s.clientIP(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		case emailconfirm.PurposeRegistration:
			s.redirectToFrontend(w, r, "/#/register/"+url.PathEscape(confirmToken))
		case emailconfirm.PurposeChange:
			s.redirectToFrontend(w, r, "/#/change-password/"+url.PathEscape(confirmToken))
		default:
			writeError(w, r, apperrors.ValidationField("action", "Invalid action"))
		}
	}
}

func (s *Server) redirectToFrontend(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, strings.TrimRight(s.config.GetFrontendOrigin(), "/")+path, http.StatusSeeOther)
}

// SessionCleanHandler closes every other session of the caller.
func (s *Server) SessionCleanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		closed, err := s.auth.CloseOtherSessions(r.Context(), principalFrom(r), s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "closed": closed})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Logout(r.Context(), principalFrom(r), s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}
