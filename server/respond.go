package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

const maxBodyBytes = 1 << 20

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuthenticationFailed, apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindTokenInvalid, apperrors.KindTokenExpired, apperrors.KindAudienceMismatch, apperrors.KindSubjectMismatch:
		return http.StatusUnauthorized
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindTooManyRequests:
		return http.StatusTooManyRequests
	case apperrors.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

// writeError renders err as {"error": message}. Internal failures are logged and
// never leak their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": apperrors.MessageOf(err)})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// decodeBody fills dst from a JSON body, or from a form body for form posts.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, fromForm func(form url.Values)) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if fromForm == nil {
			return apperrors.Validation("Unsupported content type")
		}
		if err := r.ParseForm(); err != nil {
			return apperrors.Validation("Invalid form body")
		}
		fromForm(r.PostForm)
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		return apperrors.Validation("Invalid JSON body")
	}
	return nil
}
