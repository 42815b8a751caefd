package server

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

const (
	headerTLSVerified = "X-TLS-Verified"
	headerTLSCert     = "X-TLS-Cert"
)

type fido2RegisterRequest struct {
	Label      string          `json:"label"`
	State      string          `json:"state"`
	Credential json.RawMessage `json:"credential"`
}

type fido2LoginRequest struct {
	State      string          `json:"state"`
	Credential json.RawMessage `json:"credential"`
}

func (s *Server) FIDO2RegisterBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, err := s.fido2.BeginRegistration(r.Context(), principalFrom(r).Ref())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, challenge)
	}
}

func (s *Server) FIDO2RegisterCompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fido2RegisterRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		record, err := s.fido2.CompleteRegistration(r.Context(), principalFrom(r).Ref(), req.Label,
			authenticators.Response{IP: s.clientIP(r), Credential: req.Credential}, req.State)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func (s *Server) FIDO2LoginBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, err := s.auth.BeginSecondFactor(r.Context(), principalFrom(r), authenticators.TypeFIDO2)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, challenge)
	}
}

func (s *Server) FIDO2LoginCompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fido2LoginRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.CompleteSecondFactor(r.Context(), principalFrom(r), authenticators.TypeFIDO2,
			authenticators.Response{IP: s.clientIP(r), Credential: req.Credential}, req.State)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type certLoginRequest struct {
	AuthorizationToken string `json:"authorizationToken"`
	Certificate        string `json:"certificate"`
}

// CertLoginHandler completes the second factor with the client certificate of the
// connection. Browsers that cannot attach a bearer header post the login token as
// authorizationToken instead and get an HTML page that posts the result back to
// the frontend.
func (s *Server) CertLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req certLoginRequest
		if err := decodeBody(w, r, &req, func(form url.Values) {
			req.AuthorizationToken, req.Certificate = form.Get("authorizationToken"), form.Get("certificate")
		}); err != nil {
			writeError(w, r, err)
			return
		}
		bridged := bearerToken(r) == "" && req.AuthorizationToken != ""

		res, err := s.certLogin(r, req)
		if bridged {
			s.writeBridge(w, r, res, err)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) certLogin(r *http.Request, req certLoginRequest) (*auth.TokenResponse, error) {
	p := principalFrom(r)
	if p == nil && req.AuthorizationToken != "" {
		identified, err := s.auth.Identify(req.AuthorizationToken)
		if err != nil {
			return nil, err
		}
		p = identified
	}
	if err := s.auth.RequireLoggedIn(p); err != nil {
		return nil, err
	}
	cert, err := s.clientCertificate(r, req.Certificate)
	if err != nil {
		return nil, err
	}
	return s.auth.CompleteSecondFactor(r.Context(), p, authenticators.TypeCert, authenticators.Response{
		IP:          s.clientIP(r),
		Certificate: cert,
		Page:        flowPageFrom(r),
	}, "")
}

// clientCertificate finds the presented certificate: the TLS handshake first, then
// a terminating proxy's headers when trusted, then the request body when developing on localhost.
func (s *Server) clientCertificate(r *http.Request, fromBody string) (*x509.Certificate, error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0], nil
	}
	if s.config.GetTrustProxyCertHeader() && r.Header.Get(headerTLSVerified) == "SUCCESS" {
		raw, err := url.QueryUnescape(r.Header.Get(headerTLSCert))
		if err != nil {
			return nil, apperrors.AuthenticationFailed("No client certificate presented")
		}
		return parsePEMCertificate(raw)
	}
	if s.env == "DEV" && s.config.IsLocalhost() && fromBody != "" {
		return parsePEMCertificate(fromBody)
	}
	return nil, apperrors.AuthenticationFailed("No client certificate presented")
}

func parsePEMCertificate(raw string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, apperrors.AuthenticationFailed("Invalid client certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, apperrors.AuthenticationFailed("Invalid client certificate")
	}
	return cert, nil
}

type bridgeMessage struct {
	Token    string      `json:"token,omitempty"`
	Username string      `json:"username,omitempty"`
	Factor   auth.Factor `json:"factor,omitempty"`
	Error    string      `json:"error,omitempty"`
	Status   int         `json:"status"`
}

func (s *Server) writeBridge(w http.ResponseWriter, r *http.Request, res *auth.TokenResponse, err error) {
	nonce, nonceErr := s.nonce()
	if nonceErr != nil {
		writeError(w, r, apperrors.Internal("Something went wrong", nonceErr))
		return
	}

	msg := bridgeMessage{Status: http.StatusOK}
	if err != nil {
		msg.Status = statusFor(apperrors.KindOf(err))
		msg.Error = apperrors.MessageOf(err)
	} else {
		msg.Token, msg.Username, msg.Factor = res.Token, res.Username, res.Factor
	}

	origin := s.config.GetFrontendOrigin()
	if origin == "" {
		origin = s.config.GetBaseURL()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'nonce-"+nonce+"'")
	w.WriteHeader(msg.Status)
	if err := templates.ExecuteTemplate(w, certBridgeTemplate, map[string]any{"Nonce": nonce, "Message": msg, "Origin": origin}); err != nil {
		log.Err(err).Msg("failed to render certificate bridge")
	}
}

type certRegisterRequest struct {
	Label string `json:"label"`
}

// CertRegisterHandler issues a client certificate and returns it as a PKCS#12 download.
func (s *Server) CertRegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req certRegisterRequest
		if err := decodeBody(w, r, &req, func(form url.Values) {
			req.Label = form.Get("label")
		}); err != nil {
			writeError(w, r, err)
			return
		}
		enrolled, err := s.certs.Register(r.Context(), principalFrom(r).Ref(), req.Label, s.clientIP(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-pkcs12")
		w.Header().Set("Content-Disposition", `attachment; filename="client-certificate.p12"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(enrolled.Bundle.PKCS12)
	}
}

type authenticatorDeleteRequest struct {
	Type   authenticators.Type `json:"type"`
	Handle string              `json:"handle"`
}

func (s *Server) AuthenticatorDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authenticatorDeleteRequest
		if err := decodeBody(w, r, &req, nil); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.auth.RemoveAuthenticator(r.Context(), principalFrom(r), req.Type, req.Handle, s.clientIP(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w)
	}
}
