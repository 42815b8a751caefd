package server

import (
	"net/http"

	"github.com/jrsteele09/go-sso-broker/ratelimit"
)

func (s *Server) initRoutes() {
	limits := s.limits
	api := s.APIMiddleware
	identified := func(mw ...Middleware) []Middleware {
		return api(append([]Middleware{s.IdentifyMiddleware}, mw...)...)
	}

	// SSO relay
	s.RegisterRouteHandler("GET "+RouteFlowIn, ChainMiddleware(s.FlowInHandler(), api()...))
	s.RegisterRouteHandler("POST "+RouteFlowIn, ChainMiddleware(s.FlowInHandler(), api()...))
	s.RegisterRouteHandler("POST "+RouteFlowOut, ChainMiddleware(s.FlowOutHandler(), identified()...))
	s.RegisterRouteHandler("GET "+RouteDefaultPage, ChainMiddleware(s.DefaultPageHandler(), api()...))
	s.RegisterRouteHandler("GET "+RouteSAML, ChainMiddleware(s.SAMLInHandler(), api()...))
	s.RegisterRouteHandler("GET "+RouteSAMLMetadata, ChainMiddleware(s.SAMLMetadataHandler(), api()...))
	s.RegisterRouteHandler("GET "+RouteFederationMeta, ChainMiddleware(s.SAMLMetadataHandler(), api()...))

	// Registration, password change and password login
	s.RegisterRouteHandler("POST "+RouteRegister, ChainMiddleware(s.RegisterHandler(),
		api(s.RateLimit(ratelimit.RuleFrom("register", limits.Register)), s.AntiTiming)...))
	s.RegisterRouteHandler("POST "+RouteActivate, ChainMiddleware(s.ActivateHandler(), api()...))
	s.RegisterRouteHandler("POST "+RouteChangeRequest, ChainMiddleware(s.ChangeRequestHandler(),
		api(s.RateLimit(ratelimit.RuleFrom("change-request", limits.ChangeRequest)), s.AntiTiming)...))
	s.RegisterRouteHandler("POST "+RouteChange, ChainMiddleware(s.ChangeHandler(), api()...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginHandler(),
		api(s.RateLimit(ratelimit.RuleFrom("login", limits.Login)), s.AntiTiming)...))

	// Email second factor
	s.RegisterRouteHandler("GET "+RouteEmailAuth, ChainMiddleware(s.EmailAuthHandler(),
		identified(s.RateLimit(ratelimit.RuleFrom("email-auth", limits.EmailAuth)), s.RequireLoggedIn)...))
	s.RegisterRouteHandler("GET "+RouteEmailConfirm, ChainMiddleware(s.EmailConfirmHandler(), identified()...))

	// Sessions
	s.RegisterRouteHandler("POST "+RouteSessionClean, ChainMiddleware(s.SessionCleanHandler(), identified()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), identified()...))

	// Authenticators
	s.RegisterRouteHandler("GET "+RouteFIDO2Register, ChainMiddleware(s.FIDO2RegisterBeginHandler(), identified(s.RequireAuthenticated)...))
	s.RegisterRouteHandler("POST "+RouteFIDO2Register, ChainMiddleware(s.FIDO2RegisterCompleteHandler(), identified(s.RequireAuthenticated)...))
	s.RegisterRouteHandler("GET "+RouteFIDO2Login, ChainMiddleware(s.FIDO2LoginBeginHandler(), identified(s.RequireLoggedIn)...))
	s.RegisterRouteHandler("POST "+RouteFIDO2Login, ChainMiddleware(s.FIDO2LoginCompleteHandler(), identified(s.RequireLoggedIn)...))
	s.RegisterRouteHandler("POST "+RouteCertLogin, ChainMiddleware(s.CertLoginHandler(),
		identified(s.RateLimit(ratelimit.RuleFrom("cert-login", limits.CertLogin)), s.FlowContextMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteCertRegister, ChainMiddleware(s.CertRegisterHandler(), identified(s.RequireAuthenticated)...))
	s.RegisterRouteHandler("POST "+RouteAuthenticatorDelete, ChainMiddleware(s.AuthenticatorDeleteHandler(), identified()...))

	// Account
	s.RegisterRouteHandler("GET "+RouteMe, ChainMiddleware(s.MeHandler(), identified()...))
	s.RegisterRouteHandler("GET "+RouteAudit, ChainMiddleware(s.AuditHandler(), identified()...))
	s.RegisterRouteHandler("POST "+RouteAuditReport, ChainMiddleware(s.AuditReportHandler(), identified()...))

	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.RecoverMiddleware))
	// CORS preflight for every route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.CorsMiddleware))
}
