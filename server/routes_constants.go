package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// SSO relay
	RouteFlowIn         = "/flow/in"
	RouteFlowOut        = "/flow/out"
	RouteDefaultPage    = "/default-page"
	RouteSAML           = "/saml"
	RouteSAMLMetadata   = "/saml/metadata"
	RouteFederationMeta = "/saml/FederationMetadata/2007-06/FederationMetadata.xml"

	// Password and email flows
	RouteRegister      = "/local/register"
	RouteActivate      = "/local/activate"
	RouteChangeRequest = "/local/change-request"
	RouteChange        = "/local/change"
	RouteLogin         = "/local/login"
	RouteEmailAuth     = "/local/email-auth"
	RouteEmailConfirm  = "/email-confirm"
	RouteSessionClean  = "/local/session-clean"
	RouteLogout        = "/local/logout"

	// Authenticators
	RouteFIDO2Register       = "/fido2/register"
	RouteFIDO2Login          = "/fido2/login"
	RouteCertLogin           = "/cert/login"
	RouteCertRegister        = "/cert/register"
	RouteAuthenticatorDelete = "/authenticator/delete"

	// Account
	RouteMe          = "/me"
	RouteAudit       = "/audit"
	RouteAuditReport = "/audit/report"
	RouteHealth      = "/healthz"
)
