package sso

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-broker/auth"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/trust"
)

const (
	claimNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	claimEmailAddress   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	claimName           = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"

	unspecifiedNameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	uriAttributeFormat      = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"

	maxSAMLRequestSize = 1 << 20
)

type authnRequest = saml.AuthnRequest

type identityProvider struct {
	provider *saml.IdentityProvider
}

func newIdentityProvider(identity *trust.ServerIdentity, baseURL string) (*identityProvider, error) {
	metadataURL, err := parseEndpoint(baseURL, "/saml/metadata")
	if err != nil {
		return nil, err
	}
	ssoURL, err := parseEndpoint(baseURL, "/saml")
	if err != nil {
		return nil, err
	}
	logoutURL, err := parseEndpoint(baseURL, "/local/logout")
	if err != nil {
		return nil, err
	}
	return &identityProvider{provider: &saml.IdentityProvider{
		Key:         identity.Key,
		Certificate: identity.Certificate,
		MetadataURL: metadataURL,
		SSOURL:      ssoURL,
		LogoutURL:   logoutURL,
	}}, nil
}

// decodeAuthnRequest reads an HTTP-Redirect binding request: base64 of a DEFLATEd
// document, or plain base64 for callers that skip the compression.
func decodeAuthnRequest(raw string) (*authnRequest, error) {
	if raw == "" {
		return nil, apperrors.ValidationField("SAMLRequest", "Invalid SAML request")
	}
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.ValidationField("SAMLRequest", "Invalid SAML request")
	}
	document, err := io.ReadAll(io.LimitReader(flate.NewReader(bytes.NewReader(compressed)), maxSAMLRequestSize))
	if err != nil || len(document) == 0 {
		document = compressed
	}

	var req authnRequest
	if err := xml.Unmarshal(document, &req); err != nil {
		return nil, apperrors.ValidationField("SAMLRequest", "Invalid SAML request")
	}
	return &req, nil
}

// samlResponse builds the signed response asserting p to the page.
func (s *Service) samlResponse(page *pages.Page, p *auth.Principal, req *authnRequest, relayState string) (*FlowOutResult, error) {
	acs, err := assertionConsumer(page, req.AssertionConsumerServiceURL)
	if err != nil {
		return nil, err
	}

	now := s.tokens.Now().UTC()
	idpReq := &saml.IdpAuthnRequest{
		IDP:                     s.idp.provider,
		RelayState:              relayState,
		Request:                 *req,
		ServiceProviderMetadata: &saml.EntityDescriptor{EntityID: page.SAMLIssuer},
		SPSSODescriptor:         &saml.SPSSODescriptor{},
		ACSEndpoint:             &saml.IndexedEndpoint{Binding: saml.HTTPPostBinding, Location: acs},
		Now:                     now,
	}
	session := &saml.Session{
		ID:           uuid.New().String(),
		CreateTime:   now,
		ExpireTime:   now.Add(token.Short),
		Index:        uuid.New().String(),
		NameID:       p.UserID,
		NameIDFormat: unspecifiedNameIDFormat,
		CustomAttributes: []saml.Attribute{
			stringAttribute("nameidentifier", claimNameIdentifier, p.UserID),
			stringAttribute("emailaddress", claimEmailAddress, p.Username),
			stringAttribute("name", claimName, p.Username),
		},
	}

	if err := (saml.DefaultAssertionMaker{}).MakeAssertion(idpReq, session); err != nil {
		return nil, apperrors.Internal("Could not build SAML assertion", err)
	}
	if err := idpReq.MakeAssertionEl(); err != nil {
		return nil, apperrors.Internal("Could not sign SAML assertion", err)
	}
	if err := idpReq.MakeResponse(); err != nil {
		return nil, apperrors.Internal("Could not build SAML response", err)
	}

	doc := etree.NewDocument()
	doc.SetRoot(idpReq.ResponseEl)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, apperrors.Internal("Could not serialize SAML response", err)
	}
	return &FlowOutResult{
		Redirect:     acs,
		SAMLResponse: base64.StdEncoding.EncodeToString(out),
		RelayState:   relayState,
	}, nil
}

// assertionConsumer is where the response for page is posted. A configured acs_url is
// authoritative. Without one, a requested ACS must share the page redirect's origin.
func assertionConsumer(page *pages.Page, requested string) (string, error) {
	mismatch := apperrors.ValidationField("AssertionConsumerServiceURL", "Assertion consumer service does not match the website")
	if page.ACSURL != "" {
		if requested != "" && requested != page.ACSURL {
			return "", mismatch
		}
		return page.ACSURL, nil
	}
	if page.Redirect == "" {
		return "", apperrors.Validation("The website has no assertion consumer service")
	}
	if requested == "" {
		return page.Redirect, nil
	}
	if !sameOrigin(requested, page.Redirect) {
		return "", mismatch
	}
	return requested, nil
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && strings.EqualFold(ua.Host, ub.Host) && ua.User == nil
}

func stringAttribute(friendly, name, value string) saml.Attribute {
	return saml.Attribute{
		FriendlyName: friendly,
		Name:         name,
		NameFormat:   uriAttributeFormat,
		Values:       []saml.AttributeValue{{Type: "xs:string", Value: value}},
	}
}

// Metadata returns the broker's IdP metadata document.
func (s *Service) Metadata() ([]byte, error) {
	out, err := xml.MarshalIndent(s.idp.provider.Metadata(), "", "  ")
	if err != nil {
		return nil, apperrors.Internal("Could not build metadata", err)
	}
	return append([]byte(xml.Header), out...), nil
}
