// Package pages is the registry of relying-party applications ("pages") that the
// broker federates identities to.
package pages

import (
	"time"

	"github.com/jrsteele09/go-sso-broker/token"
)

// Page is one registered relying party.
type Page struct {
	ID                 string              `toml:"id" validate:"required,numeric"`
	Name               string              `toml:"name" validate:"required"`
	Secret             string              `toml:"secret" validate:"required"`
	Redirect           string              `toml:"redirect" validate:"omitempty,url"`
	SAMLIssuer         string              `toml:"saml_issuer"`
	ACSURL             string              `toml:"acs_url" validate:"omitempty,url"`
	SignedRequestsOnly bool                `toml:"signed_requests_only"`
	AutoProvision      *bool               `toml:"auto_provision"`
	Terms              string              `toml:"terms"`
	Branding           map[string]string   `toml:"branding"`
	Certificates       []CertificatePolicy `toml:"certificates"`
	Telemetry          *Telemetry          `toml:"telemetry"`
	Default            bool                `toml:"default"`
}

// CertificatePolicy is one certificate handler of a page: custom CAs (file names under
// <keys>/ca) trusted for certificate login, and an optional webhook that must also
// approve certificates chained to them.
type CertificatePolicy struct {
	Authorities []string `toml:"authorities"`
	Webhook     *Webhook `toml:"webhook"`
}

type Webhook struct {
	URL             string        `toml:"url" validate:"required,url"`
	SuccessContains string        `toml:"success_contains"`
	SuccessRegex    string        `toml:"success_regex"`
	Timeout         time.Duration `toml:"timeout"`
}

// Telemetry mirrors the page's audit events to an external endpoint.
type Telemetry struct {
	URL        string   `toml:"url" validate:"required,url"`
	Projection string   `toml:"projection"`
	Objects    []string `toml:"objects"`
}

// Signer returns the HMAC signer built from the page's shared secret.
func (p *Page) Signer() token.Signer {
	return token.NewHMACSigner(p.Secret)
}

// AutoProvisionEnabled defaults to true when the page does not say otherwise.
func (p *Page) AutoProvisionEnabled() bool {
	return p.AutoProvision == nil || *p.AutoProvision
}

// Public is the subset of a page safe to hand to the browser.
type Public struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Redirect string            `json:"redirect,omitempty"`
	Terms    string            `json:"terms,omitempty"`
	Branding map[string]string `json:"branding,omitempty"`
}

func (p *Page) Public() Public {
	return Public{ID: p.ID, Name: p.Name, Redirect: p.Redirect, Terms: p.Terms, Branding: p.Branding}
}
