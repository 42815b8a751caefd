package pages

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/validation"
	"github.com/pkg/errors"
)

type file struct {
	Pages []*Page `toml:"page"`
}

// Registry is the read-only set of pages loaded at startup.
type Registry struct {
	byID     map[string]*Page
	ordered  []*Page
	fallback *Page
}

// LoadFile parses a TOML pages file.
func LoadFile(path string) (*Registry, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Wrapf(err, "[pages.LoadFile] %s", path)
	}
	return New(f.Pages...)
}

// Parse reads pages from TOML text.
func Parse(data string) (*Registry, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, errors.Wrap(err, "[pages.Parse]")
	}
	return New(f.Pages...)
}

// New validates pages and indexes them by id.
func New(list ...*Page) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Page, len(list))}
	for _, p := range list {
		if err := validation.Struct(p, nil); err != nil {
			return nil, errors.Wrapf(err, "[pages.New] page %q", p.ID)
		}
		if err := validatePolicy(p); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, errors.Errorf("[pages.New] duplicate page id %q", p.ID)
		}
		r.byID[p.ID] = p
		r.ordered = append(r.ordered, p)
		if p.Default {
			if r.fallback != nil {
				return nil, errors.Errorf("[pages.New] pages %q and %q are both default", r.fallback.ID, p.ID)
			}
			r.fallback = p
		}
	}
	return r, nil
}

func validatePolicy(p *Page) error {
	for i, policy := range p.Certificates {
		if policy.Webhook == nil {
			continue
		}
		if err := validation.Struct(policy.Webhook, nil); err != nil {
			return errors.Wrapf(err, "[pages.New] page %q certificates[%d] webhook", p.ID, i)
		}
		if expr := policy.Webhook.SuccessRegex; expr != "" {
			if _, err := regexp.Compile(expr); err != nil {
				return errors.Wrapf(err, "[pages.New] page %q certificates[%d] success_regex", p.ID, i)
			}
		}
	}
	if p.Telemetry != nil {
		if err := validation.Struct(p.Telemetry, nil); err != nil {
			return errors.Wrapf(err, "[pages.New] page %q telemetry", p.ID)
		}
	}
	return nil
}

// Get returns the page with the given id.
func (r *Registry) Get(id string) (*Page, error) {
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("Website ID not found")
}

// ByIssuer finds the page whose SAML issuer matches, ignoring case.
func (r *Registry) ByIssuer(issuer string) (*Page, error) {
	for _, p := range r.ordered {
		if p.SAMLIssuer != "" && strings.EqualFold(p.SAMLIssuer, issuer) {
			return p, nil
		}
	}
	return nil, apperrors.NotFound("SAML issuer not registered")
}

// Default is the page used when a flow does not name one.
func (r *Registry) Default() (*Page, error) {
	if r.fallback == nil {
		return nil, apperrors.NotFound("No default page configured")
	}
	return r.fallback, nil
}

// All returns the pages in file order.
func (r *Registry) All() []*Page {
	return append([]*Page(nil), r.ordered...)
}
