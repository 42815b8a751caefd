package pages_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/stretchr/testify/require"
)

const pagesTOML = `
[[page]]
id = "1"
name = "Page1"
secret = "page1-secret"
redirect = "https://page1.example.com/callback"
default = true

[[page]]
id = "2"
name = "Partner"
secret = "partner-secret"
saml_issuer = "https://partner.example.com/sp"
acs_url = "https://partner.example.com/acs"
signed_requests_only = true
auto_provision = false

[[page.certificates]]
authorities = ["partner.pem"]

[page.certificates.webhook]
url = "https://partner.example.com/verify"
success_contains = "OK"
timeout = "3s"

[[page.certificates]]
authorities = ["direct.pem", "direct-2024.pem"]

[page.telemetry]
url = "https://telemetry.partner.example.com/events"
projection = "{who: user, what: action}"
`

func TestParse(t *testing.T) {
	reg, err := pages.Parse(pagesTOML)
	require.NoError(t, err)
	require.Len(t, reg.All(), 2)

	p1, err := reg.Get("1")
	require.NoError(t, err)
	require.Equal(t, "Page1", p1.Name)
	require.True(t, p1.AutoProvisionEnabled())
	require.Nil(t, p1.Certificates)

	p2, err := reg.Get("2")
	require.NoError(t, err)
	require.False(t, p2.AutoProvisionEnabled())
	require.True(t, p2.SignedRequestsOnly)
	require.Len(t, p2.Certificates, 2)
	require.Equal(t, []string{"partner.pem"}, p2.Certificates[0].Authorities)
	require.Equal(t, 3*time.Second, p2.Certificates[0].Webhook.Timeout)
	require.Equal(t, []string{"direct.pem", "direct-2024.pem"}, p2.Certificates[1].Authorities)
	require.Nil(t, p2.Certificates[1].Webhook)
	require.Equal(t, "{who: user, what: action}", p2.Telemetry.Projection)

	def, err := reg.Default()
	require.NoError(t, err)
	require.Equal(t, "1", def.ID)

	byIssuer, err := reg.ByIssuer("HTTPS://partner.example.com/sp")
	require.NoError(t, err)
	require.Equal(t, "2", byIssuer.ID)
}

func TestLookupMisses(t *testing.T) {
	reg, err := pages.Parse(pagesTOML)
	require.NoError(t, err)

	_, err = reg.Get("9")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, "Website ID not found", apperrors.MessageOf(err))

	_, err = reg.ByIssuer("https://unknown.example.com")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	empty, err := pages.New()
	require.NoError(t, err)
	_, err = empty.Default()
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNewRejectsBadPages(t *testing.T) {
	tests := []struct {
		name string
		page *pages.Page
	}{
		{name: "non numeric id", page: &pages.Page{ID: "abc", Name: "x", Secret: "s"}},
		{name: "missing secret", page: &pages.Page{ID: "1", Name: "x"}},
		{
			name: "bad regex",
			page: &pages.Page{ID: "1", Name: "x", Secret: "s", Certificates: []pages.CertificatePolicy{
				{Authorities: []string{"a.pem"}},
				{Webhook: &pages.Webhook{URL: "https://a.example.com", SuccessRegex: "("}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pages.New(tt.page)
			require.Error(t, err)
		})
	}

	_, err := pages.New(
		&pages.Page{ID: "1", Name: "a", Secret: "s"},
		&pages.Page{ID: "1", Name: "b", Secret: "s"},
	)
	require.ErrorContains(t, err, "duplicate")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.toml")
	require.NoError(t, os.WriteFile(path, []byte(pagesTOML), 0o600))

	reg, err := pages.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, reg.All(), 2)

	_, err = pages.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestPublicHidesSecret(t *testing.T) {
	p := &pages.Page{ID: "1", Name: "Page1", Secret: "s", Terms: "https://t"}
	pub := p.Public()
	require.Equal(t, "Page1", pub.Name)
	require.Equal(t, "https://t", pub.Terms)
}
