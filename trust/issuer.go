package trust

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/pkg/errors"
	"software.sslmate.com/src/go-pkcs12"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// IssuedCertificate is a freshly signed client certificate packaged for download.
type IssuedCertificate struct {
	Certificate *x509.Certificate
	Fingerprint string
	PKCS12      []byte
}

// Issuer signs client certificates with the native CA.
type Issuer struct {
	identity *ServerIdentity
	validity time.Duration
	password string
	nowFunc  func() time.Time
}

type IssuerOption func(*Issuer)

func WithValidity(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.validity = d
	}
}

// WithBundlePassword sets the PKCS#12 password; the default is empty.
func WithBundlePassword(password string) IssuerOption {
	return func(i *Issuer) {
		i.password = password
	}
}

func WithIssuerNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func NewIssuer(identity *ServerIdentity, options ...IssuerOption) *Issuer {
	i := &Issuer{identity: identity, validity: 365 * 24 * time.Hour, nowFunc: time.Now}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Issue creates a client certificate for username, with the address as CN and subject email.
func (i *Issuer) Issue(username string) (*IssuedCertificate, error) {
	key, err := GenerateRSAKey(2048)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := i.nowFunc()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: username,
			ExtraNames: []pkix.AttributeTypeAndValue{{Type: oidEmailAddress, Value: username}},
		},
		EmailAddresses: []string{username},
		NotBefore:      now.Add(-time.Minute),
		NotAfter:       now.Add(i.validity),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, i.identity.Certificate, &key.PublicKey, i.identity.Key)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.Issue] sign certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.Issue] parse certificate")
	}
	bundle, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{i.identity.Certificate}, i.password)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.Issue] encode pkcs12")
	}
	return &IssuedCertificate{Certificate: cert, Fingerprint: Fingerprint(cert), PKCS12: bundle}, nil
}

// SubjectEmail returns the emailAddress attribute of the subject, falling back to the
// first SAN email.
func SubjectEmail(cert *x509.Certificate) string {
	for _, n := range cert.Subject.Names {
		if n.Type.Equal(oidEmailAddress) {
			if s, ok := n.Value.(string); ok {
				return s
			}
		}
	}
	if len(cert.EmailAddresses) > 0 {
		return cert.EmailAddresses[0]
	}
	return ""
}
