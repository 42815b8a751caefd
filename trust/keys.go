// Package trust owns the broker's certificate material: its own key pair and native
// CA, the relying-party CA pools, the bundled CA file and client certificate issuance.
package trust

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ServerCertFile = "server_cert.pem"
	ServerKeyFile  = "server_key.pem"
	CADir          = "ca"
	BundleFile     = "bundled-ca.pem"
)

// ServerIdentity is the broker's certificate and key. The certificate doubles as the
// native CA that signs enrolled client certificates and SAML responses.
type ServerIdentity struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// TLSCertificate returns the identity in the form crypto/tls expects.
func (s *ServerIdentity) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(s.CertPEM, s.KeyPEM)
}

// GenerateRSAKey generates an RSA private key of at least 2048 bits.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		bits = 2048
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}
	return key, nil
}

func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// ParsePrivateKeyPEM accepts PKCS#1 and PKCS#8 RSA keys.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// ParseCertificatesPEM returns every CERTIFICATE block in data.
func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse certificate")
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate found")
	}
	return certs, nil
}

// Fingerprint is the upper-case, colon separated SHA-256 of the DER certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	hexed := strings.ToUpper(hex.EncodeToString(sum[:]))
	var b strings.Builder
	for i := 0; i < len(hexed); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hexed[i : i+2])
	}
	return b.String()
}

// LoadOrCreateServerIdentity reads the broker key pair from dir, generating a
// self-signed CA certificate for hostname when none exists yet.
func LoadOrCreateServerIdentity(dir, hostname, displayName string) (*ServerIdentity, error) {
	certPath := filepath.Join(dir, ServerCertFile)
	keyPath := filepath.Join(dir, ServerKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return parseIdentity(certPEM, keyPEM)
	}
	if !os.IsNotExist(certErr) && certErr != nil {
		return nil, errors.Wrap(certErr, "[trust.LoadOrCreateServerIdentity] read certificate")
	}

	identity, err := newSelfSignedIdentity(hostname, displayName, time.Now())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, CADir), 0o755); err != nil {
		return nil, errors.Wrap(err, "[trust.LoadOrCreateServerIdentity] create key dir")
	}
	if err := os.WriteFile(keyPath, identity.KeyPEM, 0o600); err != nil {
		return nil, errors.Wrap(err, "[trust.LoadOrCreateServerIdentity] write key")
	}
	if err := os.WriteFile(certPath, identity.CertPEM, 0o644); err != nil {
		return nil, errors.Wrap(err, "[trust.LoadOrCreateServerIdentity] write certificate")
	}
	return identity, nil
}

func parseIdentity(certPEM, keyPEM []byte) (*ServerIdentity, error) {
	certs, err := ParseCertificatesPEM(certPEM)
	if err != nil {
		return nil, errors.Wrap(err, "[trust.parseIdentity]")
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "[trust.parseIdentity]")
	}
	return &ServerIdentity{Certificate: certs[0], Key: key, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func newSelfSignedIdentity(hostname, displayName string, now time.Time) (*ServerIdentity, error) {
	key, err := GenerateRSAKey(2048)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname, Organization: []string{displayName}},
		DNSNames:              []string{hostname},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "[trust.newSelfSignedIdentity] create certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "[trust.newSelfSignedIdentity] parse certificate")
	}
	return &ServerIdentity{
		Certificate: cert,
		Key:         key,
		CertPEM:     EncodeCertificatePEM(cert),
		KeyPEM:      EncodePrivateKeyPEM(key),
	}, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate serial number")
	}
	return serial, nil
}
