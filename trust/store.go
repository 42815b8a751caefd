package trust

import (
	"bytes"
	"crypto/x509"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Store holds the trusted CA pools. It is built once at startup and never mutated;
// a change to the CA directory restarts the process instead.
type Store struct {
	native  *x509.CertPool
	custom  map[string]*x509.CertPool
	pemList [][]byte
	names   []string
}

// LoadStore builds the native pool from identity and one custom pool per file in
// <dir>/ca, keyed by file name.
func LoadStore(dir string, identity *ServerIdentity) (*Store, error) {
	s := &Store{
		native:  x509.NewCertPool(),
		custom:  make(map[string]*x509.CertPool),
		pemList: [][]byte{identity.CertPEM},
	}
	s.native.AddCert(identity.Certificate)

	caDir := filepath.Join(dir, CADir)
	entries, err := os.ReadDir(caDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "[trust.LoadStore] read CA dir")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(caDir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "[trust.LoadStore] read %s", e.Name())
		}
		certs, err := ParseCertificatesPEM(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "[trust.LoadStore] %s", e.Name())
		}
		pool := x509.NewCertPool()
		for _, c := range certs {
			pool.AddCert(c)
		}
		s.custom[e.Name()] = pool
		s.names = append(s.names, e.Name())
		s.pemList = append(s.pemList, raw)
	}
	sort.Strings(s.names)
	return s, nil
}

// Authorities lists the custom CA names.
func (s *Store) Authorities() []string {
	return append([]string(nil), s.names...)
}

// CustomCount is the number of custom CA files loaded.
func (s *Store) CustomCount() int {
	return len(s.names)
}

// VerifyNative checks cert chains to the broker's own CA.
func (s *Store) VerifyNative(cert *x509.Certificate) error {
	return verify(s.native, cert)
}

// VerifyWith checks cert chains to the named custom authority.
func (s *Store) VerifyWith(authority string, cert *x509.Certificate) error {
	pool, ok := s.custom[authority]
	if !ok {
		return errors.Errorf("unknown authority %q", authority)
	}
	return verify(pool, cert)
}

// ClientCAs pools every trusted CA, for the TLS listener.
func (s *Store) ClientCAs() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, p := range s.pemList {
		pool.AppendCertsFromPEM(p)
	}
	return pool
}

// Bundle concatenates every trusted CA as PEM, native first.
func (s *Store) Bundle() []byte {
	return bytes.Join(s.pemList, nil)
}

func verify(pool *x509.CertPool, cert *x509.Certificate) error {
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}
