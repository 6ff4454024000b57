// Package credential loads the signing private key and titular certificate
// out of a PKCS#12 container. Extraction is grounded the way
// jhoicas-Inventario-api/internal/infrastructure/dian/signer/cert.go loads
// P12 material, generalized to the multi-certificate-bag case the teacher's
// single-leaf Decode() call could not handle (spec.md §4.3, §9).
package credential

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"software.sslmate.com/src/go-pkcs12"

	"sri-emisor-go/apperror"
)

// Credential is the signing material Signer needs for one call. It is not
// shared between signing calls; each load produces a fresh copy.
type Credential struct {
	PrivateKey       *rsa.PrivateKey
	Certificate      *x509.Certificate
	CertificateDER   []byte // raw DER, used verbatim in ds:X509Certificate
	ValidFrom        time.Time
	ValidTo          time.Time
	Subject          string
	RUCTitular       string
	EsFirmaDigital   bool
	tempPath         string // non-empty when materialized from a base64 blob
}

// Source selects where the PKCS#12 bytes come from.
type Source struct {
	Path       string // filesystem path to a .p12/.pfx file
	Base64Blob string // base64-encoded PKCS#12 bytes; takes precedence over Path
	TempDir    string // directory for materializing Base64Blob; os.TempDir() if empty
}

var rucPattern = regexp.MustCompile(`\d{10,13}`)

// rucOID is the RUC extension SRI certificates carry (spec.md §4.3).
var rucOID = []int{1, 3, 6, 1, 4, 1, 37746, 3, 11}

// serialNumberOID is the X.509 subject attribute OID 2.5.4.5 (serialNumber).
var serialNumberOID = []int{2, 5, 4, 5}

// subjectUIDOID is the subject "UID" attribute OID 0.9.2342.19200300.100.1.1
// (userId, from the COSINE/LDAP schema), distinct from x500UniqueIdentifier.
var subjectUIDOID = []int{0, 9, 2342, 19200300, 100, 1, 1}

// x500UniqueIdentifierOID is the X.509 subject attribute OID 2.5.4.45
// (x500UniqueIdentifier), not to be confused with subjectUIDOID above.
var x500UniqueIdentifierOID = []int{2, 5, 4, 45}

// Store loads Credentials from PKCS#12 sources. Clock is injectable so
// validity-window checks are deterministic in tests.
type Store struct {
	Clock clockwork.Clock
}

// NewStore returns a Store using the real clock.
func NewStore() *Store {
	return &Store{Clock: clockwork.NewRealClock()}
}

// Load decodes a PKCS#12 blob located by src and returns the titular
// Credential, selected per the heuristic in spec.md §9.
func (s *Store) Load(src Source, passphrase string) (*Credential, error) {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	data, tempPath, err := s.materialize(src)
	if err != nil {
		return nil, err
	}

	blocks, err := pkcs12.ToPEM(data, passphrase)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInvalidCredential).WithMessage("failed to decode PKCS#12: " + err.Error())
	}

	var key *rsa.PrivateKey
	var certs []*x509.Certificate
	for _, block := range blocks {
		switch block.Type {
		case "PRIVATE KEY":
			// pkcs12.ToPEM labels shrouded RSA keys "PRIVATE KEY" but
			// encodes them as PKCS#1, so try both encodings.
			if rk, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				key = rk
				continue
			}
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				continue
			}
			if rk, ok := k.(*rsa.PrivateKey); ok {
				key = rk
			}
		case "RSA PRIVATE KEY":
			rk, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err == nil {
				key = rk
			}
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err == nil {
				certs = append(certs, cert)
			}
		}
	}
	if key == nil {
		return nil, apperror.New(apperror.KindInvalidCredential, "privateKey", "no PKCS#8 or plain RSA key bag found")
	}
	if len(certs) == 0 {
		return nil, apperror.New(apperror.KindInvalidCredential, "certificate", "no certificate bag found")
	}

	cert := selectTitular(certs, key)

	ruc := extractRUC(cert)
	esFirmaDigital := keyUsageAssertsSigning(cert)
	if !esFirmaDigital {
		esFirmaDigital = ruc != "" && cert.Subject.CommonName != ""
	}

	now := clock.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, apperror.New(apperror.KindInvalidCredential, "validity", fmt.Sprintf("certificate not valid at %s (window %s..%s)", now.Format(time.RFC3339), cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339)))
	}

	return &Credential{
		PrivateKey:     key,
		Certificate:    cert,
		CertificateDER: cert.Raw,
		ValidFrom:      cert.NotBefore,
		ValidTo:        cert.NotAfter,
		Subject:        cert.Subject.String(),
		RUCTitular:     ruc,
		EsFirmaDigital: esFirmaDigital,
		tempPath:       tempPath,
	}, nil
}

// Close unlinks any temporary file materialized for this Credential's
// source blob. Safe to call on a Credential loaded directly from a path.
func (c *Credential) Close() error {
	if c.tempPath == "" {
		return nil
	}
	return os.Remove(c.tempPath)
}

// materialize returns the PKCS#12 bytes for src, writing a base64 blob to a
// process-private temp file when downstream callers need a path (spec.md
// §4.3, §5: "materialized to a secure temporary file").
func (s *Store) materialize(src Source) (data []byte, tempPath string, err error) {
	if src.Base64Blob != "" {
		raw, err := base64.StdEncoding.DecodeString(src.Base64Blob)
		if err != nil {
			return nil, "", apperror.New(apperror.KindInvalidCredential, "base64Blob", "not valid base64")
		}
		dir := src.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		path := dir + "/sri-cred-" + uuid.NewString() + ".p12"
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, "", apperror.Wrap(err, apperror.ErrInvalidCredential).WithField("tempFile")
		}
		return raw, path, nil
	}
	if src.Path == "" {
		return nil, "", apperror.New(apperror.KindInvalidInput, "source", "neither Path nor Base64Blob supplied")
	}
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, "", apperror.Wrap(err, apperror.ErrInvalidCredential).WithField("path")
	}
	return raw, "", nil
}

// selectTitular implements spec.md §9's certificate-disambiguation rule:
// prefer a certificate whose keyUsage asserts digitalSignature &&
// nonRepudiation AND whose public key's RSA modulus matches the decoded
// private key. Failing that, take the first certificate whose modulus
// matches the key regardless of keyUsage, and only then the first
// certificate; never a hardcoded subject name or RUC.
func selectTitular(certs []*x509.Certificate, key *rsa.PrivateKey) *x509.Certificate {
	for _, cert := range certs {
		if !keyUsageAssertsSigning(cert) {
			continue
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if modulusEqual(pub, key) {
			return cert
		}
	}
	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if ok && modulusEqual(pub, key) {
			return cert
		}
	}
	return certs[0]
}

func modulusEqual(pub *rsa.PublicKey, key *rsa.PrivateKey) bool {
	if pub == nil || key == nil {
		return false
	}
	return new(big.Int).Set(pub.N).Cmp(key.PublicKey.N) == 0
}

func keyUsageAssertsSigning(cert *x509.Certificate) bool {
	return cert.KeyUsage&x509.KeyUsageDigitalSignature != 0 && cert.KeyUsage&x509.KeyUsageContentCommitment != 0
}

// extractRUC scans the certificate's identity fields in order: subject
// serialNumber, UID, x500UniqueIdentifier, the full subject DN string,
// subjectAltName URIs and emails, the RUC extension, and the serial number
// in hex. It returns the first \d{10,13} match that is 10 or 13 digits
// long; 11- and 12-digit matches are skipped. A 10-digit cédula is
// right-padded with "001" to the 13-digit company-RUC shape.
func extractRUC(cert *x509.Certificate) string {
	candidates := []string{}

	for _, name := range cert.Subject.Names {
		if name.Type.Equal(serialNumberOID) {
			if s, ok := name.Value.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	for _, name := range cert.Subject.Names {
		if name.Type.Equal(subjectUIDOID) {
			if s, ok := name.Value.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	for _, name := range cert.Subject.Names {
		if name.Type.Equal(x500UniqueIdentifierOID) {
			if s, ok := name.Value.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	candidates = append(candidates, cert.Subject.String())

	for _, uri := range cert.URIs {
		candidates = append(candidates, uri.String())
	}
	for _, email := range cert.EmailAddresses {
		candidates = append(candidates, email)
	}

	for _, ext := range cert.Extensions {
		if ext.Id.Equal(rucOID) {
			candidates = append(candidates, string(ext.Value))
		}
	}

	candidates = append(candidates, cert.SerialNumber.Text(16))

	for _, c := range candidates {
		if m := rucPattern.FindString(c); m != "" {
			if len(m) == 10 {
				return m + "001"
			}
			if len(m) == 13 {
				return m
			}
		}
	}
	return ""
}

// PEM returns the titular certificate re-encoded as a PEM block.
func (c *Credential) PEM() string {
	var b strings.Builder
	_ = pem.Encode(&b, &pem.Block{Type: "CERTIFICATE", Bytes: c.CertificateDER})
	return b.String()
}
