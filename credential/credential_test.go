package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// buildTitularP12 encodes a self-signed certificate asserting
// digitalSignature+nonRepudiation into a PKCS#12 blob, the way a real SRI
// signing certificate does, so selectTitular's key-usage branch is exercised.
func buildTitularP12(t *testing.T, notBefore, notAfter time.Time) ([]byte, *rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "JUAN PEREZ",
			SerialNumber: "0918097783001",
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	p12Bytes, err := pkcs12.Modern.WithRand(rand.Reader).Encode(priv, cert, nil, "clave123")
	require.NoError(t, err)
	return p12Bytes, priv, cert
}

func TestLoad_SelectsTitularByKeyUsageAndModulus(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p12Bytes, _, cert := buildTitularP12(t, notBefore, notAfter)

	dir := t.TempDir()
	path := dir + "/cert.p12"
	require.NoError(t, os.WriteFile(path, p12Bytes, 0o600))

	store := &Store{Clock: clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))}
	cred, err := store.Load(Source{Path: path}, "clave123")
	require.NoError(t, err)

	assert.Equal(t, cert.SerialNumber, cred.Certificate.SerialNumber)
	assert.Equal(t, "0918097783001", cred.RUCTitular)
	assert.True(t, cred.EsFirmaDigital)
}

func TestLoad_RejectsExpiredCertificate(t *testing.T) {
	notBefore := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	p12Bytes, _, _ := buildTitularP12(t, notBefore, notAfter)

	dir := t.TempDir()
	path := dir + "/cert.p12"
	require.NoError(t, os.WriteFile(path, p12Bytes, 0o600))

	store := &Store{Clock: clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))}
	_, err := store.Load(Source{Path: path}, "clave123")
	require.Error(t, err)
}

func TestLoad_Base64BlobMaterializesAndCleansUp(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p12Bytes, _, _ := buildTitularP12(t, notBefore, notAfter)

	store := &Store{Clock: clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))}
	blob := base64.StdEncoding.EncodeToString(p12Bytes)
	cred, err := store.Load(Source{Base64Blob: blob, TempDir: t.TempDir()}, "clave123")
	require.NoError(t, err)
	require.NoError(t, cred.Close())
}

func TestExtractRUC_PadsTenDigitCedula(t *testing.T) {
	cert := &x509.Certificate{Subject: pkix.Name{SerialNumber: "0912345678"}}
	ruc := extractRUC(cert)
	assert.Equal(t, "0912345678001", ruc)
}
