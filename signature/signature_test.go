package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sri-emisor-go/credential"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<factura id="comprobante" version="1.1.0"><infoTributaria><claveAcceso>0708202501091809778300110010010000000011234567810</claveAcceso></infoTributaria><detalles></detalles></factura>`

func selfSignedCredential(t *testing.T) *credential.Credential {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "JUAN PEREZ", SerialNumber: "0918097783001"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &credential.Credential{PrivateKey: priv, Certificate: cert, CertificateDER: cert.Raw}
}

func TestSign_AppendsSignatureAsLastChild_S4(t *testing.T) {
	cred := selfSignedCredential(t)
	signed, err := NewSigner().Sign([]byte(sampleDoc), cred)
	require.NoError(t, err)

	xmlStr := string(signed.XML)
	sigIdx := strings.LastIndex(xmlStr, "<ds:Signature")
	detallesIdx := strings.Index(xmlStr, "<detalles")
	require.Greater(t, sigIdx, 0)
	require.Greater(t, sigIdx, detallesIdx)
	assert.True(t, strings.HasPrefix(xmlStr, "<?xml"))
}

func TestSign_EmbedsClaveAcceso(t *testing.T) {
	cred := selfSignedCredential(t)
	signed, err := NewSigner().Sign([]byte(sampleDoc), cred)
	require.NoError(t, err)
	assert.Equal(t, "0708202501091809778300110010010000000011234567810", signed.ClaveAcceso)
}

func TestSign_VerifiesAgainstEmbeddedCertificate(t *testing.T) {
	cred := selfSignedCredential(t)
	signed, err := NewSigner().Sign([]byte(sampleDoc), cred)
	require.NoError(t, err)
	assert.NoError(t, Verify(signed.XML))
}

func TestSign_RejectsAlreadySignedDocument(t *testing.T) {
	cred := selfSignedCredential(t)
	signed, err := NewSigner().Sign([]byte(sampleDoc), cred)
	require.NoError(t, err)

	_, err = NewSigner().Sign(signed.XML, cred)
	require.Error(t, err)
}

func TestSign_RejectsMissingID(t *testing.T) {
	cred := selfSignedCredential(t)
	noID := `<?xml version="1.0" encoding="UTF-8"?><factura version="1.1.0"><detalles></detalles></factura>`
	_, err := NewSigner().Sign([]byte(noID), cred)
	require.Error(t, err)
}

func TestSign_StripsDuplicateIdCasing(t *testing.T) {
	cred := selfSignedCredential(t)
	dup := `<?xml version="1.0" encoding="UTF-8"?><factura id="comprobante" Id="stray" version="1.1.0"><detalles></detalles></factura>`
	signed, err := NewSigner().Sign([]byte(dup), cred)
	require.NoError(t, err)
	assert.NotContains(t, string(signed.XML), `Id="stray"`)
}
