package signature

import (
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"sri-emisor-go/apperror"
)

// Verify re-parses signedXML and checks the embedded ds:Signature against
// the embedded ds:X509Certificate, the way the reception service's own
// signature validation does. Used by tests and by callers that want to
// sanity-check a signature before submission (spec.md §8, property 3).
func Verify(signedXML []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return apperror.Wrap(err, apperror.ErrSchemaViolation)
	}
	root := doc.Root()
	if root == nil {
		return apperror.New(apperror.KindSchemaViolation, "root", "document has no root element")
	}

	sigEl := root.FindElement(".//*[local-name()='Signature']")
	if sigEl == nil {
		return apperror.New(apperror.KindSchemaViolation, "signature", "no ds:Signature element found")
	}

	certEl := sigEl.FindElement(".//*[local-name()='X509Certificate']")
	if certEl == nil {
		return apperror.New(apperror.KindSchemaViolation, "x509Certificate", "no embedded certificate found")
	}
	certDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrSchemaViolation).WithField("x509Certificate")
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrSchemaViolation).WithField("x509Certificate")
	}

	store := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}}
	ctx := dsig.NewDefaultValidationContext(store)
	ctx.IdAttribute = "id"
	if _, err := ctx.Validate(root); err != nil {
		return apperror.Wrap(err, apperror.ErrSigningError).WithField("verify")
	}
	return nil
}
