// Package signature produces the XML-DSIG enveloped signature the SRI
// reception service requires. Grounded on
// Bjohan23-api-sunat-esta-si/signature/signature.go's use of
// russellhaering/goxmldsig with a beevik/etree document: same library, same
// X509KeyStore adapter, same SignEnveloped call shape. The algorithmic
// parameters differ from the teacher (SHA-256/RSA-SHA256/C14N inclusive
// instead of the teacher's SHA-1/C14N-exclusive) because the SRI XSD, unlike
// SUNAT's, fixes them explicitly (spec.md §4.4); they are set here rather
// than left at the library's defaults.
package signature

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"sri-emisor-go/apperror"
	"sri-emisor-go/credential"
)

// xmlHeader is re-emitted if etree drops the declaration on serialization.
const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

const comprobanteID = "comprobante"

// X509KeyStore adapts a loaded Credential to goxmldsig's KeyStore interface.
type X509KeyStore struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
}

// GetKeyPair returns the private key and the certificate's raw DER, which
// goxmldsig embeds verbatim in ds:X509Certificate.
func (ks *X509KeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.PrivateKey, ks.Certificate.Raw, nil
}

// SignedDocument is the immutable result of a successful Sign call
// (spec.md §3).
type SignedDocument struct {
	XML         []byte
	RootElement string
	ClaveAcceso string
}

// Signer produces enveloped XML-DSIG signatures over SRI comprobantes.
type Signer struct{}

// NewSigner returns a Signer. Signer carries no state: a Credential is
// supplied fresh on every call (spec.md §5 — credentials are not shared
// between signing calls).
func NewSigner() *Signer {
	return &Signer{}
}

// Sign produces the enveloped signature over docBytes, appending
// ds:Signature as the last child of the root element. Fails with
// SchemaViolation if the root carries no lowercase id="comprobante"
// attribute (after stripping any Id/ID duplicates) or already carries a
// signature, InvalidCredential if cred is nil or has no usable key/cert,
// and SigningError for any crypto-backend failure (spec.md §4.4).
func (s *Signer) Sign(docBytes []byte, cred *credential.Credential) (*SignedDocument, error) {
	if cred == nil || cred.PrivateKey == nil || cred.Certificate == nil {
		return nil, apperror.New(apperror.KindInvalidCredential, "credential", "no private key or certificate supplied")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(docBytes); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSchemaViolation).WithField("xml")
	}
	root := doc.Root()
	if root == nil {
		return nil, apperror.New(apperror.KindSchemaViolation, "root", "document has no root element")
	}

	if root.FindElement(".//*[local-name()='Signature']") != nil {
		return nil, apperror.New(apperror.KindSchemaViolation, "signature", "document is already signed")
	}

	if err := normalizeID(root); err != nil {
		return nil, err
	}

	claveAcceso := ""
	if el := root.FindElement(".//*[local-name()='claveAcceso']"); el != nil {
		claveAcceso = el.Text()
	}

	ks := &X509KeyStore{PrivateKey: cred.PrivateKey, Certificate: cred.Certificate}
	ctx := dsig.NewDefaultSigningContext(ks)
	ctx.Hash = crypto.SHA256
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	ctx.IdAttribute = "id"
	ctx.Prefix = "ds"
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSigningError).WithField("signatureMethod")
	}

	signedRoot, err := ctx.SignEnveloped(root)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSigningError)
	}

	sigEl := signedRoot.ChildElements()
	if len(sigEl) == 0 || localName(sigEl[len(sigEl)-1]) != "Signature" {
		return nil, apperror.New(apperror.KindSchemaViolation, "signature", "ds:Signature was not appended as the last child of the root")
	}

	doc.SetRoot(signedRoot)
	doc.WriteSettings.CanonicalEndTags = false

	var out strings.Builder
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSigningError).WithField("serialize")
	}
	xmlOut := out.String()
	if !strings.HasPrefix(xmlOut, "<?xml") {
		xmlOut = xmlHeader + xmlOut
	}

	return &SignedDocument{
		XML:         []byte(xmlOut),
		RootElement: signedRoot.Tag,
		ClaveAcceso: claveAcceso,
	}, nil
}

// normalizeID enforces spec.md §4.4/§9's attribute rule: exactly one
// lowercase id attribute, value "comprobante"; any Id/ID duplicate (stray
// casing from upstream tooling) is removed before signing since it would
// otherwise confuse the digest computation's element lookup.
func normalizeID(root *etree.Element) error {
	var stray []string
	for _, a := range root.Attr {
		switch a.Key {
		case "Id", "ID", "iD":
			stray = append(stray, a.Key)
		}
	}
	for _, key := range stray {
		root.RemoveAttr(key)
	}
	found := root.SelectAttr("id")
	if found == nil || found.Value != comprobanteID {
		return apperror.New(apperror.KindSchemaViolation, "id", "root element has no id=\"comprobante\" attribute")
	}
	return nil
}

func localName(el *etree.Element) string {
	if i := strings.IndexByte(el.Tag, ':'); i >= 0 {
		return el.Tag[i+1:]
	}
	return el.Tag
}

// X509CertificateBase64 returns the whitespace-stripped base64 DER the
// spec's ds:X509Certificate element must carry (spec.md §4.4).
func X509CertificateBase64(cert *x509.Certificate) string {
	return base64.StdEncoding.EncodeToString(cert.Raw)
}
