package saml

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	xrv "github.com/mattermost/xml-roundtrip-validator"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	samlAssertionNamespace = "urn:oasis:names:tc:SAML:2.0:assertion"
	samlProtocolNamespace  = "urn:oasis:names:tc:SAML:2.0:protocol"

	subjectConfirmationBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"

	// defaultRequestMaxAge bounds how stale an inbound request may be.
	defaultRequestMaxAge = 5 * time.Minute

	// assertionValidity is the NotOnOrAfter window of issued assertions.
	assertionValidity = 5 * time.Minute
)

// Provider is the hosted identity provider side of the protocol toolkit.
// It implements Toolkit.
type Provider struct {
	entityID string
	signer   *dsig.SigningContext

	// requestValidator, when set, verifies signatures on inbound requests.
	requestValidator *dsig.ValidationContext

	requestMaxAge time.Duration
	now           func() time.Time
}

// NewProvider builds a provider from PEM-encoded signing material.
func NewProvider(entityID string, certPEM, keyPEM []byte) (*Provider, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	if _, err := x509.ParseCertificate(certBlock.Bytes); err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Try PKCS8 format
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	keyStore := &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{certBlock.Bytes},
	}
	return NewProviderWithKeyStore(entityID, keyStore), nil
}

// NewProviderWithGeneratedKeys builds a provider with an ephemeral
// self-signed key pair, for development runs without provisioned
// signing material.
func NewProviderWithGeneratedKeys(entityID string) (*Provider, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: entityID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign certificate: %w", err)
	}
	keyStore := &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{certDER},
	}
	return NewProviderWithKeyStore(entityID, keyStore), nil
}

// NewProviderWithKeyStore builds a provider over an existing key store.
func NewProviderWithKeyStore(entityID string, keyStore dsig.X509KeyStore) *Provider {
	return &Provider{
		entityID:      entityID,
		signer:        dsig.NewDefaultSigningContext(keyStore),
		requestMaxAge: defaultRequestMaxAge,
		now:           time.Now,
	}
}

// RequireSignedRequests installs signature validation of inbound requests
// against the given certificate store.
func (p *Provider) RequireSignedRequests(certStore dsig.X509CertificateStore) {
	p.requestValidator = dsig.NewDefaultValidationContext(certStore)
}

// ParseAuthnRequest decodes, inflates (redirect binding only) and validates
// an inbound authentication request. Any failure maps to ErrValidationFailure
// so nothing invalid is ever persisted.
func (p *Provider) ParseAuthnRequest(encoded string, deflated bool) (*AuthnRequest, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decoding: %v", ErrValidationFailure, err)
	}
	if deflated {
		reader := flate.NewReader(bytes.NewReader(raw))
		raw, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: inflating: %v", ErrValidationFailure, err)
		}
	}
	if err := xrv.Validate(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrValidationFailure, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "AuthnRequest" {
		return nil, fmt.Errorf("%w: document is not an AuthnRequest", ErrValidationFailure)
	}

	if p.requestValidator != nil && root.FindElement("./Signature") != nil {
		if _, err := p.requestValidator.Validate(root); err != nil {
			return nil, fmt.Errorf("%w: signature: %v", ErrValidationFailure, err)
		}
	}

	req := &AuthnRequest{
		ID:          root.SelectAttrValue("ID", ""),
		ACSLocation: root.SelectAttrValue("AssertionConsumerServiceURL", ""),
		ForceAuthn:  root.SelectAttrValue("ForceAuthn", "false") == "true",
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing ID", ErrValidationFailure)
	}

	issueInstant := root.SelectAttrValue("IssueInstant", "")
	if issueInstant == "" {
		return nil, fmt.Errorf("%w: missing IssueInstant", ErrValidationFailure)
	}
	instant, err := time.Parse(time.RFC3339, issueInstant)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid IssueInstant: %v", ErrValidationFailure, err)
	}
	if p.now().Sub(instant) > p.requestMaxAge {
		return nil, fmt.Errorf("%w: request is stale", ErrValidationFailure)
	}

	if issuer := root.FindElement("./Issuer"); issuer != nil {
		req.Issuer = issuer.Text()
	}
	if req.Issuer == "" {
		return nil, fmt.Errorf("%w: missing Issuer", ErrValidationFailure)
	}

	if scoping := root.FindElement("./Scoping"); scoping != nil {
		for _, requester := range scoping.FindElements("./RequesterID") {
			req.RequesterIDs = append(req.RequesterIDs, requester.Text())
		}
	}
	if rac := root.FindElement("./RequestedAuthnContext"); rac != nil {
		for _, ref := range rac.FindElements("./AuthnContextClassRef") {
			req.AuthnContextClassRefs = append(req.AuthnContextClassRefs, ref.Text())
		}
	}
	return req, nil
}

// BuildAssertion produces a signed assertion for the subject.
func (p *Provider) BuildAssertion(sp *ServiceProvider, req *AuthnRequest, subject, nameIDFormat string, attrs []Attribute) (*Assertion, error) {
	now := p.now().UTC()
	notOnOrAfter := now.Add(assertionValidity).Format(time.RFC3339)

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlAssertionNamespace)
	assertion.CreateAttr("ID", "_"+uuid.NewString())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(time.RFC3339))

	issuer := assertion.CreateElement("saml:Issuer")
	issuer.SetText(p.entityID)

	subj := assertion.CreateElement("saml:Subject")
	nameID := subj.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDFormat)
	nameID.SetText(subject)
	confirmation := subj.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", subjectConfirmationBearer)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("Recipient", req.ACSLocation)
	confirmationData.CreateAttr("InResponseTo", req.ID)
	confirmationData.CreateAttr("NotOnOrAfter", notOnOrAfter)

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", now.Format(time.RFC3339))
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter)
	audienceRestriction := conditions.CreateElement("saml:AudienceRestriction")
	audience := audienceRestriction.CreateElement("saml:Audience")
	audience.SetText(sp.EntityID)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", now.Format(time.RFC3339))
	authnStatement.CreateAttr("SessionIndex", "_"+uuid.NewString())
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	classRef := authnContext.CreateElement("saml:AuthnContextClassRef")
	classRef.SetText(AuthnContextPasswordProtectedTransport)

	if len(attrs) > 0 {
		statement := assertion.CreateElement("saml:AttributeStatement")
		for _, attr := range attrs {
			attribute := statement.CreateElement("saml:Attribute")
			attribute.CreateAttr("Name", attr.Name)
			attribute.CreateAttr("NameFormat", AttributeNameFormatURI)
			value := attribute.CreateElement("saml:AttributeValue")
			value.SetText(attr.Value)
		}
	}

	signed, err := p.signer.SignEnveloped(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}
	return &Assertion{Element: signed}, nil
}

// BuildResponse encloses the assertion in a signed response.
func (p *Provider) BuildResponse(req *AuthnRequest, assertion *Assertion, sp *ServiceProvider) (*Response, error) {
	now := p.now().UTC()

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlProtocolNamespace)
	response.CreateAttr("xmlns:saml", samlAssertionNamespace)
	response.CreateAttr("ID", "_"+uuid.NewString())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	response.CreateAttr("Destination", req.ACSLocation)
	response.CreateAttr("InResponseTo", req.ID)

	issuer := response.CreateElement("saml:Issuer")
	issuer.SetText(p.entityID)

	status := response.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", StatusSuccess)

	response.AddChild(assertion.Element.Copy())

	signed, err := p.signer.SignEnveloped(response)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response: %w", err)
	}
	return &Response{Element: signed}, nil
}

// EncodeResponse serializes a response for transport. The redirect binding
// deflates before encoding; the post binding does not.
func (p *Provider) EncodeResponse(resp *Response, deflate bool) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(resp.Element.Copy())
	raw, err := doc.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("failed to serialize response: %w", err)
	}
	if deflate {
		var buf bytes.Buffer
		writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return "", fmt.Errorf("failed to create deflate writer: %w", err)
		}
		if _, err := writer.Write(raw); err != nil {
			return "", fmt.Errorf("failed to deflate response: %w", err)
		}
		if err := writer.Close(); err != nil {
			return "", fmt.Errorf("failed to flush deflated response: %w", err)
		}
		raw = buf.Bytes()
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
