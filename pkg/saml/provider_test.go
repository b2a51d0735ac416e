package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProviderWithKeyStore("https://guest.idp.example.org", dsig.RandomKeyStoreForTest())
}

type authnRequestOptions struct {
	omitID          bool
	omitIssuer      bool
	issueInstant    time.Time
	requesterIDs    []string
	authnContexts   []string
	forceAuthn      bool
}

func buildAuthnRequestXML(t *testing.T, opts authnRequestOptions) []byte {
	t.Helper()
	doc := etree.NewDocument()
	root := doc.CreateElement("samlp:AuthnRequest")
	root.CreateAttr("xmlns:samlp", samlProtocolNamespace)
	root.CreateAttr("xmlns:saml", samlAssertionNamespace)
	if !opts.omitID {
		root.CreateAttr("ID", "_req-1")
	}
	root.CreateAttr("Version", "2.0")
	instant := opts.issueInstant
	if instant.IsZero() {
		instant = time.Now().UTC()
	}
	root.CreateAttr("IssueInstant", instant.Format(time.RFC3339))
	root.CreateAttr("AssertionConsumerServiceURL", "https://sp.example.com/acs")
	if opts.forceAuthn {
		root.CreateAttr("ForceAuthn", "true")
	}
	if !opts.omitIssuer {
		issuer := root.CreateElement("saml:Issuer")
		issuer.SetText("https://sp.example.com")
	}
	if len(opts.authnContexts) > 0 {
		rac := root.CreateElement("samlp:RequestedAuthnContext")
		for _, ref := range opts.authnContexts {
			el := rac.CreateElement("saml:AuthnContextClassRef")
			el.SetText(ref)
		}
	}
	if len(opts.requesterIDs) > 0 {
		scoping := root.CreateElement("samlp:Scoping")
		for _, requester := range opts.requesterIDs {
			el := scoping.CreateElement("samlp:RequesterID")
			el.SetText(requester)
		}
	}
	raw, err := doc.WriteToBytes()
	require.NoError(t, err)
	return raw
}

func encodeRequest(t *testing.T, raw []byte, deflated bool) string {
	t.Helper()
	if deflated {
		var buf bytes.Buffer
		writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = writer.Write(raw)
		require.NoError(t, err)
		require.NoError(t, writer.Close())
		raw = buf.Bytes()
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestParseAuthnRequestRedirectBinding(t *testing.T) {
	provider := newTestProvider(t)

	raw := buildAuthnRequestXML(t, authnRequestOptions{
		requesterIDs:  []string{"https://proxy.example.org"},
		authnContexts: []string{"https://guest.idp.example.org/linked-account"},
		forceAuthn:    true,
	})
	req, err := provider.ParseAuthnRequest(encodeRequest(t, raw, true), true)
	require.NoError(t, err)

	assert.Equal(t, "_req-1", req.ID)
	assert.Equal(t, "https://sp.example.com", req.Issuer)
	assert.Equal(t, "https://sp.example.com/acs", req.ACSLocation)
	assert.True(t, req.ForceAuthn)
	assert.Equal(t, []string{"https://proxy.example.org"}, req.RequesterIDs)
	assert.Equal(t, []string{"https://guest.idp.example.org/linked-account"}, req.AuthnContextClassRefs)
}

func TestParseAuthnRequestPostBinding(t *testing.T) {
	provider := newTestProvider(t)

	raw := buildAuthnRequestXML(t, authnRequestOptions{})
	req, err := provider.ParseAuthnRequest(encodeRequest(t, raw, false), false)
	require.NoError(t, err)
	assert.Equal(t, "_req-1", req.ID)
	assert.False(t, req.ForceAuthn)
	assert.Empty(t, req.RequesterIDs)
}

func TestParseAuthnRequestRejectsGarbage(t *testing.T) {
	provider := newTestProvider(t)

	_, err := provider.ParseAuthnRequest("not base64!!!", false)
	assert.ErrorIs(t, err, ErrValidationFailure)

	_, err = provider.ParseAuthnRequest(base64.StdEncoding.EncodeToString([]byte("<broken")), false)
	assert.ErrorIs(t, err, ErrValidationFailure)

	// A well-formed document that is not an AuthnRequest.
	_, err = provider.ParseAuthnRequest(base64.StdEncoding.EncodeToString([]byte("<LogoutRequest/>")), false)
	assert.ErrorIs(t, err, ErrValidationFailure)
}

func TestParseAuthnRequestRejectsMissingFields(t *testing.T) {
	provider := newTestProvider(t)

	raw := buildAuthnRequestXML(t, authnRequestOptions{omitID: true})
	_, err := provider.ParseAuthnRequest(encodeRequest(t, raw, false), false)
	assert.ErrorIs(t, err, ErrValidationFailure)

	raw = buildAuthnRequestXML(t, authnRequestOptions{omitIssuer: true})
	_, err = provider.ParseAuthnRequest(encodeRequest(t, raw, false), false)
	assert.ErrorIs(t, err, ErrValidationFailure)
}

func TestParseAuthnRequestRejectsStaleRequest(t *testing.T) {
	provider := newTestProvider(t)

	raw := buildAuthnRequestXML(t, authnRequestOptions{
		issueInstant: time.Now().Add(-time.Hour),
	})
	_, err := provider.ParseAuthnRequest(encodeRequest(t, raw, false), false)
	assert.ErrorIs(t, err, ErrValidationFailure)
}

func TestBuildAssertionAndResponse(t *testing.T) {
	provider := newTestProvider(t)

	sp := &ServiceProvider{EntityID: "https://sp.example.com"}
	req := &AuthnRequest{
		ID:          "_req-1",
		Issuer:      "https://sp.example.com",
		ACSLocation: "https://sp.example.com/acs",
	}
	attrs := []Attribute{
		{Name: "urn:mace:dir:attribute-def:mail", Value: "jdoe@example.com"},
		{Name: "urn:mace:dir:attribute-def:displayName", Value: "John Doe"},
	}

	assertion, err := provider.BuildAssertion(sp, req, "jdoe@example.com", NameIDFormatEmail, attrs)
	require.NoError(t, err)

	nameID := assertion.Element.FindElement("./Subject/NameID")
	require.NotNil(t, nameID)
	assert.Equal(t, "jdoe@example.com", nameID.Text())
	assert.Equal(t, NameIDFormatEmail, nameID.SelectAttrValue("Format", ""))

	confirmation := assertion.Element.FindElement("./Subject/SubjectConfirmation/SubjectConfirmationData")
	require.NotNil(t, confirmation)
	assert.Equal(t, "_req-1", confirmation.SelectAttrValue("InResponseTo", ""))
	assert.Equal(t, "https://sp.example.com/acs", confirmation.SelectAttrValue("Recipient", ""))

	audience := assertion.Element.FindElement("./Conditions/AudienceRestriction/Audience")
	require.NotNil(t, audience)
	assert.Equal(t, "https://sp.example.com", audience.Text())

	values := assertion.Element.FindElements("./AttributeStatement/Attribute")
	assert.Len(t, values, 2)

	// Signing is enveloped, so the signature sits inside the assertion.
	assert.NotNil(t, assertion.Element.FindElement("./Signature"))

	resp, err := provider.BuildResponse(req, assertion, sp)
	require.NoError(t, err)
	assert.Equal(t, "_req-1", resp.Element.SelectAttrValue("InResponseTo", ""))
	assert.Equal(t, "https://sp.example.com/acs", resp.Element.SelectAttrValue("Destination", ""))

	statusCode := resp.Element.FindElement("./Status/StatusCode")
	require.NotNil(t, statusCode)
	assert.Equal(t, StatusSuccess, statusCode.SelectAttrValue("Value", ""))
	assert.NotNil(t, resp.Element.FindElement("./Assertion"))
	assert.NotNil(t, resp.Element.FindElement("./Signature"))
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	provider := newTestProvider(t)

	sp := &ServiceProvider{EntityID: "https://sp.example.com"}
	req := &AuthnRequest{ID: "_req-1", ACSLocation: "https://sp.example.com/acs"}
	assertion, err := provider.BuildAssertion(sp, req, "jdoe@example.com", NameIDFormatEmail, nil)
	require.NoError(t, err)
	resp, err := provider.BuildResponse(req, assertion, sp)
	require.NoError(t, err)

	// Post binding: plain base64 of the document.
	encoded, err := provider.EncodeResponse(resp, false)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "samlp:Response")

	// Redirect binding: deflated before encoding.
	deflated, err := provider.EncodeResponse(resp, true)
	require.NoError(t, err)
	compressed, err := base64.StdEncoding.DecodeString(deflated)
	require.NoError(t, err)
	assert.NotContains(t, string(compressed), "samlp:Response")
	assert.Less(t, len(compressed), len(raw))
}
