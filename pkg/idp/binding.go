package idp

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/eduguest/guestidp/pkg/saml"
)

// formPostTemplate auto-submits the response to the assertion consumer
// service. html/template escapes the relay state.
var formPostTemplate = template.Must(template.New("form-post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting response</title></head>
<body onload="document.forms[0].submit()">
<noscript><p>Your browser has JavaScript disabled. Click the button below to continue.</p></noscript>
<form method="post" action="{{.Action}}">
<input type="hidden" name="SAMLResponse" value="{{.SAMLResponse}}"/>
{{if .RelayState}}<input type="hidden" name="RelayState" value="{{.RelayState}}"/>{{end}}
<noscript><input type="submit" value="Continue"/></noscript>
</form>
</body>
</html>
`))

type formPostData struct {
	Action       string
	SAMLResponse string
	RelayState   string
}

// dispatch transports the signed response using the service's declared
// default endpoint. Anything other than the redirect and post bindings
// is a configuration error.
func (g *GuestIdP) dispatch(w http.ResponseWriter, r *http.Request,
	resp *saml.Response, sp *saml.ServiceProvider, relayState string) error {
	acs, err := sp.PreferredACS(saml.BindingHTTPPost)
	if err != nil {
		return err
	}

	switch acs.Binding {
	case saml.BindingHTTPRedirect:
		encoded, err := g.toolkit.EncodeResponse(resp, true)
		if err != nil {
			return err
		}
		query := url.Values{"SAMLResponse": {encoded}}
		if relayState != "" {
			query.Set("RelayState", relayState)
		}
		g.metrics.AssertionsTotal.WithLabelValues("redirect").Inc()
		http.Redirect(w, r, acs.Location+"?"+query.Encode(), http.StatusFound)
		return nil

	case saml.BindingHTTPPost:
		encoded, err := g.toolkit.EncodeResponse(resp, false)
		if err != nil {
			return err
		}
		g.metrics.AssertionsTotal.WithLabelValues("post").Inc()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		return formPostTemplate.Execute(w, formPostData{
			Action:       acs.Location,
			SAMLResponse: encoded,
			RelayState:   relayState,
		})

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedBinding, acs.Binding)
	}
}
