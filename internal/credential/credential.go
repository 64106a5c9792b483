// Package credential resolves request headers into a typed CRM credential
// and the record-store client that credential selects.
package credential

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

// Provider names a supported CRM backend.
type Provider string

const (
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
)

// Header names inspected by Detect, in priority order.
const (
	HeaderHubSpot    = "X-HubSpot-Access-Token"
	HeaderSalesforce = "X-Salesforce-Access-Token"
)

// Credential is a provider-tagged CRM access token.
type Credential struct {
	Provider Provider
	Token    string
}

// ErrNoCredential is returned when no known provider header is present.
var ErrNoCredential = eris.New("credential: no CRM credential header present")

// Detect inspects the request headers for a provider-specific access token.
// When more than one provider header is present the first in priority order
// wins.
func Detect(h http.Header) (Credential, error) {
	if token := h.Get(HeaderHubSpot); token != "" {
		return Credential{Provider: ProviderHubSpot, Token: token}, nil
	}
	if token := h.Get(HeaderSalesforce); token != "" {
		return Credential{Provider: ProviderSalesforce, Token: token}, nil
	}
	return Credential{}, ErrNoCredential
}

// StoreFor returns the record-store client for the credential's provider.
// Providers without an implementation fail fast rather than at first use.
func StoreFor(cred Credential, opts ...hubspot.Option) (hubspot.Client, error) {
	switch cred.Provider {
	case ProviderHubSpot:
		return hubspot.NewClient(cred.Token, opts...), nil
	case ProviderSalesforce:
		return nil, eris.New("credential: salesforce record store is not yet supported")
	default:
		return nil, eris.New("credential: unknown CRM provider")
	}
}
