package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// HTTPProvider is the concrete Provider backed by an external identity/KYB
// lookup service, mirroring the transport shape of the reputation client.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPProvider constructs an HTTPProvider. The http.Client's timeout is
// the caller's concern (Verifier.Verify applies its own short deadline on
// top via context).
func NewHTTPProvider(baseURL, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{baseURL: baseURL, apiKey: apiKey, http: client}
}

type lookupResponse struct {
	Verified     bool   `json:"verified"`
	LegalName    string `json:"legalName,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, agentID, vendorName string) (Attestation, error) {
	endpoint := p.baseURL + "/v1/verify?agentId=" + url.QueryEscape(agentID) + "&vendorName=" + url.QueryEscape(vendorName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Attestation{}, fmt.Errorf("identity: build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Attestation{}, fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Attestation{}, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Attestation{}, fmt.Errorf("identity: decode response: %w", err)
	}

	status := Status(lr.Status)
	if status == "" {
		status = StatusUnknown
	}
	return Attestation{
		Verified:     lr.Verified,
		LegalName:    lr.LegalName,
		Jurisdiction: lr.Jurisdiction,
		Status:       status,
	}, nil
}

var _ Provider = (*HTTPProvider)(nil)
