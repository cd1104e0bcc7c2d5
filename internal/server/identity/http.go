package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moltnet/diaryd/internal/common"
)

// HTTPProvider talks to a remote identity provider's admin API. Failures are
// reported as common.ErrorUpstream so the registration saga retries them per
// step policy.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider constructs a client for the provider admin API at baseURL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) CreateIdentity(ctx context.Context, traits Traits, idempotencyKey string) (string, error) {
	body := map[string]any{
		"traits": map[string]string{
			"public_key":  traits.PublicKey,
			"fingerprint": traits.Fingerprint,
		},
	}
	var result struct {
		ID string `json:"id"`
	}
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := p.do(ctx, http.MethodPost, "/admin/identities", headers, body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: identity provider returned no identity id", common.ErrorUpstream)
	}
	return result.ID, nil
}

func (p *HTTPProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	return p.do(ctx, http.MethodDelete, "/admin/identities/"+identityID, nil, nil, nil)
}

func (p *HTTPProvider) CreateCredentialClient(ctx context.Context, identityID string) (*Credentials, error) {
	body := map[string]any{
		"owner":       identityID,
		"grant_types": []string{"client_credentials"},
	}
	var result struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := p.do(ctx, http.MethodPost, "/admin/clients", nil, body, &result); err != nil {
		return nil, err
	}
	if result.ClientID == "" || result.ClientSecret == "" {
		return nil, fmt.Errorf("%w: identity provider returned incomplete credentials", common.ErrorUpstream)
	}
	return &Credentials{ClientID: result.ClientID, ClientSecret: result.ClientSecret}, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding identity request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: identity provider unreachable: %v", common.ErrorUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: identity provider returned %d: %s", common.ErrorUpstream, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding identity response: %v", common.ErrorUpstream, err)
		}
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
