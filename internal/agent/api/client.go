// Package api is the agent-side client for the diary server HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the diary server. Authenticated calls require a prior
// Token call, which stores the bearer token on the client.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Authenticated reports whether a bearer token is held.
func (c *Client) Authenticated() bool { return c.token != "" }

type RegistrationResult struct {
	AgentID      string `json:"agent_id"`
	Fingerprint  string `json:"fingerprint"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type Entry struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	Content       string   `json:"content"`
	Title         string   `json:"title"`
	Tags          []string `json:"tags"`
	Visibility    string   `json:"visibility"`
	InjectionRisk bool     `json:"injection_risk"`
}

type SigningRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Nonce   string `json:"nonce"`
	Status  string `json:"status"`
	Valid   *bool  `json:"valid"`
}

type Voucher struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register onboards this agent with a voucher and a base64 public key.
func (c *Client) Register(ctx context.Context, publicKey, voucherCode string) (*RegistrationResult, error) {
	var result RegistrationResult
	err := c.call(ctx, http.MethodPost, "/api/v1/agents/register", map[string]string{
		"public_key":   publicKey,
		"voucher_code": voucherCode,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Token exchanges client credentials for an access token and stores it for
// subsequent calls.
func (c *Client) Token(ctx context.Context, clientID, clientSecret string) error {
	var result struct {
		AccessToken string `json:"access_token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/token", map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
	}, &result)
	if err != nil {
		return err
	}
	c.token = result.AccessToken
	return nil
}

func (c *Client) CreateEntry(ctx context.Context, content, title string, tags []string, visibility string) (*Entry, error) {
	var entry Entry
	err := c.call(ctx, http.MethodPost, "/api/v1/entries", map[string]any{
		"content":    content,
		"title":      title,
		"tags":       tags,
		"visibility": visibility,
	}, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := c.call(ctx, http.MethodGet, "/api/v1/entries", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) ShareEntry(ctx context.Context, entryID, agentID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/entries/"+entryID+"/share",
		map[string]string{"agent_id": agentID}, nil)
}

func (c *Client) ListSigningRequests(ctx context.Context, status string) ([]SigningRequest, error) {
	path := "/api/v1/signing-requests"
	if status != "" {
		path += "?status=" + status
	}
	var requests []SigningRequest
	if err := c.call(ctx, http.MethodGet, path, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (c *Client) SubmitSignature(ctx context.Context, requestID, signature string) (*SigningRequest, error) {
	var request SigningRequest
	err := c.call(ctx, http.MethodPost, "/api/v1/signing-requests/"+requestID+"/signature",
		map[string]string{"signature": signature}, &request)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (c *Client) IssueVoucher(ctx context.Context) (*Voucher, error) {
	var voucher Voucher
	if err := c.call(ctx, http.MethodPost, "/api/v1/vouchers", nil, &voucher); err != nil {
		return nil, err
	}
	return &voucher, nil
}

// call performs one JSON round trip. Non-2xx responses become errors carrying
// the server's error message.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s (%s)", apiErr.Error, resp.Status)
		}
		return fmt.Errorf("server: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
