package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/resilience"
)

// Client is an HTTP Directory.
type Client struct {
	base   string
	apiKey string
	client *http.Client
	policy *resilience.Policy
}

// NewClient builds a Client from config.
func NewClient(cfg config.IdentityConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{},
		policy: resilience.NewPolicy("identity", timeout,
			resilience.DefaultRetryConfig(), resilience.CircuitBreakerConfig{}),
	}
}

type verifiedRequest struct {
	Wallet      string    `json:"wallet,omitempty"`
	Email       string    `json:"email,omitempty"`
	TokenID     int64     `json:"token_id"`
	Fingerprint string    `json:"fingerprint"`
	IssuedAt    time.Time `json:"issued_at"`
}

// MarkVerified posts the minted token to the collaborator.
func (c *Client) MarkVerified(ctx context.Context, who model.Identity, token model.AttestationToken) error {
	body := verifiedRequest{
		Wallet:      strings.TrimSpace(who.Wallet),
		Email:       strings.TrimSpace(who.Email),
		TokenID:     token.TokenID,
		Fingerprint: token.Fingerprint,
		IssuedAt:    token.IssuedAt,
	}
	_, err := resilience.Call(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		_, err := c.do(ctx, http.MethodPost, "/identities/verified", body, nil)
		return struct{}{}, err
	})
	return eris.Wrap(err, "identity: mark verified")
}

func (c *Client) FindByWallet(ctx context.Context, wallet string) (*Record, error) {
	return c.find(ctx, "wallet", wallet)
}

func (c *Client) FindByEmail(ctx context.Context, email string) (*Record, error) {
	return c.find(ctx, "email", email)
}

func (c *Client) find(ctx context.Context, key, value string) (*Record, error) {
	q := url.Values{key: {strings.TrimSpace(value)}}
	rec, err := resilience.Call(ctx, c.policy, func(ctx context.Context) (*Record, error) {
		var out Record
		status, err := c.do(ctx, http.MethodGet, "/identities?"+q.Encode(), nil, &out, http.StatusNotFound)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return nil, nil
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "identity: find by %s", key)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// do sends one request and decodes a 2xx body into out. Statuses listed in
// allow are returned without error.
func (c *Client) do(ctx context.Context, method, path string, body, out any, allow ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, eris.Wrap(err, "identity: marshal request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, eris.Wrap(err, "identity: create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, resilience.NewTransientError(eris.Wrap(err, "identity: read response"), resp.StatusCode)
	}
	for _, code := range allow {
		if resp.StatusCode == code {
			return code, nil
		}
	}
	if err := resilience.CheckResponse(resp, respBody); err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, eris.Wrap(err, "identity: decode response")
		}
	}
	return resp.StatusCode, nil
}
