package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/resilience"
)

// Remote talks JSON to a ledger gateway:
//
//	GET  /fingerprints/{fp}  200 {"registered":bool} | 404
//	POST /fingerprints       {"fingerprint"} -> {"already_present":bool}
//	POST /tokens             {"owner","token_uri","fingerprint"} -> token
//	GET  /stats              {"registered","last_token_id"}
type Remote struct {
	base   string
	apiKey string
	client *http.Client
	policy *resilience.Policy
	mint   *resilience.Policy
}

// NewRemote builds a Remote from config.
func NewRemote(cfg config.LedgerConfig) *Remote {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := resilience.NewPolicy("ledger", timeout,
		resilience.RetryFromConfig(cfg.Retry),
		resilience.BreakerFromConfig(cfg.Circuit),
	)

	// A mint whose reply was lost may have been applied; only retry when the
	// gateway cannot have processed it.
	mint := *policy
	mint.Retry.ShouldRetry = notDelivered

	return &Remote{
		base:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{},
		policy: policy,
		mint:   &mint,
	}
}

type registeredResponse struct {
	Registered bool `json:"registered"`
}

type tokenRequest struct {
	Owner       string `json:"owner"`
	TokenURI    string `json:"token_uri,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// IsRegistered asks the gateway whether fingerprint is registered.
func (r *Remote) IsRegistered(ctx context.Context, fingerprint string) (bool, error) {
	res, err := resilience.Call(ctx, r.policy, func(ctx context.Context) (registeredResponse, error) {
		var out registeredResponse
		status, err := r.do(ctx, http.MethodGet, "/fingerprints/"+url.PathEscape(fingerprint), nil, &out, http.StatusNotFound)
		if status == http.StatusNotFound {
			return registeredResponse{}, nil
		}
		return out, err
	})
	if err != nil {
		return false, unavailable("is_registered", err)
	}
	return res.Registered, nil
}

// Register registers fingerprint with the gateway.
func (r *Remote) Register(ctx context.Context, fingerprint string) (RegisterResult, error) {
	res, err := resilience.Call(ctx, r.policy, func(ctx context.Context) (RegisterResult, error) {
		var out RegisterResult
		_, err := r.do(ctx, http.MethodPost, "/fingerprints", map[string]string{"fingerprint": fingerprint}, &out)
		return out, err
	})
	if err != nil {
		return RegisterResult{}, unavailable("register", err)
	}
	return res, nil
}

// Mint asks the gateway to mint a token. A 4xx answer is a refusal
// (ErrMintFailed); anything else that fails is ErrLedgerUnavailable.
func (r *Remote) Mint(ctx context.Context, owner, tokenURI, fingerprint string) (model.AttestationToken, error) {
	req := tokenRequest{Owner: owner, TokenURI: tokenURI, Fingerprint: fingerprint}
	tok, err := resilience.Call(ctx, r.mint, func(ctx context.Context) (model.AttestationToken, error) {
		var out model.AttestationToken
		_, err := r.do(ctx, http.MethodPost, "/tokens", req, &out)
		return out, err
	})
	if err != nil {
		var se *resilience.StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && !resilience.IsTransient(err) {
			return model.AttestationToken{}, mintFailed(err)
		}
		return model.AttestationToken{}, unavailable("mint", err)
	}
	if tok.TokenID <= 0 {
		return model.AttestationToken{}, mintFailed(eris.New("gateway returned no token id"))
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = time.Now().UTC()
	}
	return tok, nil
}

// Stats fetches gateway statistics.
func (r *Remote) Stats(ctx context.Context) (Stats, error) {
	st, err := resilience.Call(ctx, r.policy, func(ctx context.Context) (Stats, error) {
		var out Stats
		_, err := r.do(ctx, http.MethodGet, "/stats", nil, &out)
		return out, err
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	st.Backend = "remote"
	return st, nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// do sends one request and decodes a 2xx body into out. Statuses listed in
// allow are returned without error and without decoding.
func (r *Remote) do(ctx context.Context, method, path string, body, out any, allow ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, eris.Wrap(err, "ledger: marshal request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reader)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, resilience.NewTransientError(eris.Wrap(err, "ledger: read response"), resp.StatusCode)
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
			return resp.StatusCode, eris.Wrap(err, "ledger: decode response")
		}
	}
	return resp.StatusCode, nil
}

// notDelivered reports failures where the gateway cannot have applied the
// request: a refused connection, or an explicit 429/503.
func notDelivered(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable
	}
	return false
}
