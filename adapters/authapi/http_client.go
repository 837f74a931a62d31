// Package authapi is the HTTP client for the remote authentication API. The
// three calls are opaque, retryable and timeout-bound; business handling of
// their outcomes belongs to the flow machine.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
	"github.com/layer-3/bifrost/ratelimit"
)

const requestTimeout = 15 * time.Second

// Client implements ports.AuthAPI against the verifier's HTTP surface.
// Outbound calls consume the outbound-api limiter category.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	limits  *ratelimit.Registry
}

// NewClient builds a client with bounded retries. limits may be nil.
func NewClient(baseURL string, limits *ratelimit.Registry) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil
	return &Client{baseURL: baseURL, http: rc, limits: limits}
}

func (c *Client) Challenge(ctx context.Context, address string, chainID uint64, mode core.AccountMode) (*ports.ChallengeGrant, error) {
	var resp struct {
		Message string `json:"message"`
		Nonce   string `json:"nonce"`
	}
	err := c.post(ctx, "/auth/challenge", map[string]any{
		"address": address,
		"chainId": chainID,
		"mode":    mode,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	return &ports.ChallengeGrant{Message: resp.Message, Nonce: resp.Nonce}, nil
}

func (c *Client) Verify(ctx context.Context, message, signature string, mode core.AccountMode) (*ports.VerifiedGrant, error) {
	var resp struct {
		SessionToken string `json:"sessionToken"`
		UserID       string `json:"userId"`
	}
	err := c.post(ctx, "/auth/verify", map[string]any{
		"message":   message,
		"signature": signature,
		"mode":      mode,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	return &ports.VerifiedGrant{SessionToken: resp.SessionToken, UserID: resp.UserID}, nil
}

func (c *Client) ValidateSession(ctx context.Context, token string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.post(ctx, "/auth/session/validate", map[string]any{"token": token}, &resp)
	if err != nil {
		return false, fmt.Errorf("session validation failed: %w", err)
	}
	return resp.Valid, nil
}

func (c *Client) Disconnect(ctx context.Context, token string) error {
	if err := c.post(ctx, "/auth/logout", map[string]any{"token": token}, nil); err != nil {
		return fmt.Errorf("disconnect request failed: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if c.limits != nil {
		if d := c.limits.Allow(ratelimit.CategoryOutboundAPI, path); !d.Allowed {
			return &core.Error{
				Code:         core.CodeRateLimited,
				Message:      fmt.Sprintf("outbound API budget exhausted, retry in %s", d.RetryAfter),
				RetryAfterMs: d.RetryAfter.Milliseconds(),
			}
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return core.WrapError(core.CodeRequestTimeout, "authentication API timed out", err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
