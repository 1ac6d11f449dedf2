package firewall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"security-service/internal/config"
)

// Enforcer is the external enforcement control-plane that actually drops
// traffic for a blocked origin. It is the one synchronous dependency with no
// fallback, so every call carries a hard timeout.
type Enforcer interface {
	Enabled() bool
	Block(ctx context.Context, origin, reason string) error
	Unblock(ctx context.Context, origin, reason string) error
	ListBlocked(ctx context.Context) ([]string, error)
}

// HTTPEnforcer talks to the enforcement point over its REST control plane.
type HTTPEnforcer struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPEnforcer(cfg config.FirewallConfig) *HTTPEnforcer {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEnforcer{
		baseURL: cfg.EndpointURL,
		token:   cfg.APIToken,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ Enforcer = (*HTTPEnforcer)(nil)

// Enabled reports whether enforcement-point credentials are configured.
// Without them the integration degrades to a logged no-op.
func (e *HTTPEnforcer) Enabled() bool {
	return e.baseURL != "" && e.token != ""
}

type blockRequest struct {
	Origin string `json:"origin"`
	Reason string `json:"reason"`
}

func (e *HTTPEnforcer) Block(ctx context.Context, origin, reason string) error {
	body, err := json.Marshal(blockRequest{Origin: origin, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal block request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/blocks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build block request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	return e.do(req, http.StatusOK, http.StatusCreated, http.StatusConflict)
}

func (e *HTTPEnforcer) Unblock(ctx context.Context, origin, reason string) error {
	u := fmt.Sprintf("%s/v1/blocks/%s?reason=%s", e.baseURL, url.PathEscape(origin), url.QueryEscape(reason))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build unblock request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	// 404 means the origin was not blocked; unblock is idempotent.
	return e.do(req, http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

func (e *HTTPEnforcer) ListBlocked(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/blocks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enforcement point request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("enforcement point returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed struct {
		Blocked []string `json:"blocked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode blocked list: %w", err)
	}
	return parsed.Blocked, nil
}

func (e *HTTPEnforcer) do(req *http.Request, acceptable ...int) error {
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("enforcement point request failed: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range acceptable {
		if resp.StatusCode == code {
			return nil
		}
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("enforcement point returned %d: %s", resp.StatusCode, snippet)
}
