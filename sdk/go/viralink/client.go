package viralink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Viralink server (e.g. "http://localhost:8080").
	BaseURL string

	// KeyID identifies the API key used to obtain a JWT token.
	KeyID string

	// APIKey is the secret paired with KeyID.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Viralink route engine API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, KeyID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("viralink: BaseURL is required")
	}
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("viralink: KeyID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("viralink: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.KeyID, cfg.APIKey, httpClient),
	}, nil
}

// ActivateRoute starts a new viralization route. The server returns once
// the first stage has completed; the remaining stages run asynchronously.
// Requires operator role.
func (c *Client) ActivateRoute(ctx context.Context, req ActivateRequest) (*ActivationResult, error) {
	var resp ActivationResult
	if err := c.post(ctx, "/v1/routes", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRoute retrieves a route with its full stage state.
func (c *Client) GetRoute(ctx context.Context, routeID uuid.UUID) (*Route, error) {
	var resp Route
	if err := c.get(ctx, "/v1/routes/"+routeID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSessionRoutes retrieves all routes for a session, newest first.
// Non-admin callers see only their own routes.
func (c *Client) ListSessionRoutes(ctx context.Context, sessionID string) (*SessionRoutes, error) {
	var resp SessionRoutes
	if err := c.get(ctx, "/v1/sessions/"+sessionID+"/routes", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateMetrics merges engagement metrics into a route. Existing keys are
// overwritten, others are preserved. Requires operator role.
func (c *Client) UpdateMetrics(ctx context.Context, routeID uuid.UUID, metrics map[string]any) (*MetricsResult, error) {
	body := map[string]any{"metrics": metrics}
	var resp MetricsResult
	if err := c.patch(ctx, "/v1/routes/"+routeID.String()+"/metrics", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForCompletion polls the route until it reaches a terminal status
// (completed or failed) or ctx is cancelled. A non-positive interval
// defaults to one second. Returns the final route state.
func (c *Client) WaitForCompletion(ctx context.Context, routeID uuid.UUID, interval time.Duration) (*Route, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		route, err := c.GetRoute(ctx, routeID)
		if err != nil {
			return nil, err
		}
		if route.Terminal() {
			return route, nil
		}
		select {
		case <-ctx.Done():
			return route, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("viralink: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("viralink: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("viralink: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) patch(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("viralink: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("viralink: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("viralink: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("viralink: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("viralink: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("viralink: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("viralink: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
