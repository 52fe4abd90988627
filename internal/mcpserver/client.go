package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the coordination engine.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	APIKey       string // API key, e.g. "sk_..."
	AgentAddress string // Caller's address, e.g. "0x..."
}

// AccordClient is a pure HTTP client for the coordination engine API.
type AccordClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAccordClient creates a new client for the coordination engine.
func NewAccordClient(cfg Config) *AccordClient {
	return &AccordClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the engine.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the engine and returns the response body.
func (c *AccordClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// FindAgents searches the agent directory.
func (c *AccordClient) FindAgents(ctx context.Context, capabilities, minReputation, network, maxPaymentRate string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if capabilities != "" {
		q.Set("capabilities", capabilities)
	}
	if minReputation != "" {
		q.Set("minReputation", minReputation)
	}
	if network != "" {
		q.Set("network", network)
	}
	if maxPaymentRate != "" {
		q.Set("maxPaymentRate", maxPaymentRate)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/agents", q, nil)
}

// RegisterAgent registers a new agent in the directory.
func (c *AccordClient) RegisterAgent(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/agents", nil, body)
}

// GetAgent returns a single agent profile.
func (c *AccordClient) GetAgent(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/agents/"+agentID, nil, nil)
}

// GetReputation returns the reputation score for a given agent.
func (c *AccordClient) GetReputation(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/reputation/"+agentID, nil, nil)
}

// CreateEscrow opens a milestone escrow with the caller as requester.
func (c *AccordClient) CreateEscrow(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// GetEscrow fetches one escrow by ID.
func (c *AccordClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+escrowID, nil, nil)
}

// SubmitProof submits a milestone proof for verification and release.
func (c *AccordClient) SubmitProof(ctx context.Context, escrowID string, index int, proof string) (json.RawMessage, error) {
	path := "/v1/escrows/" + escrowID + "/milestones/" + strconv.Itoa(index) + "/proof"
	return c.doRequest(ctx, http.MethodPost, path, nil, map[string]string{"proof": proof})
}

// CancelEscrow cancels an untouched escrow, refunding the requester.
func (c *AccordClient) CancelEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/cancel", nil, nil)
}

// CheckRoute asks whether an agent can settle across a network pair.
func (c *AccordClient) CheckRoute(ctx context.Context, agentID, from, to string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	return c.doRequest(ctx, http.MethodGet, "/v1/agents/"+agentID+"/route", q, nil)
}

// GetRevenueShare returns the caller's revenue share and accumulated rewards.
func (c *AccordClient) GetRevenueShare(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/revenue/shares/"+address, nil, nil)
}

// ClaimRewards pays out the caller's accumulated revenue rewards.
func (c *AccordClient) ClaimRewards(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/revenue/claim", nil, nil)
}
