package coordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a coordination engine over HTTP. All methods return
// *APIError when the engine rejects a request, so callers can inspect
// the status and error code with errors.As.
type Client struct {
	baseURL string
	apiKey  string

	// HTTPClient is used for every request. Replace it to customize
	// timeouts or transports. The default times out after 30s.
	HTTPClient *http.Client
}

// NewClient creates a client for the engine at baseURL. The API key is
// sent as a bearer token; leave it empty for unauthenticated reads.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do performs one API request, decoding the response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// --- Agent directory ---

// RegisterAgent registers an agent. The result carries the profile and,
// when the engine issues API keys, the one-time key for the new owner.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (*RegisteredAgent, error) {
	var reg RegisteredAgent
	if err := c.do(ctx, http.MethodPost, "/v1/agents", nil, req, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetAgent fetches one agent profile by ID.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID), nil, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// FindAgents searches the directory with the given filters.
func (c *Client) FindAgents(ctx context.Context, q FindAgentsQuery) ([]Agent, error) {
	var resp struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/agents", q.values(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Restake adjusts an agent's stake by delta, which may be negative to
// unstake. Returns the new stake and tier.
func (c *Client) Restake(ctx context.Context, agentID, delta string) (*StakeUpdate, error) {
	body := map[string]string{"delta": delta}
	var upd StakeUpdate
	if err := c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/restake", nil, body, &upd); err != nil {
		return nil, err
	}
	return &upd, nil
}

// Deactivate retires an agent and returns its remaining stake.
func (c *Client) Deactivate(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/deactivate", nil, nil, nil)
}

// --- Reputation ---

// GetReputation returns an agent's aggregate reputation score.
func (c *Client) GetReputation(ctx context.Context, agentID string) (*ReputationScore, error) {
	var score ReputationScore
	if err := c.do(ctx, http.MethodGet, "/v1/reputation/"+url.PathEscape(agentID), nil, nil, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// RecordedEvent is the result of recording a reputation event. Score
// is the agent's recomputed aggregate, when the engine returns one.
type RecordedEvent struct {
	Event *ReputationEvent `json:"event"`
	Score *float64         `json:"score,omitempty"`
}

// RecordReputationEvent records an execution outcome for an agent.
func (c *Client) RecordReputationEvent(ctx context.Context, agentID string, req RecordEventRequest) (*RecordedEvent, error) {
	var rec RecordedEvent
	if err := c.do(ctx, http.MethodPost, "/v1/reputation/"+url.PathEscape(agentID)+"/events", nil, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListReputationEvents returns an agent's most recent events, newest
// first. A limit of 0 uses the engine default.
func (c *Client) ListReputationEvents(ctx context.Context, agentID string, limit int) ([]ReputationEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Events []ReputationEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/reputation/"+url.PathEscape(agentID)+"/events", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// NetworkScores returns an agent's per-network reputation.
func (c *Client) NetworkScores(ctx context.Context, agentID string) ([]NetworkScore, error) {
	var resp struct {
		Scores []NetworkScore `json:"scores"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/reputation/"+url.PathEscape(agentID)+"/networks", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// SyncNetworkScores recomputes and stores an agent's per-network
// scores from its event history.
func (c *Client) SyncNetworkScores(ctx context.Context, agentID string) ([]NetworkScore, error) {
	var resp struct {
		Synced []NetworkScore `json:"synced"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/reputation/"+url.PathEscape(agentID)+"/sync", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Synced, nil
}

// --- Escrows ---

// CreateEscrow locks payment for milestone work.
func (c *Client) CreateEscrow(ctx context.Context, req CreateEscrowRequest) (*Escrow, error) {
	var e Escrow
	if err := c.do(ctx, http.MethodPost, "/v1/escrows", nil, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEscrow fetches one escrow by ID.
func (c *Client) GetEscrow(ctx context.Context, escrowID string) (*Escrow, error) {
	var e Escrow
	if err := c.do(ctx, http.MethodGet, "/v1/escrows/"+url.PathEscape(escrowID), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListAgentEscrows pages through an agent's escrows, newest first.
// Pass the previous page's NextCursor to continue.
func (c *Client) ListAgentEscrows(ctx context.Context, agentID, cursor string, limit int) (*EscrowPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page EscrowPage
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/escrows", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SubmitProof submits a milestone proof. On success the milestone's
// payment has already been released to the agent.
func (c *Client) SubmitProof(ctx context.Context, escrowID string, milestoneIndex int, proof string) (*ReleaseOutcome, error) {
	path := fmt.Sprintf("/v1/escrows/%s/milestones/%d/proof", url.PathEscape(escrowID), milestoneIndex)
	body := map[string]string{"proof": proof}
	var outcome ReleaseOutcome
	if err := c.do(ctx, http.MethodPost, path, nil, body, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// CancelEscrow cancels an escrow with no released milestones,
// refunding the requester.
func (c *Client) CancelEscrow(ctx context.Context, escrowID string) (*Escrow, error) {
	var e Escrow
	if err := c.do(ctx, http.MethodPost, "/v1/escrows/"+url.PathEscape(escrowID)+"/cancel", nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Cross-network settlement ---

// ListNetworks returns the engine's configured network table.
func (c *Client) ListNetworks(ctx context.Context) ([]Network, error) {
	var resp struct {
		Networks []Network `json:"networks"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/networks", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Networks, nil
}

// RegisterNetworks replaces an agent's declared network set.
func (c *Client) RegisterNetworks(ctx context.Context, agentID string, networks []string) (*Registration, error) {
	body := map[string][]string{"networks": networks}
	var reg Registration
	if err := c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/networks", nil, body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// AgentNetworks returns an agent's networks and route matrix.
func (c *Client) AgentNetworks(ctx context.Context, agentID string) (*AgentNetworks, error) {
	var an AgentNetworks
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/networks", nil, nil, &an); err != nil {
		return nil, err
	}
	return &an, nil
}

// CheckRoute asks whether the agent can settle a payment from one
// network to another.
func (c *Client) CheckRoute(ctx context.Context, agentID, from, to string) (*Route, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	var route Route
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/route", q, nil, &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// --- Revenue sharing ---

// GetPool returns the undistributed revenue pool balances.
func (c *Client) GetPool(ctx context.Context) (*PoolStatus, error) {
	var pool PoolStatus
	if err := c.do(ctx, http.MethodGet, "/v1/revenue/pool", nil, nil, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// GetRevenueShare returns a holder's share and accumulated rewards.
func (c *Client) GetRevenueShare(ctx context.Context, address string) (*RevenueShare, error) {
	var share RevenueShare
	if err := c.do(ctx, http.MethodGet, "/v1/revenue/shares/"+url.PathEscape(address), nil, nil, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// ListDistributions returns completed distribution periods, newest
// first.
func (c *Client) ListDistributions(ctx context.Context, limit int) ([]Distribution, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Distributions []Distribution `json:"distributions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/revenue/distributions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Distributions, nil
}

// ListClaims returns a holder's past claims, newest first. The API
// key must belong to the address being queried.
func (c *Client) ListClaims(ctx context.Context, address string, limit int) ([]Claim, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Claims []Claim `json:"claims"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/revenue/claims/"+url.PathEscape(address), q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

// ClaimRewards pays out the authenticated caller's accumulated
// rewards.
func (c *Client) ClaimRewards(ctx context.Context) (*Claim, error) {
	var claim Claim
	if err := c.do(ctx, http.MethodPost, "/v1/revenue/claim", nil, nil, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}
