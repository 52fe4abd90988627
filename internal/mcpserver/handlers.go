package mcpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *AccordClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *AccordClient) *Handlers {
	return &Handlers{client: client}
}

// HandleFindAgents searches the agent directory.
func (h *Handlers) HandleFindAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capabilities := req.GetString("capabilities", "")
	minReputation := req.GetString("min_reputation", "")
	network := req.GetString("network", "")
	maxPaymentRate := req.GetString("max_payment_rate", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.FindAgents(ctx, capabilities, minReputation, network, maxPaymentRate, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to find agents: %v", err)), nil
	}

	text, err := formatAgentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agents: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleRegisterAgent registers a new agent.
func (h *Handlers) HandleRegisterAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capabilities := splitCSV(req.GetString("capabilities", ""))
	if len(capabilities) == 0 {
		return mcp.NewToolResultError("capabilities is required"), nil
	}
	stake := req.GetString("stake_amount", "")
	if stake == "" {
		return mcp.NewToolResultError("stake_amount is required"), nil
	}

	owner := req.GetString("owner_address", "")
	if owner == "" {
		owner = h.client.cfg.AgentAddress
	}

	body := map[string]any{
		"ownerAddress": owner,
		"capabilities": capabilities,
		"stakeAmount":  stake,
	}
	if id := req.GetString("agent_id", ""); id != "" {
		body["agentId"] = id
	}
	if rate := req.GetString("payment_rate", ""); rate != "" {
		body["paymentRate"] = rate
	}

	raw, err := h.client.RegisterAgent(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Registration failed: %v", err)), nil
	}

	text, err := formatAgentProfile(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agent: %v", err)), nil
	}

	// The API never repeats the key, so relay it while we have it.
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil {
		if key := getString(m, "apiKey"); key != "" {
			text += fmt.Sprintf("\nAPI key: %s (save it now; it will not be shown again)", key)
		}
	}

	return mcp.NewToolResultText("Agent registered.\n\n" + text), nil
}

// HandleGetAgent fetches one agent profile.
func (h *Handlers) HandleGetAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	raw, err := h.client.GetAgent(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get agent: %v", err)), nil
	}

	text, err := formatAgentProfile(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agent: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetReputation returns the reputation score for an agent.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	text, err := formatReputation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCreateEscrow locks funds for milestone work.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	conditions := splitCSV(req.GetString("milestone_conditions", ""))
	if len(conditions) == 0 {
		return mcp.NewToolResultError("milestone_conditions is required"), nil
	}

	percentages, err := parsePercentages(req.GetString("milestone_percentages", ""), len(conditions))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	milestones := make([]map[string]any, len(conditions))
	for i, cond := range conditions {
		milestones[i] = map[string]any{
			"percentage":  percentages[i],
			"conditionId": normalizeCondition(cond),
		}
	}

	deadlineMinutes := req.GetInt("deadline_minutes", 60)
	if deadlineMinutes <= 0 {
		deadlineMinutes = 60
	}

	body := map[string]any{
		"requesterAddress": h.client.cfg.AgentAddress,
		"agentId":          agentID,
		"paymentAmount":    amount,
		"milestones":       milestones,
		"deadline":         time.Now().Add(time.Duration(deadlineMinutes) * time.Minute).UTC(),
	}
	if currency := req.GetString("currency", ""); currency != "" {
		body["currency"] = currency
	}

	raw, err := h.client.CreateEscrow(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Escrow creation failed: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText("Escrow created. Funds are locked until milestones complete.\n\n" + text), nil
}

// HandleGetEscrow inspects an escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSubmitMilestoneProof submits a proof and reports the release.
func (h *Handlers) HandleSubmitMilestoneProof(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	index := req.GetInt("milestone_index", -1)
	if index < 0 {
		return mcp.NewToolResultError("milestone_index is required"), nil
	}
	proof := req.GetString("proof", "")
	if proof == "" {
		return mcp.NewToolResultError("proof is required"), nil
	}

	raw, err := h.client.SubmitProof(ctx, escrowID, index, proof)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Proof submission failed: %v", err)), nil
	}

	text, err := formatReleaseOutcome(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse outcome: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCancelEscrow cancels an untouched escrow for a refund.
func (h *Handlers) HandleCancelEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.CancelEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Cancel failed: %v", err)), nil
	}

	var e map[string]any
	amount := ""
	if json.Unmarshal(raw, &e) == nil {
		amount = getString(e, "paymentAmount")
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s cancelled.\n"+
			"Refunded: %s\n"+
			"The locked funds are back in your balance.",
		escrowID, amount)), nil
}

// HandleCheckRoute checks cross-network settlement for an agent.
func (h *Handlers) HandleCheckRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	from := req.GetString("from_network", "")
	to := req.GetString("to_network", "")
	if from == "" || to == "" {
		return mcp.NewToolResultError("from_network and to_network are required"), nil
	}

	raw, err := h.client.CheckRoute(ctx, agentID, from, to)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Route check failed: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse route: %v", err)), nil
	}

	protocol := getString(m, "protocol")
	if protocol == "native" {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Route OK: %s can settle %s -> %s natively (same network).", agentID, from, to)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Route OK: %s can settle %s -> %s via the %s bridge.", agentID, from, to, protocol)), nil
}

// HandleClaimRewards pays out accumulated revenue rewards.
func (h *Handlers) HandleClaimRewards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ClaimRewards(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Claim failed: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse claim: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Rewards claimed.\n"+
			"Amount: %s\n"+
			"Payment ref: %s\n"+
			"Through period: %s",
		getString(m, "amount"), getString(m, "txRef"), getString(m, "periodId"))), nil
}

// HandleGetRevenueShare checks a holder's share and accrued rewards.
func (h *Handlers) HandleGetRevenueShare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		address = h.client.cfg.AgentAddress
	}

	raw, err := h.client.GetRevenueShare(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get revenue share: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse share: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Revenue Share:\n")
	sb.WriteString(fmt.Sprintf("  Holder: %s\n", getString(m, "recipientAddress")))
	sb.WriteString(fmt.Sprintf("  Participation tokens: %s\n", getString(m, "participationTokens")))
	if v, ok := getFloat(m, "contributionScore"); ok {
		sb.WriteString(fmt.Sprintf("  Contribution score: %.2f\n", v))
	}
	sb.WriteString(fmt.Sprintf("  Unclaimed rewards: %s\n", getString(m, "accumulatedRewards")))
	sb.WriteString(fmt.Sprintf("  Last claim period: %s\n", getString(m, "lastClaimPeriod")))

	return mcp.NewToolResultText(sb.String()), nil
}

// --- Request parsing helpers ---

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeCondition passes schemed condition IDs through and hashes
// plain values into hash:<sha256 hex>.
func normalizeCondition(cond string) string {
	if strings.Contains(cond, ":") {
		return cond
	}
	sum := sha256.Sum256([]byte(cond))
	return "hash:" + hex.EncodeToString(sum[:])
}

// parsePercentages parses a comma-separated percentage list, or builds
// an even split over n milestones when the list is empty.
func parsePercentages(s string, n int) ([]int, error) {
	if s == "" {
		base := 100 / n
		rem := 100 % n
		out := make([]int, n)
		for i := range out {
			out[i] = base
			if i < rem {
				out[i]++
			}
		}
		return out, nil
	}

	parts := splitCSV(s)
	if len(parts) != n {
		return nil, fmt.Errorf("milestone_percentages has %d values but there are %d conditions", len(parts), n)
	}
	out := make([]int, n)
	sum := 0
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("milestone_percentages: %q is not a positive integer", p)
		}
		out[i] = v
		sum += v
	}
	if sum != 100 {
		return nil, fmt.Errorf("milestone_percentages must sum to 100, got %d", sum)
	}
	return out, nil
}

// --- Formatting helpers ---

type agentInfo struct {
	ID           string
	Owner        string
	Capabilities []string
	Tier         string
	Stake        string
	Reputation   float64
	PaymentRate  string
}

func formatAgentList(raw json.RawMessage) (string, error) {
	agents, err := parseAgents(raw)
	if err != nil {
		return "", err
	}
	if len(agents) == 0 {
		return "No agents found matching your criteria.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d agent(s):\n\n", len(agents)))
	for i, a := range agents {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, a.ID))
		sb.WriteString(fmt.Sprintf("   Capabilities: %s\n", strings.Join(a.Capabilities, ", ")))
		sb.WriteString(fmt.Sprintf("   Tier: %s | Stake: %s | Reputation: %.2f\n", a.Tier, a.Stake, a.Reputation))
		if a.PaymentRate != "" {
			sb.WriteString(fmt.Sprintf("   Rate: %s per task\n", a.PaymentRate))
		}
		if i < len(agents)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func parseAgents(raw json.RawMessage) ([]agentInfo, error) {
	// Try as {"agents": [...]}
	var wrapper struct {
		Agents []json.RawMessage `json:"agents"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Agents != nil {
		return parseAgentItems(wrapper.Agents)
	}

	// Try as direct array
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return parseAgentItems(arr)
	}

	return nil, fmt.Errorf("unexpected agents response format")
}

func parseAgentItems(items []json.RawMessage) ([]agentInfo, error) {
	var agents []agentInfo
	for _, item := range items {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		a := agentInfo{
			ID:          getString(m, "agentId", "id"),
			Owner:       getString(m, "ownerAddress"),
			Tier:        getString(m, "stakeTier"),
			Stake:       getString(m, "stakedAmount", "stakeAmount"),
			PaymentRate: getString(m, "paymentRate"),
		}
		if caps, ok := m["capabilities"].([]any); ok {
			for _, c := range caps {
				if s, ok := c.(string); ok {
					a.Capabilities = append(a.Capabilities, s)
				}
			}
		}
		if v, ok := getFloat(m, "reputationScore"); ok {
			a.Reputation = v
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func formatAgentProfile(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Agent Profile:\n")
	sb.WriteString(fmt.Sprintf("  ID: %s\n", getString(m, "agentId", "id")))
	sb.WriteString(fmt.Sprintf("  Owner: %s\n", getString(m, "ownerAddress")))
	if caps, ok := m["capabilities"].([]any); ok {
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			if s, ok := c.(string); ok {
				names = append(names, s)
			}
		}
		sb.WriteString(fmt.Sprintf("  Capabilities: %s\n", strings.Join(names, ", ")))
	}
	sb.WriteString(fmt.Sprintf("  Stake: %s (%s tier)\n", getString(m, "stakedAmount"), getString(m, "stakeTier")))
	if v, ok := getFloat(m, "reputationScore"); ok {
		sb.WriteString(fmt.Sprintf("  Reputation: %.2f\n", v))
	}
	if total, ok := getFloat(m, "totalExecutions"); ok && total > 0 {
		success, _ := getFloat(m, "successfulExecutions")
		sb.WriteString(fmt.Sprintf("  Executions: %.0f total, %.0f successful\n", total, success))
	}
	if rate := getString(m, "paymentRate"); rate != "" {
		sb.WriteString(fmt.Sprintf("  Rate: %s per task\n", rate))
	}

	return sb.String(), nil
}

func formatReputation(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Agent Reputation:\n")
	sb.WriteString(fmt.Sprintf("  Agent: %s\n", getString(m, "agentId")))
	if v, ok := getFloat(m, "score"); ok {
		sb.WriteString(fmt.Sprintf("  Score: %.3f\n", v))
	}

	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Escrow:\n")
	sb.WriteString(fmt.Sprintf("  ID: %s\n", getString(m, "id")))
	sb.WriteString(fmt.Sprintf("  State: %s\n", getString(m, "state")))
	sb.WriteString(fmt.Sprintf("  Agent: %s\n", getString(m, "agentId")))
	sb.WriteString(fmt.Sprintf("  Amount: %s %s\n", getString(m, "paymentAmount"), getString(m, "currency")))

	if milestones, ok := m["milestones"].([]any); ok {
		released := 0
		for _, item := range milestones {
			if ms, ok := item.(map[string]any); ok {
				if done, ok := ms["released"].(bool); ok && done {
					released++
				}
			}
		}
		sb.WriteString(fmt.Sprintf("  Milestones: %d of %d released\n", released, len(milestones)))
	}
	if deadline := getString(m, "deadline"); deadline != "" {
		sb.WriteString(fmt.Sprintf("  Deadline: %s\n", deadline))
	}

	return sb.String(), nil
}

func formatReleaseOutcome(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Milestone released.\n")
	sb.WriteString(fmt.Sprintf("  Amount paid: %s\n", getString(m, "amountReleased")))
	sb.WriteString(fmt.Sprintf("  Payment ref: %s\n", getString(m, "txRef")))
	if final, ok := m["finalRelease"].(bool); ok && final {
		sb.WriteString("  This was the last milestone; the escrow is fully released.\n")
	} else if escrow, ok := m["escrow"].(map[string]any); ok {
		sb.WriteString(fmt.Sprintf("  Escrow state: %s\n", getString(escrow, "state")))
	}

	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
