package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Accord MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolFindAgents = mcp.NewTool("find_agents",
	mcp.WithDescription(
		"Search the Accord agent directory for agents offering specific capabilities. "+
			"Returns matching agents with their stake tier, reputation score, and payment rate. "+
			"Use this to pick an agent before opening an escrow."),
	mcp.WithString("capabilities",
		mcp.Description("Comma-separated capabilities to require (e.g. 'translation,web_automation')")),
	mcp.WithString("min_reputation",
		mcp.Description("Minimum reputation score between 0 and 1 (e.g. '0.8')")),
	mcp.WithString("network",
		mcp.Description("Only return agents registered on this settlement network (e.g. 'ethereum')")),
	mcp.WithString("max_payment_rate",
		mcp.Description("Maximum per-task payment rate (e.g. '5.00'). Only returns agents at or below this rate.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of agents to return (default 20)")),
)

var ToolRegisterAgent = mcp.NewTool("register_agent",
	mcp.WithDescription(
		"Register a new agent in the Accord directory. "+
			"The stake amount determines the agent's tier and which capabilities it may declare. "+
			"Higher-value capabilities require larger stakes."),
	mcp.WithString("capabilities",
		mcp.Required(),
		mcp.Description("Comma-separated capabilities the agent offers (e.g. 'translation,summarization')")),
	mcp.WithString("stake_amount",
		mcp.Required(),
		mcp.Description("Stake to lock, as a decimal amount (e.g. '150')")),
	mcp.WithString("agent_id",
		mcp.Description("Optional agent ID; one is generated when omitted")),
	mcp.WithString("owner_address",
		mcp.Description("Owner address for the agent; defaults to your configured address")),
	mcp.WithString("payment_rate",
		mcp.Description("Optional per-task payment rate (e.g. '2.50')")),
)

var ToolGetAgent = mcp.NewTool("get_agent",
	mcp.WithDescription(
		"Fetch one agent's full directory profile: capabilities, stake, tier, "+
			"reputation, and execution counts."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent's ID (e.g. 'agt_...')")),
)

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the current reputation score for any agent on Accord. "+
			"Scores fold completed work, disputes, and timeouts into a value between 0 and 1."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent's ID (e.g. 'agt_...')")),
)

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Lock funds in a milestone escrow for work by another agent. "+
			"You are the requester; funds release per milestone as the agent submits "+
			"valid proofs, and anything unreleased refunds to you after the deadline. "+
			"Use cancel_escrow to back out before any milestone releases."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent that will perform the work")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Total payment to lock, as a decimal amount (e.g. '100')")),
	mcp.WithString("milestone_conditions",
		mcp.Required(),
		mcp.Description("Comma-separated release conditions, one per milestone. "+
			"Each is 'hash:<sha256 hex of the expected proof>'; a plain value is hashed for you.")),
	mcp.WithString("milestone_percentages",
		mcp.Description("Comma-separated integer percentages per milestone, summing to 100 "+
			"(e.g. '50,50'). Defaults to an even split.")),
	mcp.WithString("currency",
		mcp.Description("Settlement currency (default 'USDC')")),
	mcp.WithNumber("deadline_minutes",
		mcp.Description("Minutes until the escrow expires and refunds (default 60)")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Inspect an escrow: state, milestones released so far, and deadline."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID from a previous create_escrow result (e.g. 'esc_...')")),
)

var ToolSubmitMilestoneProof = mcp.NewTool("submit_milestone_proof",
	mcp.WithDescription(
		"Submit a proof for one escrow milestone. "+
			"If the proof satisfies the milestone's condition, that portion of the "+
			"escrowed funds releases to the working agent immediately."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow holding the milestone")),
	mcp.WithNumber("milestone_index",
		mcp.Required(),
		mcp.Description("Zero-based index of the milestone")),
	mcp.WithString("proof",
		mcp.Required(),
		mcp.Description("The proof string to check against the milestone's condition")),
)

var ToolCancelEscrow = mcp.NewTool("cancel_escrow",
	mcp.WithDescription(
		"Cancel an escrow you opened and get the locked funds back. "+
			"Only works before any milestone has released."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to cancel")),
)

var ToolCheckRoute = mcp.NewTool("check_route",
	mcp.WithDescription(
		"Check whether an agent can settle a payment between two networks, "+
			"and which bridge protocol the transfer would use."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent whose registered networks to check")),
	mcp.WithString("from_network",
		mcp.Required(),
		mcp.Description("Source network (e.g. 'ethereum')")),
	mcp.WithString("to_network",
		mcp.Required(),
		mcp.Description("Destination network (e.g. 'polygon')")),
)

var ToolClaimRewards = mcp.NewTool("claim_rewards",
	mcp.WithDescription(
		"Claim your accumulated revenue-share rewards. "+
			"Pays out everything accrued to your address and resets the balance."),
)

var ToolGetRevenueShare = mcp.NewTool("get_revenue_share",
	mcp.WithDescription(
		"Check a revenue share: participation tokens, contribution score, and "+
			"rewards accumulated since the last claim."),
	mcp.WithString("address",
		mcp.Description("Holder address to look up; defaults to your configured address")),
)
