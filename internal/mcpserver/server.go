package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Accord tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("accord", "1.0.0")
	client := NewAccordClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolFindAgents, h.HandleFindAgents)
	s.AddTool(ToolRegisterAgent, h.HandleRegisterAgent)
	s.AddTool(ToolGetAgent, h.HandleGetAgent)
	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolSubmitMilestoneProof, h.HandleSubmitMilestoneProof)
	s.AddTool(ToolCancelEscrow, h.HandleCancelEscrow)
	s.AddTool(ToolCheckRoute, h.HandleCheckRoute)
	s.AddTool(ToolClaimRewards, h.HandleClaimRewards)
	s.AddTool(ToolGetRevenueShare, h.HandleGetRevenueShare)

	return s
}
