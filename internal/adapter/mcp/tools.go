package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listPendingTool(),
		s.decideTool(),
		s.getPolicyTool(),
		s.getTurnTool(),
	)
}

func (s *Server) listPendingTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_pending_approvals",
		mcplib.WithDescription("List desktop tool requests waiting for an approval decision"),
		mcplib.WithString("session_id",
			mcplib.Description("Only list requests of this chat session"),
		),
		mcplib.WithString("tool",
			mcplib.Description("Only list requests for this tool name"),
		),
		mcplib.WithBoolean("high_risk_only",
			mcplib.Description("Only list high-risk requests"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListPending}
}

func (s *Server) decideTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("decide_approval",
		mcplib.WithDescription("Approve or deny a pending desktop tool request"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The desktop request ID"),
		),
		mcplib.WithString("decision",
			mcplib.Required(),
			mcplib.Enum("approved", "denied"),
		),
		mcplib.WithString("decided_by",
			mcplib.Description("Who made the decision"),
		),
		mcplib.WithString("note",
			mcplib.Description("Optional note stored with the decision"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDecide}
}

func (s *Server) getPolicyTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_policy",
		mcplib.WithDescription("Get the approval policy settings, or the evaluation for one tool"),
		mcplib.WithString("tool",
			mcplib.Description("Evaluate the effective policy and risk for this tool name"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetPolicy}
}

func (s *Server) getTurnTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_turn",
		mcplib.WithDescription("Get a turn with its answer and tool-call timeline"),
		mcplib.WithString("turn_id",
			mcplib.Required(),
			mcplib.Description("The turn ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTurn}
}

func stringArg(req mcplib.CallToolRequest, name string) string { //nolint:gocritic // hugeParam: mcp-go request type
	v, _ := req.GetArguments()[name].(string)
	return strings.TrimSpace(v)
}

func (s *Server) handleListPending(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Turns == nil {
		return mcplib.NewToolResultError("turn reader not configured"), nil
	}
	var level risk.Level
	if high, _ := req.GetArguments()["high_risk_only"].(bool); high {
		level = risk.High
	}
	return jsonResult(service.FilterPending(s.deps.Turns.Pending(stringArg(req, "session_id")), stringArg(req, "tool"), level))
}

func (s *Server) handleDecide(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decider == nil {
		return mcplib.NewToolResultError("decider not configured"), nil
	}
	requestID := stringArg(req, "request_id")
	if requestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	d, err := approval.ParseDecision(stringArg(req, "decision"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid decision", err), nil
	}
	resolved, err := s.deps.Decider.Decide(ctx, requestID, d == approval.DecisionApproved,
		approval.SourcePanel, stringArg(req, "decided_by"), stringArg(req, "note"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to decide %s", requestID), err), nil
	}
	return jsonResult(map[string]any{"request_id": requestID, "decision": d, "resolved": resolved})
}

func (s *Server) handleGetPolicy(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Policies == nil {
		return mcplib.NewToolResultError("policies not configured"), nil
	}
	if tool := stringArg(req, "tool"); tool != "" {
		return jsonResult(s.deps.Policies.Evaluate(tool, nil))
	}
	return jsonResult(s.deps.Policies.Settings())
}

func (s *Server) handleGetTurn(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Turns == nil {
		return mcplib.NewToolResultError("turn reader not configured"), nil
	}
	turnID := stringArg(req, "turn_id")
	if turnID == "" {
		return mcplib.NewToolResultError("turn_id is required"), nil
	}
	t, err := s.deps.Turns.Get(ctx, turnID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get turn %s", turnID), err), nil
	}
	return jsonResult(t)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
