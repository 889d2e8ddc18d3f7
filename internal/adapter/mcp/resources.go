package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriPolicy  = "deskgate://policy"
	uriPending = "deskgate://approvals/pending"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(uriPolicy, "Approval Policy",
			mcplib.WithResourceDescription("Global approval policy and per-tool overrides"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
	s.mcpServer.AddResource(
		mcplib.NewResource(uriPending, "Pending Approvals",
			mcplib.WithResourceDescription("Desktop tool requests waiting for a decision"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)
}

func (s *Server) handlePolicyResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Policies == nil {
		return jsonContents(req.Params.URI, map[string]string{"error": "policies not configured"})
	}
	return jsonContents(req.Params.URI, s.deps.Policies.Settings())
}

func (s *Server) handlePendingResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Turns == nil {
		return jsonContents(req.Params.URI, map[string]string{"error": "turn reader not configured"})
	}
	return jsonContents(req.Params.URI, s.deps.Turns.Pending(""))
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
