// Package mcp discovers research tools from Model Context Protocol servers.
//
// Servers are spawned over stdio and driven with the mcp-go client. Each
// discovered tool is wrapped as a tools.Tool so the research stage can call
// it like any built-in tool.
//
// Information Hiding:
// - Process management and JSON-RPC framing hidden in mcp-go
// - Protocol handshake hidden behind Connect
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName    = "tsgpipe"
	clientVersion = "1.0.0"
)

// Session is the part of an MCP client the tool wrappers use.
type Session interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Connect spawns the server and completes the initialize handshake.
func Connect(ctx context.Context, server ServerConfig) (*client.Client, error) {
	c, err := client.NewStdioMCPClient(server.Command, server.environ(), server.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP server %q: %w", server.Command, err)
	}
	if err := Initialize(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Initialize performs the MCP handshake on an already started client.
func Initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("MCP initialize failed: %w", err)
	}
	return nil
}
