package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/richinex/tsgpipe/tools"
)

func newTestSession(t *testing.T) *client.Client {
	t.Helper()
	s := server.NewMCPServer("test-server", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo text back"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("echo: " + text), nil
	})
	s.AddTool(mcp.NewTool("outage", mcp.WithDescription("Always fails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("backend down"), nil
		})

	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("NewInProcessClient failed: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := Initialize(ctx, c); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return c
}

func discovered(t *testing.T) (*ToolManager, map[string]tools.Tool) {
	t.Helper()
	m := NewToolManager()
	if err := m.Add(context.Background(), newTestSession(t)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	byName := make(map[string]tools.Tool)
	for _, tool := range m.Tools() {
		byName[tool.Metadata().Name] = tool
	}
	return m, byName
}

func TestToolManagerDiscoversTools(t *testing.T) {
	_, byName := discovered(t)
	if len(byName) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(byName))
	}
	echo, ok := byName["echo"]
	if !ok {
		t.Fatal("echo tool not discovered")
	}
	meta := echo.Metadata()
	if meta.Description != "Echo text back" {
		t.Errorf("unexpected description %q", meta.Description)
	}
	if len(meta.Parameters) != 1 || meta.Parameters[0].Name != "text" || !meta.Parameters[0].Required {
		t.Errorf("unexpected parameters %+v", meta.Parameters)
	}
	if meta.JSONSchema()["type"] != "object" {
		t.Errorf("expected object schema, got %v", meta.JSONSchema())
	}
}

func TestToolWrapperExecute(t *testing.T) {
	_, byName := discovered(t)

	result, err := byName["echo"].Execute(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success() || result.Output != "echo: hi" {
		t.Errorf("unexpected result %+v", result)
	}

	result, err = byName["outage"].Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success() || !strings.Contains(result.Error.Error(), "backend down") {
		t.Errorf("expected tool error, got %+v", result)
	}
}

func TestToolWrapperValidate(t *testing.T) {
	_, byName := discovered(t)
	if err := byName["echo"].Validate(json.RawMessage(`not json`)); err == nil {
		t.Error("expected invalid JSON to be rejected")
	}
	if err := byName["echo"].Validate(json.RawMessage(`{"text":"x"}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToolManagerRegister(t *testing.T) {
	m, _ := discovered(t)
	r, err := tools.ForResearch(tools.ResearchOptions{})
	if err != nil {
		t.Fatalf("ForResearch failed: %v", err)
	}
	if err := m.Register(r); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	names := r.Names()
	if len(names) != 3 || names[0] != "echo" || names[1] != "fetch_url" || names[2] != "outage" {
		t.Errorf("unexpected registry %v", names)
	}
	if err := m.Register(r); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	data := `{"mcpServers":{"search":{"command":"npx","args":["-y","search"],"env":{"B":"2","A":"1"}},"docs":{"command":"docs-server"}}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if names := cfg.Names(); len(names) != 2 || names[0] != "docs" || names[1] != "search" {
		t.Errorf("unexpected names %v", names)
	}
	env := cfg.MCPServers["search"].environ()
	if len(env) != 2 || env[0] != "A=1" || env[1] != "B=2" {
		t.Errorf("unexpected env %v", env)
	}
	if cfg.MCPServers["docs"].environ() != nil {
		t.Error("expected nil env")
	}
}

func TestLoadConfigRejectsMissingCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{"bad":{"args":["x"]}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for server without command")
	}
}

func TestParseCommand(t *testing.T) {
	s, err := ParseCommand("  npx -y @scope/server  ")
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if s.Command != "npx" || len(s.Args) != 2 || s.Args[1] != "@scope/server" {
		t.Errorf("unexpected server %+v", s)
	}
	if _, err := ParseCommand("   "); err == nil {
		t.Error("expected error for empty command")
	}
}
