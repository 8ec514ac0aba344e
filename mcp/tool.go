// MCP Tool Wrapper - Makes MCP tools usable in the research stage.
//
// Information Hiding:
// - Session lifecycle hidden
// - Schema conversion hidden
// - Result content flattening hidden

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/multierr"

	"github.com/richinex/tsgpipe/tools"
)

// ToolManager owns the sessions behind a set of discovered tools.
// The caller must call Close() when done to release resources.
type ToolManager struct {
	sessions []Session
	tools    []tools.Tool
}

// NewToolManager creates an empty manager.
func NewToolManager() *ToolManager {
	return &ToolManager{}
}

// Tools returns the discovered tools.
func (m *ToolManager) Tools() []tools.Tool {
	return m.tools
}

// Add lists the session's tools and takes ownership of the session.
func (m *ToolManager) Add(ctx context.Context, s Session) error {
	result, err := s.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}
	m.sessions = append(m.sessions, s)
	for _, t := range result.Tools {
		m.tools = append(m.tools, newToolWrapper(s, t))
	}
	return nil
}

// Register adds every discovered tool to the registry.
func (m *ToolManager) Register(r *tools.Registry) error {
	for _, t := range m.tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every session and releases resources.
func (m *ToolManager) Close() error {
	var err error
	for _, s := range m.sessions {
		err = multierr.Append(err, s.Close())
	}
	m.sessions = nil
	return err
}

// DiscoverFromConfig connects to every configured server, in name order.
func DiscoverFromConfig(ctx context.Context, cfg *Config) (*ToolManager, error) {
	servers := make([]ServerConfig, 0, len(cfg.MCPServers))
	for _, name := range cfg.Names() {
		servers = append(servers, cfg.MCPServers[name])
	}
	return discover(ctx, servers)
}

func discover(ctx context.Context, servers []ServerConfig) (*ToolManager, error) {
	m := NewToolManager()
	for _, server := range servers {
		c, err := Connect(ctx, server)
		if err != nil {
			return nil, multierr.Append(err, m.Close())
		}
		if err := m.Add(ctx, c); err != nil {
			return nil, multierr.Append(err, m.Close())
		}
	}
	return m, nil
}

// toolWrapper exposes one MCP tool through the tools.Tool interface.
type toolWrapper struct {
	session     Session
	name        string
	description string
	schema      map[string]interface{}
}

func newToolWrapper(s Session, t mcp.Tool) *toolWrapper {
	return &toolWrapper{
		session:     s,
		name:        t.Name,
		description: t.Description,
		schema:      schemaMap(t),
	}
}

// schemaMap renders the tool's input schema as a generic JSON object.
func schemaMap(t mcp.Tool) map[string]interface{} {
	raw := t.RawInputSchema
	if raw == nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (w *toolWrapper) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        w.name,
		Description: w.description,
		Parameters:  parseParameters(w.schema),
		Schema:      w.schema,
	}
}

// parseParameters lists the schema's properties in sorted order.
func parseParameters(schema map[string]interface{}) []tools.ToolParameter {
	props, _ := schema["properties"].(map[string]interface{})
	required := make(map[string]bool)
	switch req := schema["required"].(type) {
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]interface{})
		paramType, _ := prop["type"].(string)
		if paramType == "" {
			paramType = "string"
		}
		description, _ := prop["description"].(string)
		params = append(params, tools.ToolParameter{
			Name:        name,
			ParamType:   paramType,
			Description: description,
			Required:    required[name],
		})
	}
	return params
}

// Validate validates that arguments are a JSON object.
// Schema validation is performed by the MCP server.
func (w *toolWrapper) Validate(args json.RawMessage) error {
	_, err := decodeArgs(args)
	return err
}

// Execute calls the MCP tool over the shared session.
func (w *toolWrapper) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	arguments, err := decodeArgs(args)
	if err != nil {
		return tools.FailureResult(err), nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = arguments

	result, err := w.session.CallTool(ctx, req)
	if err != nil {
		return tools.ToolResult{}, fmt.Errorf("tool call failed: %w", err)
	}
	return formatResult(result), nil
}

func decodeArgs(args json.RawMessage) (map[string]interface{}, error) {
	if len(args) == 0 {
		return map[string]interface{}{}, nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if v == nil {
		v = map[string]interface{}{}
	}
	return v, nil
}

// formatResult flattens the content blocks into text. Structured content
// is used when the server sent no text.
func formatResult(result *mcp.CallToolResult) tools.ToolResult {
	var parts []string
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
			continue
		}
		if b, err := json.Marshal(c); err == nil {
			parts = append(parts, string(b))
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if b, err := json.MarshalIndent(result.StructuredContent, "", "  "); err == nil {
			parts = append(parts, string(b))
		}
	}

	out := strings.Join(parts, "\n")
	if result.IsError {
		if out == "" {
			out = "tool reported an error"
		}
		return tools.FailureResult(errors.New(out))
	}
	return tools.SuccessResult(out)
}
