// MCP server configuration file support.
//
// Uses the common mcpServers format:
//
//	{
//	  "mcpServers": {
//	    "search": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-brave-search"],
//	      "env": {"BRAVE_API_KEY": "..."}
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for name, server := range config.MCPServers {
		if strings.TrimSpace(server.Command) == "" {
			return nil, fmt.Errorf("MCP server %q has no command", name)
		}
	}

	return &config, nil
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseCommand turns a --mcp flag value ("cmd arg1 arg2") into a server
// config.
func ParseCommand(command string) (ServerConfig, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ServerConfig{}, fmt.Errorf("empty MCP server command")
	}
	return ServerConfig{Command: fields[0], Args: fields[1:]}, nil
}

// environ renders Env as KEY=VALUE pairs in a stable order.
func (s ServerConfig) environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}
