// Copyright 2026 The Servo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPConfig describes a stdio MCP server process.
type MCPConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// MCPSource discovers and invokes tools over an MCP stdio connection.
type MCPSource struct {
	cfg    MCPConfig
	client *client.Client
}

// NewMCPSource launches the server process and completes the MCP handshake.
func NewMCPSource(ctx context.Context, cfg MCPConfig) (*MCPSource, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP server %q: %w", cfg.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to connect to MCP server %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "servo",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP server %q: %w", cfg.Name, err)
	}

	slog.Info("Connected to MCP server", "server", cfg.Name, "command", cfg.Command)
	return &MCPSource{cfg: cfg, client: mcpClient}, nil
}

// Name returns the configured server name.
func (s *MCPSource) Name() string {
	return s.cfg.Name
}

// Discover lists the server's tools.
func (s *MCPSource) Discover(ctx context.Context) ([]Tool, error) {
	listResp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from %q: %w", s.cfg.Name, err)
	}

	discovered := make([]Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			slog.Warn("Skipping MCP tool with unencodable schema",
				"server", s.cfg.Name, "tool", t.Name, "error", err)
			continue
		}
		discovered = append(discovered, &mcpTool{
			source: s,
			info: ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: string(schema),
				ServerName:  s.cfg.Name,
			},
		})
	}
	return discovered, nil
}

// Close terminates the server connection.
func (s *MCPSource) Close() error {
	return s.client.Close()
}

type mcpTool struct {
	source *MCPSource
	info   ToolInfo
}

func (t *mcpTool) Info() ToolInfo {
	return t.info
}

// Call invokes the remote tool. Arguments travel as JSON; the result's text
// blocks concatenate, non-text content collapses to placeholders.
func (t *mcpTool) Call(ctx context.Context, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = args

	resp, err := t.source.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %q failed: %w", t.info.Name, err)
	}

	text := flattenContent(resp.Content)
	if resp.IsError {
		return nil, fmt.Errorf("MCP tool %q reported an error: %s", t.info.Name, text)
	}
	return text, nil
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s]", c.MIMEType))
		case mcp.EmbeddedResource:
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, "[unsupported content]")
		}
	}
	return strings.Join(parts, "\n")
}
