package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// mcpTransport dispatches a custom directive as a tool call against an
// MCP server launched over stdio, rather than treating the directive
// itself as the process to run. The server is started lazily on first
// use and kept alive for the session, since MCP's initialize handshake
// is not meant to be repeated per call.
type mcpTransport struct {
	spec HandlerSpec

	mu     sync.Mutex
	client *mcpclient.Client
}

const mcpClientName = "sdqctl"

// mcpClientVersion is reported to the server during the initialize
// handshake; it does not track this module's own version.
const mcpClientVersion = "1.0.0"

func (t *mcpTransport) ensureClient(ctx context.Context) (*mcpclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	c, err := mcpclient.NewStdioMCPClient(t.spec.Command, nil, t.spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", t.spec.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: mcpClientName, Version: mcpClientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize mcp server %q: %w", t.spec.Command, err)
	}

	t.client = c
	return c, nil
}

func (t *mcpTransport) call(ctx context.Context, workspace string, step wf.CustomStep, caps map[Capability]bool) (executor.PluginResult, error) {
	c, err := t.ensureClient(ctx)
	if err != nil {
		return executor.PluginResult{}, err
	}

	args := map[string]any{
		"name":      step.Name,
		"args":      step.Args,
		"workspace": workspace,
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.spec.Tool
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return executor.PluginResult{}, fmt.Errorf("call mcp tool %q: %w", t.spec.Tool, err)
	}

	return executor.PluginResult{Output: mcpResultText(result), Passed: !result.IsError}, nil
}

// mcpResultText concatenates every text content block in result,
// separated by newlines. Non-text content (images, embedded resources)
// is dropped: a directive handler's result is folded into the next
// prompt as plain text (spec §4.8), which non-text blocks cannot be.
func mcpResultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// close shuts down the MCP server this transport started, if any.
// Called from the registry at session teardown via Registry.Close.
func (t *mcpTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
