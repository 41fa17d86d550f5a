package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/rapp-os/brainstem/capability"
)

// Caller identity headers. MCP tool calls carry no user fields of their
// own, so capabilities invoked through the bridge read identity from these.
const (
	headerUser    = "X-Rapp-User-Guid"
	headerContext = "X-Rapp-Context-Guid"
	headerSession = "X-Rapp-Session-Guid"
)

// mcpBridge publishes the loaded capabilities as MCP tools. The tool set
// follows the registry: it is refreshed on the first request after a reload.
// Calls run under the context named by headerContext and only reach
// capabilities that context allows.
type mcpBridge struct {
	registry Registry
	contexts ContextStore
	server   *mcpserver.MCPServer
	http     http.Handler

	mu     sync.Mutex
	synced uint64
	primed bool
}

func newMCPBridge(registry Registry, contexts ContextStore, version string) *mcpBridge {
	s := mcpserver.NewMCPServer(
		serviceName,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	b := &mcpBridge{registry: registry, contexts: contexts, server: s}
	b.http = mcpserver.NewStreamableHTTPServer(s,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(invocationFromHeaders),
	)
	b.sync()
	return b
}

func (b *mcpBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.sync()
	b.http.ServeHTTP(w, r)
}

// sync replaces the tool set when the registry snapshot has changed.
func (b *mcpBridge) sync() {
	snap := b.registry.Snapshot()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.primed && snap.Generation() == b.synced {
		return
	}

	list := snap.List()
	tools := make([]mcpserver.ServerTool, 0, len(list))
	for _, d := range list {
		tools = append(tools, mcpserver.ServerTool{Tool: toolFor(d), Handler: b.handler(d.Name)})
	}
	b.server.SetTools(tools...)
	b.synced = snap.Generation()
	b.primed = true
}

func toolFor(d capability.Descriptor) mcp.Tool {
	schema, err := json.Marshal(d.Parameters)
	if err != nil || len(d.Parameters) == 0 {
		schema = []byte(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(d.Name, d.Description, schema)
}

// handler resolves the caller's context and name against the current
// snapshots at call time, so a capability removed by a reload fails cleanly
// instead of running stale code.
func (b *mcpBridge) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inv, _ := capability.InvocationFrom(ctx)
		if inv.ContextID == "" {
			return mcp.NewToolResultError(headerContext + " header required"), nil
		}
		c, err := b.contexts.Snapshot().Resolve(inv.ContextID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !c.Allows(name) {
			return mcp.NewToolResultError(fmt.Sprintf("%s not allowed in context %s", name, c.ID)), nil
		}

		d, err := b.registry.Snapshot().Resolve(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out := b.registry.Invoke(ctx, d, req.GetArguments())
		if !out.Succeeded() {
			return mcp.NewToolResultError(string(out.Status) + ": " + out.Error), nil
		}
		return mcp.NewToolResultText(out.Output), nil
	}
}

func invocationFromHeaders(ctx context.Context, r *http.Request) context.Context {
	return capability.WithInvocation(ctx, capability.Invocation{
		UserID:    r.Header.Get(headerUser),
		SessionID: r.Header.Get(headerSession),
		ContextID: r.Header.Get(headerContext),
	})
}
