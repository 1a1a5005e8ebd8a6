package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

// Gateway exposes a Streamable MCP server that re-publishes the merged tool
// namespace of a Router under a single HTTP endpoint.
type Gateway struct {
	router *mcprouter.Router
	opts   Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	serverMu sync.Mutex
	exposed  map[string]string // exposed tool name -> origin server

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, mirrors the router's current registry, and
// follows every later registry change.
func NewGateway(router *mcprouter.Router, opts *Options) (*Gateway, error) {
	if router == nil {
		return nil, fmt.Errorf("mcpgateway: router is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		router:  router,
		opts:    options,
		exposed: make(map[string]string),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()

	router.OnRegistryChange(func(*mcprouter.Registry) { g.Sync() })
	g.Sync()
	return g, nil
}

// Handler exposes the HTTP handler that serves the gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux returns the mux backing Handler so callers can mount extra routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the downstream MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Options returns the effective options after defaults were applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Sync reconciles the downstream tool list with the router's current
// registry. Tools that left the registry are removed and tools that are new,
// or now owned by a different server, are (re)registered.
func (g *Gateway) Sync() {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	// Read under the lock so concurrent hooks never publish an older registry
	// after a newer one.
	routes := g.router.Registry().Routes()
	next := make(map[string]string, len(routes))
	tools := make(map[string]*mcp.Tool, len(routes))
	for _, route := range routes {
		tool, err := downstreamTool(route.Tool)
		if err != nil {
			g.opts.Logger.Warn("skipping tool", "tool", route.Name, "server", route.Server, "error", err)
			continue
		}
		next[route.Name] = route.Server
		tools[route.Name] = tool
	}

	var removed []string
	for name := range g.exposed {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	added := 0
	for _, route := range routes {
		tool, ok := tools[route.Name]
		if !ok {
			continue
		}
		if owner, ok := g.exposed[route.Name]; ok && owner == route.Server {
			continue
		}
		g.server.AddTool(tool, g.makeToolHandler(route.Name))
		added++
	}
	g.exposed = next
	if len(removed) > 0 || added > 0 {
		g.opts.Logger.Debug("gateway tools synced", "added", added, "removed", len(removed), "total", len(next))
	}
}

// Tools lists the names currently published downstream.
func (g *Gateway) Tools() []string {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	names := make([]string, 0, len(g.exposed))
	for name := range g.exposed {
		names = append(names, name)
	}
	return names
}

func (g *Gateway) makeToolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(nil)
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		res, err := g.router.CallTool(ctx, name, args)
		if err != nil {
			g.logError("call tool", err, "tool", name)
			return errorResult(err), nil
		}
		return res, nil
	}
}

// errorResult reports a routing failure to the downstream client as a tool
// error that starts with the failure kind.
func errorResult(err error) *mcp.CallToolResult {
	text := strings.TrimPrefix(err.Error(), "mcprouter: ")
	if kind := string(mcprouter.KindOf(err)); kind != "" && !strings.HasPrefix(text, kind) {
		text = kind + ": " + text
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// downstreamTool copies an upstream descriptor into the shape mcp.Server
// accepts. An input schema without a type is treated as an object schema and
// an output schema that does not describe an object is dropped. An input
// schema typed as anything other than an object cannot be served.
func downstreamTool(tool *mcp.Tool) (*mcp.Tool, error) {
	out := *tool
	input, err := schemaObject(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	switch typ, ok := input["type"]; {
	case !ok || typ == nil:
		input["type"] = "object"
	case typ != "object":
		return nil, fmt.Errorf("input schema has type %v, want object", typ)
	}
	out.InputSchema = input

	if tool.OutputSchema != nil {
		output, err := schemaObject(tool.OutputSchema)
		if err != nil || output == nil || output["type"] != "object" {
			out.OutputSchema = nil
		} else {
			out.OutputSchema = output
		}
	}
	return &out, nil
}

// schemaObject decodes a schema of any representation into a fresh map.
func schemaObject(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var handler http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		handler = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(handler)
	}

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	if path != "/" && !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", handler)
	}
	if g.opts.TokenVerifier != nil || g.opts.AuthorizationServer != "" {
		mux.Handle(protectedResourcePath, g.protectedResourceHandler(path))
	}
	if g.opts.MetricsHandler != nil {
		mux.Handle(g.opts.MetricsPath, g.opts.MetricsHandler)
	}
	return mux
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
