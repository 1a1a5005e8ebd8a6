package mcprouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// fixture serves configured names from in-process MCP servers. Names without
// a server fall through to DefaultTransports, so stdio configs pointing at a
// missing binary fail the way a broken descriptor would.
type fixture struct {
	mu       sync.Mutex
	servers  map[string]*mcp.Server
	delays   map[string]time.Duration
	sessions map[string][]*mcp.ServerSession
	conns    map[string][]mcp.Connection
}

func newFixture() *fixture {
	return &fixture{
		servers:  make(map[string]*mcp.Server),
		delays:   make(map[string]time.Duration),
		sessions: make(map[string][]*mcp.ServerSession),
		conns:    make(map[string][]mcp.Connection),
	}
}

func (f *fixture) add(name string, server *mcp.Server) *fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[name] = server
	return f
}

func (f *fixture) delay(name string, d time.Duration) *fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[name] = d
	return f
}

func (f *fixture) serverSessions(name string) []*mcp.ServerSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mcp.ServerSession(nil), f.sessions[name]...)
}

func (f *fixture) transports(name string, cfg ServerConfig) ([]mcp.Transport, error) {
	f.mu.Lock()
	server, ok := f.servers[name]
	delay := f.delays[name]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return DefaultTransports(name, cfg)
	}
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sessions[name] = append(f.sessions[name], ss)
	f.mu.Unlock()
	return []mcp.Transport{&recordingTransport{f: f, name: name, delegate: clientTransport}}, nil
}

// kill closes the client side of every connection opened for name without
// going through the client session, the way a crashed pipe would.
func (f *fixture) kill(name string) {
	f.mu.Lock()
	conns := append([]mcp.Connection(nil), f.conns[name]...)
	f.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

type recordingTransport struct {
	f        *fixture
	name     string
	delegate mcp.Transport
}

func (t *recordingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.f.mu.Lock()
	t.f.conns[t.name] = append(t.f.conns[t.name], conn)
	t.f.mu.Unlock()
	return conn, nil
}

func (f *fixture) options() *Options {
	return &Options{
		Transports:     f.transports,
		DefaultTimeout: 5 * time.Second,
		Logger:         discardLogger(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stdio returns a config whose name is served by the fixture; the command is
// never executed.
func stdio() *StdioServerConfig {
	return &StdioServerConfig{Command: "in-memory"}
}

// broken returns a descriptor that cannot start.
func broken() *StdioServerConfig {
	return &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 2 * time.Second},
		Command:          "/nonexistent/mcprouter-test-server",
	}
}

func configOf(servers ...NamedServer) *Config {
	return &Config{Servers: servers}
}

type emptyArgs struct{}

// toolServer returns a server whose tools answer with "<server>:<tool>".
func toolServer(name string, tools ...string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	for _, tool := range tools {
		addEchoTool(server, name, tool)
	}
	return server
}

func addEchoTool(server *mcp.Server, serverName, tool string) {
	reply := fmt.Sprintf("%s:%s", serverName, tool)
	mcp.AddTool(server, &mcp.Tool{Name: tool, Description: "echo " + tool},
		func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: reply}}}, nil, nil
		})
}

// addSlowTool registers a tool that blocks until its context ends.
func addSlowTool(server *mcp.Server, tool string) {
	mcp.AddTool(server, &mcp.Tool{Name: tool},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(10 * time.Second):
				return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "late"}}}, nil, nil
			}
		})
}

// addDyingTool registers a tool that calls kill while the call is in flight
// and never answers.
func addDyingTool(server *mcp.Server, tool string, kill func()) {
	mcp.AddTool(server, &mcp.Tool{Name: tool},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
			go kill()
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			return nil, nil, errors.New("connection dropped")
		})
}

// addRemoteErrorTool registers a tool that answers with a JSON-RPC error.
func addRemoteErrorTool(server *mcp.Server, tool string) {
	server.AddTool(&mcp.Tool{Name: tool, InputSchema: map[string]any{"type": "object"}},
		func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, &jsonrpc.Error{Code: -32000, Message: "upstream refused"}
		})
}

func connectRouter(t *testing.T, cfg *Config, opts *Options) (*Router, *ConnectResult, error) {
	t.Helper()
	router, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.CloseAll() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := router.ConnectAll(ctx)
	return router, result, err
}

func toolNames(tools []*mcp.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}
