package mcpgateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

type upstream struct {
	name   string
	server *mcp.Server
	// tools, when set, replaces server with a bare JSON-RPC peer that
	// advertises these descriptors verbatim.
	tools []map[string]any
}

// newTestRouter connects a router to in-process servers. An upstream with
// neither a server nor raw tools is configured but can never be reached.
func newTestRouter(t *testing.T, upstreams ...upstream) *mcprouter.Router {
	t.Helper()
	servers := make(map[string]*mcp.Server, len(upstreams))
	raw := make(map[string][]map[string]any)
	cfg := &mcprouter.Config{}
	for _, u := range upstreams {
		servers[u.name] = u.server
		if u.tools != nil {
			raw[u.name] = u.tools
		}
		cfg.Servers = append(cfg.Servers, mcprouter.NamedServer{
			Name:   u.name,
			Server: &mcprouter.StdioServerConfig{Command: "in-memory"},
		})
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = append(cfg.Servers, mcprouter.NamedServer{
			Name:   "none",
			Server: &mcprouter.StdioServerConfig{Command: "in-memory"},
		})
	}
	router, err := mcprouter.New(cfg, &mcprouter.Options{
		DefaultTimeout: 5 * time.Second,
		Logger:         discardLogger(),
		Transports: func(name string, _ mcprouter.ServerConfig) ([]mcp.Transport, error) {
			if tools, ok := raw[name]; ok {
				serverTransport, clientTransport := mcp.NewInMemoryTransports()
				conn, err := serverTransport.Connect(context.Background())
				if err != nil {
					return nil, err
				}
				go serveRawTools(conn, tools)
				return []mcp.Transport{clientTransport}, nil
			}
			server := servers[name]
			if server == nil {
				return nil, fmt.Errorf("upstream %s unavailable", name)
			}
			serverTransport, clientTransport := mcp.NewInMemoryTransports()
			if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
				return nil, err
			}
			return []mcp.Transport{clientTransport}, nil
		},
	})
	if err != nil {
		t.Fatalf("mcprouter.New: %v", err)
	}
	t.Cleanup(func() { _ = router.CloseAll() })
	if len(upstreams) == 0 {
		return router
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = router.ConnectAll(ctx)
	return router
}

// serveRawTools answers initialize and tools/list on conn without any schema
// checks, the way a server written against another SDK might.
func serveRawTools(conn mcp.Connection, tools []map[string]any) {
	ctx := context.Background()
	defer conn.Close()
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok || !req.ID.IsValid() {
			continue
		}
		resp := &jsonrpc.Response{ID: req.ID}
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": "2025-06-18",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "raw", "version": "1.0.0"},
			}
		case "tools/list":
			result = map[string]any{"tools": tools}
		case "ping":
			result = map[string]any{}
		default:
			resp.Error = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found"}
		}
		if result != nil {
			if resp.Result, err = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(result); err != nil {
				return
			}
		}
		if err := conn.Write(ctx, resp); err != nil {
			return
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type emptyArgs struct{}

func echoServer(name string, tools ...string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	for _, tool := range tools {
		reply := name + ":" + tool
		mcp.AddTool(server, &mcp.Tool{Name: tool, Description: "echo " + tool},
			func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
				return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: reply}}}, nil, nil
			})
	}
	return server
}

func connectClient(t *testing.T, ctx context.Context, endpoint string) *mcp.ClientSession {
	t.Helper()
	transport := &mcp.StreamableClientTransport{Endpoint: endpoint, MaxRetries: 3}
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("connect to gateway: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func toolNames(tools []*mcp.Tool) map[string]*mcp.Tool {
	out := make(map[string]*mcp.Tool, len(tools))
	for _, tool := range tools {
		out[tool.Name] = tool
	}
	return out
}

func firstText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty result: %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return text.Text
}
