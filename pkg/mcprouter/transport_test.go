package mcprouter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestBuildStdioTransport(t *testing.T) {
	t.Parallel()

	cfg := &StdioServerConfig{
		Command: "python",
		Args:    []string{"math_server.py"},
		Env:     map[string]string{"MCP_SERVER_MODE": "stdio"},
	}

	transport, err := buildStdioTransport("math", cfg)
	if err != nil {
		t.Fatalf("buildStdioTransport error: %v", err)
	}

	cmdTransport, ok := transport.(*mcp.CommandTransport)
	if !ok {
		t.Fatalf("expected CommandTransport, got %T", transport)
	}

	expectedArgs := append([]string{cfg.Command}, cfg.Args...)
	if !reflect.DeepEqual(cmdTransport.Command.Args, expectedArgs) {
		t.Fatalf("command args = %v, expected %v", cmdTransport.Command.Args, expectedArgs)
	}

	if !envContains(cmdTransport.Command.Env, "MCP_SERVER_MODE", "stdio") {
		t.Fatalf("env missing MCP_SERVER_MODE from stdio config")
	}

	if _, err := buildStdioTransport("empty", &StdioServerConfig{}); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestDefaultTransportsHTTPCandidates(t *testing.T) {
	t.Parallel()

	kinds := func(ts []mcp.Transport) []string {
		var out []string
		for _, tr := range ts {
			switch tr.(type) {
			case *mcp.StreamableClientTransport:
				out = append(out, "streamable")
			case *mcp.SSEClientTransport:
				out = append(out, "sse")
			default:
				out = append(out, "other")
			}
		}
		return out
	}

	cases := []struct {
		name string
		cfg  *HTTPServerConfig
		want []string
	}{
		{"auto", &HTTPServerConfig{Endpoint: "https://example.com/mcp"}, []string{"streamable", "sse"}},
		{"auto sse path", &HTTPServerConfig{Endpoint: "https://example.com/sse"}, []string{"sse"}},
		{"pinned sse", &HTTPServerConfig{Endpoint: "https://example.com/mcp", Transport: HTTPTransportSSE}, []string{"sse"}},
		{"pinned streamable", &HTTPServerConfig{Endpoint: "https://example.com/sse", Transport: HTTPTransportStreamable}, []string{"streamable"}},
	}
	for _, tc := range cases {
		got, err := DefaultTransports(tc.name, tc.cfg)
		if err != nil {
			t.Fatalf("%s: DefaultTransports error: %v", tc.name, err)
		}
		if !reflect.DeepEqual(kinds(got), tc.want) {
			t.Fatalf("%s: transports = %v, expected %v", tc.name, kinds(got), tc.want)
		}
	}

	if _, err := DefaultTransports("blank", &HTTPServerConfig{}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}

func TestDecorateHTTPClientAddsHeadersAndAuth(t *testing.T) {
	t.Parallel()

	headers := http.Header{"X-MCP-Source": []string{"router-tests"}}
	providerCalled := false
	provider := func(ctx context.Context) (string, error) {
		providerCalled = true
		return "Bearer example-token", nil
	}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-MCP-Source"); got != "router-tests" {
			t.Fatalf("decorated header missing, got %q", got)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer example-token" {
			t.Fatalf("auth header mismatch, got %q", got)
		}
		if req.URL.String() != "https://example.com/mcp" {
			t.Fatalf("request hit unexpected URL: %s", req.URL)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	baseClient := &http.Client{Transport: rt}
	decorated := decorateHTTPClient(baseClient, headers, provider)
	if decorated == baseClient {
		t.Fatalf("expected a decorated copy of the base client")
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/mcp", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := decorated.Do(req)
	if err != nil {
		t.Fatalf("decorated client Do error: %v", err)
	}
	_ = resp.Body.Close()
	if !providerCalled {
		t.Fatalf("auth provider was not invoked")
	}
	if req.Header.Get("X-MCP-Source") != "" {
		t.Fatalf("decorator mutated the caller's request")
	}
}

func TestDecorateHTTPClientAuthErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("token expired")
	decorated := decorateHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("request should not reach the network")
		return nil, nil
	})}, nil, func(context.Context) (string, error) { return "", boom })

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/mcp", nil)
	if _, err := decorated.Do(req); !errors.Is(err, boom) {
		t.Fatalf("expected auth provider error, got %v", err)
	}
}

func TestDecorateHTTPClientPassthrough(t *testing.T) {
	t.Parallel()

	base := &http.Client{}
	if got := decorateHTTPClient(base, nil, nil); got != base {
		t.Fatalf("undecorated client should be returned as is")
	}
	if got := decorateHTTPClient(nil, nil, nil); got != http.DefaultClient {
		t.Fatalf("nil client should fall back to http.DefaultClient")
	}
}

func TestResolveRPCLogger(t *testing.T) {
	t.Parallel()

	var own, shared int
	ownLogger := RPCLogger(func(RPCLogEvent) { own++ })
	sharedLogger := RPCLogger(func(RPCLogEvent) { shared++ })

	opts := (&Options{RPCLogger: sharedLogger}).withDefaults()
	resolveRPCLogger(&BaseServerConfig{RPCLogger: ownLogger}, &opts)(RPCLogEvent{})
	resolveRPCLogger(&BaseServerConfig{}, &opts)(RPCLogEvent{})
	if own != 1 || shared != 1 {
		t.Fatalf("logger precedence wrong: own=%d shared=%d", own, shared)
	}

	quiet := (&Options{}).withDefaults()
	if resolveRPCLogger(&BaseServerConfig{}, &quiet) != nil {
		t.Fatalf("expected no logger when logging is off")
	}
	if resolveRPCLogger(&BaseServerConfig{LogJSONRPC: true}, &quiet) == nil {
		t.Fatalf("expected slog logger when server enables logging")
	}
}

func TestLoggingTransportRecordsTraffic(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []RPCLogEvent
	)
	logger := func(ev RPCLogEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := mcp.NewServer(&mcp.Implementation{Name: "echo", Version: "1.0.0"}, nil)
	ctx := context.Background()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &loggingTransport{server: "echo", delegate: clientTransport, logger: logger}, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := session.Ping(ctx, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = session.Close()

	mu.Lock()
	defer mu.Unlock()
	var sent, received bool
	for _, ev := range events {
		if ev.Server != "echo" {
			t.Fatalf("event tagged with %q", ev.Server)
		}
		switch ev.Direction {
		case RPCDirectionSend:
			sent = true
		case RPCDirectionReceive:
			received = true
		}
		if !strings.Contains(string(ev.Message), "jsonrpc") {
			t.Fatalf("message not encoded: %s", ev.Message)
		}
	}
	if !sent || !received {
		t.Fatalf("expected traffic in both directions, got %d events", len(events))
	}
}

func TestIsMethodUnavailableError(t *testing.T) {
	t.Parallel()

	if !isMethodUnavailableError(&jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "nope"}) {
		t.Fatalf("method-not-found code should be recognised")
	}
	if !isMethodUnavailableError(errors.New("calling \"tools/list\": Method not found")) {
		t.Fatalf("method-not-found text should be recognised")
	}
	if isMethodUnavailableError(errors.New("connection reset")) {
		t.Fatalf("transport failures are not method errors")
	}
	if isMethodUnavailableError(nil) {
		t.Fatalf("nil is not a method error")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}
