package mcprouter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportFactory builds the candidate transports for one server. The
// session tries them in order and keeps the first that completes the
// handshake.
type TransportFactory func(name string, cfg ServerConfig) ([]mcp.Transport, error)

// DefaultTransports launches stdio servers with mcp.CommandTransport and
// dials HTTP servers with Streamable HTTP, falling back to SSE. Servers pinned
// to SSE, or whose endpoint ends in "/sse", are dialed with SSE only.
func DefaultTransports(name string, cfg ServerConfig) ([]mcp.Transport, error) {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		t, err := buildStdioTransport(name, c)
		if err != nil {
			return nil, err
		}
		return []mcp.Transport{t}, nil
	case *HTTPServerConfig:
		return buildHTTPTransports(name, c)
	default:
		return nil, fmt.Errorf("mcprouter: unsupported config %T for %q", cfg, name)
	}
}

func buildStdioTransport(name string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcprouter: command missing for %q", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildHTTPTransports(name string, cfg *HTTPServerConfig) ([]mcp.Transport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcprouter: endpoint missing for %q", name)
	}
	client := decorateHTTPClient(cfg.HTTPClient, cfg.Headers, cfg.AuthProvider)
	sse := &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: client}
	if preferSSE(cfg) {
		return []mcp.Transport{sse}, nil
	}
	streamable := &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: client,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.Transport == HTTPTransportStreamable {
		return []mcp.Transport{streamable}, nil
	}
	return []mcp.Transport{streamable, sse}, nil
}

func decorateHTTPClient(base *http.Client, headers http.Header, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 && provider == nil {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:         defaultRoundTripper(base.Transport),
		headers:      headers.Clone(),
		authProvider: provider,
	}
	return &clone
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// resolveRPCLogger picks the JSON-RPC logger for a server: the server's own
// logger, then the router's, then a debug-level slog logger when logging was
// switched on.
func resolveRPCLogger(base *BaseServerConfig, opts *Options) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if opts.RPCLogger != nil {
		return opts.RPCLogger
	}
	if base.LogJSONRPC || opts.LogJSONRPC {
		logger := opts.Logger
		return func(event RPCLogEvent) {
			logger.Debug("jsonrpc",
				slog.String("server", event.Server),
				slog.String("direction", string(event.Direction)),
				slog.String("message", string(event.Message)))
		}
	}
	return nil
}

type loggingTransport struct {
	server   string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{server: t.server, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	server   string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, Server: c.server})
}
