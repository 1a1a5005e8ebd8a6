package mcprouter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Server    string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests.
type HTTPAuthProvider func(context.Context) (string, error)

// HTTPTransportKind pins the HTTP transport used for a server.
type HTTPTransportKind string

const (
	// HTTPTransportAuto tries Streamable HTTP first and falls back to SSE,
	// unless the endpoint ends in "/sse".
	HTTPTransportAuto       HTTPTransportKind = ""
	HTTPTransportSSE        HTTPTransportKind = "sse"
	HTTPTransportStreamable HTTPTransportKind = "streamable-http"
)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	ClientOptions mcp.ClientOptions
	// Timeout bounds connection setup and each individual call. Zero means
	// Options.DefaultTimeout.
	Timeout    time.Duration
	Version    string
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched as a child process and
// spoken to over its standard input and output.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over HTTP transports.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint     string
	Transport    HTTPTransportKind
	Headers      http.Header
	HTTPClient   *http.Client
	AuthProvider HTTPAuthProvider
	MaxRetries   int
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// NamedServer binds a logical server name to its launch descriptor.
type NamedServer struct {
	Name   string
	Server ServerConfig
}

// Config is an ordered set of servers. Declaration order decides which server
// keeps a tool name when several advertise it.
type Config struct {
	Servers []NamedServer
}

// Names returns the configured server names in declaration order.
func (c *Config) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	return names
}

// Lookup returns the configuration registered under name.
func (c *Config) Lookup(name string) (ServerConfig, bool) {
	if c == nil {
		return nil, false
	}
	for _, s := range c.Servers {
		if s.Name == name {
			return s.Server, true
		}
	}
	return nil, false
}

// Options configures a Router instance.
type Options struct {
	// ClientName overrides the client name advertised during initialization.
	// When empty, "mcprouter" is used.
	ClientName string
	// ClientVersion controls the semantic version reported to servers.
	ClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultClientOptions are merged into each server's BaseServerConfig
	// options prior to connection.
	DefaultClientOptions mcp.ClientOptions
	// ConnectConcurrency caps the number of simultaneous connection attempts
	// in ConnectAll. Zero or negative means unbounded.
	ConnectConcurrency int
	// Naming decides the exposed name of every tool. Defaults to FlatNaming.
	Naming Naming
	// Transports builds the candidate transports for a server. Defaults to
	// DefaultTransports.
	Transports TransportFactory
	// LogJSONRPC logs JSON-RPC traffic for all servers at debug level unless a
	// server sets its own RPCLogger.
	LogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over LogJSONRPC.
	RPCLogger RPCLogger
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// Metrics records call and session metrics when non-nil.
	Metrics *Metrics
	// TracerProvider supplies the tracer for connect and call spans. Defaults
	// to the global otel provider.
	TracerProvider trace.TracerProvider
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = "mcprouter"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Naming == nil {
		opts.Naming = FlatNaming{}
	}
	if opts.Transports == nil {
		opts.Transports = DefaultTransports
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
