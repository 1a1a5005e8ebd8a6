package mcprouter

import "strings"

// Helpers for narrowing and inspecting ServerConfig values without forcing
// consumers to use a type switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio      ConfigTransport = "stdio"
	TransportSSE        ConfigTransport = "sse"
	TransportStreamable ConfigTransport = "streamable-http"
)

// TransportOf returns the transport a ServerConfig will be dialed with. HTTP
// configs in auto mode report Streamable HTTP unless the endpoint looks like
// an SSE endpoint. Returns an empty string for nil or unknown implementations.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		if preferSSE(c) {
			return TransportSSE
		}
		return TransportStreamable
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}

func preferSSE(cfg *HTTPServerConfig) bool {
	switch cfg.Transport {
	case HTTPTransportSSE:
		return true
	case HTTPTransportStreamable:
		return false
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}
