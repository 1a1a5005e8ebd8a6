package mcprouter

import (
	"fmt"
	"maps"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServer     = "mcprouter.server"
	metaKeyNativeName = "mcprouter.native_name"
)

// Naming decides the name a tool is exposed under. Implementations must be
// deterministic.
type Naming interface {
	ToolName(server, tool string) string
}

// FlatNaming exposes tools under the names their servers advertise. Two
// servers advertising the same name collide, and the one declared first keeps
// it.
type FlatNaming struct{}

func (FlatNaming) ToolName(_, tool string) string { return tool }

// ServerPrefixNaming prefixes every tool with its server name, separated by
// Separator (defaults to "__").
type ServerPrefixNaming struct {
	Separator string
}

func (n ServerPrefixNaming) ToolName(server, tool string) string {
	sep := n.Separator
	if sep == "" {
		sep = "__"
	}
	return fmt.Sprintf("%s%s%s", server, sep, tool)
}

// Route binds an exposed tool name to the session that serves it.
type Route struct {
	// Name is the exposed name.
	Name string
	// Server is the name of the owning server.
	Server string
	// NativeName is the name the owning server advertised.
	NativeName string
	// Tool is the advertised descriptor renamed to Name.
	Tool *mcp.Tool

	session *ServerSession
}

// Shadowed records a tool hidden by an earlier server's tool of the same
// exposed name.
type Shadowed struct {
	Name   string
	Server string
	Winner string
}

// Registry is an immutable snapshot mapping exposed tool names to Ready
// sessions. Every entry belongs to a session that was Ready when the snapshot
// was built.
type Registry struct {
	routes   map[string]*Route
	order    []*Route
	shadowed []Shadowed
}

// buildRegistry walks sessions in declaration order. The first Ready session
// to claim an exposed name keeps it.
func buildRegistry(sessions []*ServerSession, naming Naming) *Registry {
	reg := &Registry{routes: make(map[string]*Route)}
	for _, s := range sessions {
		status, tools := s.snapshot()
		if status != StatusReady {
			continue
		}
		for _, tool := range tools {
			name := naming.ToolName(s.name, tool.Name)
			if winner, taken := reg.routes[name]; taken {
				reg.shadowed = append(reg.shadowed, Shadowed{Name: name, Server: s.name, Winner: winner.Server})
				continue
			}
			route := &Route{
				Name:       name,
				Server:     s.name,
				NativeName: tool.Name,
				Tool:       cloneTool(tool, name, s.name),
				session:    s,
			}
			reg.routes[name] = route
			reg.order = append(reg.order, route)
		}
	}
	return reg
}

// Resolve returns the route serving name.
func (r *Registry) Resolve(name string) (*Route, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[name]
	return route, ok
}

// Tools returns the exposed descriptors, grouped by server in declaration
// order and by listing order within a server.
func (r *Registry) Tools() []*mcp.Tool {
	if r == nil {
		return nil
	}
	out := make([]*mcp.Tool, 0, len(r.order))
	for _, route := range r.order {
		out = append(out, route.Tool)
	}
	return out
}

// Routes returns copies of every route in Tools order.
func (r *Registry) Routes() []Route {
	if r == nil {
		return nil
	}
	out := make([]Route, 0, len(r.order))
	for _, route := range r.order {
		out = append(out, *route)
	}
	return out
}

// Shadowed lists tools that lost a name collision.
func (r *Registry) Shadowed() []Shadowed {
	if r == nil {
		return nil
	}
	return append([]Shadowed(nil), r.shadowed...)
}

// Len returns the number of exposed tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

func cloneTool(tool *mcp.Tool, name, server string) *mcp.Tool {
	clone := *tool
	clone.Name = name
	clone.Meta = withMeta(tool.Meta, map[string]any{
		metaKeyServer:     server,
		metaKeyNativeName: tool.Name,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extras))
	}
	maps.Copy(out, extras)
	return out
}

// ToolServer returns the server recorded in a descriptor produced by a
// Registry.
func ToolServer(tool *mcp.Tool) (string, bool) {
	if tool == nil || tool.Meta == nil {
		return "", false
	}
	server, ok := tool.Meta[metaKeyServer].(string)
	return server, ok
}
