package mcprouter

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSession(name string, status SessionStatus, tools ...string) *ServerSession {
	s := &ServerSession{name: name, status: status, logger: discardLogger()}
	listing := make([]*mcp.Tool, 0, len(tools))
	for _, tool := range tools {
		listing = append(listing, &mcp.Tool{Name: tool, Meta: mcp.Meta{"origin": "upstream"}})
	}
	s.setToolsLocked(listing)
	return s
}

func TestBuildRegistryFirstWins(t *testing.T) {
	sessions := []*ServerSession{
		fakeSession("a", StatusReady, "ping", "add"),
		fakeSession("b", StatusReady, "ping", "sub"),
		fakeSession("c", StatusReady, "add"),
	}
	reg := buildRegistry(sessions, FlatNaming{})

	assert.Equal(t, []string{"ping", "add", "sub"}, toolNames(reg.Tools()))
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []Shadowed{
		{Name: "ping", Server: "b", Winner: "a"},
		{Name: "add", Server: "c", Winner: "a"},
	}, reg.Shadowed())

	route, ok := reg.Resolve("ping")
	require.True(t, ok)
	assert.Equal(t, "a", route.Server)
	assert.Same(t, sessions[0], route.session)

	route, ok = reg.Resolve("sub")
	require.True(t, ok)
	assert.Equal(t, "b", route.Server)

	_, ok = reg.Resolve("missing")
	assert.False(t, ok)
}

func TestBuildRegistrySkipsSessionsNotReady(t *testing.T) {
	sessions := []*ServerSession{
		fakeSession("failed", StatusFailed, "ping"),
		fakeSession("closed", StatusClosed, "ping"),
		fakeSession("connecting", StatusConnecting, "ping"),
		fakeSession("ready", StatusReady, "ping"),
	}
	reg := buildRegistry(sessions, FlatNaming{})
	route, ok := reg.Resolve("ping")
	require.True(t, ok)
	assert.Equal(t, "ready", route.Server)
	assert.Empty(t, reg.Shadowed())
}

func TestBuildRegistryWithPrefixNaming(t *testing.T) {
	sessions := []*ServerSession{
		fakeSession("a", StatusReady, "ping"),
		fakeSession("b", StatusReady, "ping"),
	}
	reg := buildRegistry(sessions, ServerPrefixNaming{Separator: "."})
	assert.Equal(t, []string{"a.ping", "b.ping"}, toolNames(reg.Tools()))

	route, ok := reg.Resolve("b.ping")
	require.True(t, ok)
	assert.Equal(t, "ping", route.NativeName)
	assert.Equal(t, "b.ping", route.Tool.Name)
}

func TestRegistryDescriptorsAreClones(t *testing.T) {
	s := fakeSession("a", StatusReady, "ping")
	reg := buildRegistry([]*ServerSession{s}, ServerPrefixNaming{})

	exposed := reg.Tools()[0]
	native := s.Tools()[0]
	assert.Equal(t, "a__ping", exposed.Name)
	assert.Equal(t, "ping", native.Name)
	assert.Equal(t, "upstream", exposed.Meta["origin"])
	assert.Equal(t, "a", exposed.Meta[metaKeyServer])
	assert.Equal(t, "ping", exposed.Meta[metaKeyNativeName])
	assert.NotContains(t, native.Meta, metaKeyServer)

	server, ok := ToolServer(exposed)
	require.True(t, ok)
	assert.Equal(t, "a", server)
	_, ok = ToolServer(native)
	assert.False(t, ok)
}

func TestDuplicateToolsWithinOneListing(t *testing.T) {
	s := fakeSession("a", StatusReady, "ping", "ping", "pong")
	assert.Equal(t, []string{"ping", "pong"}, toolNames(s.Tools()))
	assert.True(t, s.HasTool("pong"))
	assert.False(t, s.HasTool("missing"))
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	_, ok := reg.Resolve("x")
	assert.False(t, ok)
	assert.Nil(t, reg.Tools())
	assert.Zero(t, reg.Len())
	assert.Nil(t, reg.Shadowed())
	assert.Nil(t, reg.Routes())
}

func TestServerPrefixNamingDefaultSeparator(t *testing.T) {
	assert.Equal(t, "srv__tool", ServerPrefixNaming{}.ToolName("srv", "tool"))
	assert.Equal(t, "srv/tool", ServerPrefixNaming{Separator: "/"}.ToolName("srv", "tool"))
	assert.Equal(t, "tool", FlatNaming{}.ToolName("srv", "tool"))
}
