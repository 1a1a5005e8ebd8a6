package mathserver

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "mathserver-test", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestArithmeticTools(t *testing.T) {
	session := connect(t, New("math"))
	ctx := context.Background()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, Tools(), names)

	cases := map[string]string{
		"add":      "8",
		"subtract": "2",
		"multiply": "15",
		"divide":   "1.6666666666666667",
	}
	for tool, want := range cases {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      tool,
			Arguments: map[string]any{"a": 5, "b": 3},
		})
		require.NoError(t, err, tool)
		require.False(t, res.IsError, tool)
		require.Len(t, res.Content, 1)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Equal(t, want, text.Text, tool)
	}
}

func TestDivideByZeroIsToolError(t *testing.T) {
	session := connect(t, New("math"))
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "divide",
		Arguments: map[string]any{"a": 1, "b": 0},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSubsetOfOperations(t *testing.T) {
	session := connect(t, New("adder", "add", "unknown"))
	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "add", tools.Tools[0].Name)
}

func TestPromptAndResource(t *testing.T) {
	session := connect(t, New("math", "add", "divide"))
	ctx := context.Background()

	prompt, err := session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      "explain",
		Arguments: map[string]string{"expression": "2 + 2"},
	})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	text, ok := prompt.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "2 + 2")

	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: OperationsURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "add\ndivide", res.Contents[0].Text)
}
