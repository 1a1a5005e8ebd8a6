// Package mathserver provides a small MCP server exposing arithmetic tools,
// an "explain" prompt, and a resource listing the supported operations. It
// backs cmd/mathserver and the router tests.
package mathserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// OperationsURI is the resource describing the available operations.
const OperationsURI = "math://operations"

// ErrDivideByZero is reported as a tool error by "divide".
var ErrDivideByZero = errors.New("cannot divide by zero")

// Operands is the input of every arithmetic tool.
type Operands struct {
	A float64 `json:"a" jsonschema:"the first operand"`
	B float64 `json:"b" jsonschema:"the second operand"`
}

// Result is the structured output of every arithmetic tool.
type Result struct {
	Value float64 `json:"value"`
}

type operation struct {
	description string
	apply       func(a, b float64) (float64, error)
}

var operations = map[string]operation{
	"add":      {"Add two numbers", func(a, b float64) (float64, error) { return a + b, nil }},
	"subtract": {"Subtract b from a", func(a, b float64) (float64, error) { return a - b, nil }},
	"multiply": {"Multiply two numbers", func(a, b float64) (float64, error) { return a * b, nil }},
	"divide":   {"Divide a by b", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	}},
}

// Tools returns the names of the arithmetic tools in sorted order.
func Tools() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a server named name offering the given operations, or all of
// them when none are listed.
func New(name string, only ...string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	if len(only) == 0 {
		only = Tools()
	}
	for _, op := range only {
		def, ok := operations[op]
		if !ok {
			continue
		}
		mcp.AddTool(server, &mcp.Tool{Name: op, Description: def.description}, binary(def.apply))
	}

	server.AddPrompt(&mcp.Prompt{
		Name:        "explain",
		Description: "Ask for a step by step explanation of an arithmetic expression",
		Arguments: []*mcp.PromptArgument{
			{Name: "expression", Description: "expression to explain", Required: true},
		},
	}, explainPrompt)

	server.AddResource(&mcp.Resource{
		URI:         OperationsURI,
		Name:        "operations",
		Description: "Operations supported by this server",
		MIMEType:    "text/plain",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     strings.Join(only, "\n"),
		}}}, nil
	})
	return server
}

func binary(apply func(a, b float64) (float64, error)) mcp.ToolHandlerFor[Operands, Result] {
	return func(_ context.Context, _ *mcp.CallToolRequest, in Operands) (*mcp.CallToolResult, Result, error) {
		v, err := apply(in.A, in.B)
		if err != nil {
			return nil, Result{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: strconv.FormatFloat(v, 'f', -1, 64)}},
		}, Result{Value: v}, nil
	}
}

func explainPrompt(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	expr := req.Params.Arguments["expression"]
	if expr == "" {
		return nil, errors.New("expression is required")
	}
	return &mcp.GetPromptResult{
		Description: "Explain an arithmetic expression",
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: fmt.Sprintf("Explain step by step how to evaluate %s.", expr)},
		}},
	}, nil
}
