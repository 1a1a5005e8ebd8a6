package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shellHelp = `commands:
  servers                          list configured servers and their status
  tools                            list routable tools
  call <tool> [json-args]          invoke a tool, e.g. call add {"a": 1, "b": 2}
  prompts                          list prompts of ready servers
  prompt <server> <name> [json]    render a prompt with string arguments
  resources                        list resources of ready servers
  read <server> <uri>              read a resource
  reconnect [server]               re-dial one server, or every server not ready
  help                             show this text
  exit                             leave the shell`

var errQuit = errors.New("quit")

// shell drives a router from text commands. router is consulted on every
// command so a config reload can swap it underneath.
type shell struct {
	router func() *mcprouter.Router
	out    io.Writer
}

func newShell(router func() *mcprouter.Router, out io.Writer) *shell {
	return &shell{router: router, out: out}
}

// run reads commands from in until EOF, exit, or ctx ends. Command errors
// are printed and do not stop the loop.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(sh.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(sh.out)
				return nil
			}
			if err := sh.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		}
	}
}

// exec runs one command line.
func (sh *shell) exec(ctx context.Context, line string) error {
	cmd, rest := cut(strings.TrimSpace(line))
	router := sh.router()
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
		return nil
	case "exit", "quit":
		return errQuit
	case "servers":
		sh.printServers(router)
		return nil
	case "tools":
		sh.printTools(router)
		return nil
	case "call":
		tool, raw := cut(rest)
		if tool == "" {
			return errors.New("usage: call <tool> [json-args]")
		}
		args, err := parseObject(raw)
		if err != nil {
			return err
		}
		res, err := router.CallTool(ctx, tool, args)
		if err != nil {
			return err
		}
		sh.printResult(res)
		return nil
	case "prompts":
		prompts, err := router.ListPrompts(ctx)
		for _, p := range prompts {
			fmt.Fprintf(sh.out, "%s/%s\t%s\n", p.Server, p.Prompt.Name, p.Prompt.Description)
		}
		return err
	case "prompt":
		server, rest := cut(rest)
		name, raw := cut(rest)
		if server == "" || name == "" {
			return errors.New("usage: prompt <server> <name> [json-args]")
		}
		var args map[string]string
		if raw != "" {
			if err := json.UnmarshalFromString(raw, &args); err != nil {
				return fmt.Errorf("prompt arguments must be a JSON object of strings: %w", err)
			}
		}
		res, err := router.GetPrompt(ctx, server, name, args)
		if err != nil {
			return err
		}
		for _, msg := range res.Messages {
			fmt.Fprintf(sh.out, "[%s] %s\n", msg.Role, contentText(msg.Content))
		}
		return nil
	case "resources":
		resources, err := router.ListResources(ctx)
		for _, r := range resources {
			fmt.Fprintf(sh.out, "%s\t%s\t%s\n", r.Server, r.Resource.URI, r.Resource.Name)
		}
		return err
	case "read":
		server, uri := cut(rest)
		if server == "" || uri == "" {
			return errors.New("usage: read <server> <uri>")
		}
		res, err := router.ReadResource(ctx, server, uri)
		if err != nil {
			return err
		}
		for _, c := range res.Contents {
			if c.Text != "" {
				fmt.Fprintln(sh.out, c.Text)
			} else {
				fmt.Fprintf(sh.out, "<%d bytes of %s>\n", len(c.Blob), c.MIMEType)
			}
		}
		return nil
	case "reconnect":
		if rest != "" {
			if err := router.Reconnect(ctx, rest); err != nil {
				return err
			}
		} else if _, err := router.ReconnectFailed(ctx); err != nil {
			return err
		}
		sh.printServers(router)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (sh *shell) printServers(router *mcprouter.Router) {
	w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tTRANSPORT\tTOOLS\tERROR")
	for _, info := range router.Sessions() {
		errText := ""
		if info.Err != nil {
			errText = info.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", info.Name, info.Status, info.Transport, info.Tools, errText)
	}
	_ = w.Flush()
}

func (sh *shell) printTools(router *mcprouter.Router) {
	w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for _, route := range router.Registry().Routes() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", route.Name, route.Server, route.Tool.Description)
	}
	_ = w.Flush()
}

func (sh *shell) printResult(res *mcp.CallToolResult) {
	if res.IsError {
		fmt.Fprint(sh.out, "tool error: ")
	}
	fmt.Fprintln(sh.out, contentText(res.Content...))
	if res.StructuredContent != nil && len(res.Content) == 0 {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			fmt.Fprintln(sh.out, string(data))
		}
	}
}

func contentText(contents ...mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch c := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("<image %s>", c.MIMEType))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("<audio %s>", c.MIMEType))
		default:
			parts = append(parts, fmt.Sprintf("<%T>", c))
		}
	}
	return strings.Join(parts, "\n")
}

func parseObject(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.UnmarshalFromString(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// cut splits s at the first run of whitespace.
func cut(s string) (head, tail string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
