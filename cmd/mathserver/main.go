// Command mathserver serves the arithmetic MCP server over stdio, or over
// Streamable HTTP when -http is given.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/mathserver"
)

func main() {
	httpAddr := flag.String("http", "", "serve Streamable HTTP on this address (for example :8000) instead of stdio")
	name := flag.String("name", "math", "implementation name advertised to clients")
	only := flag.String("tools", "", "comma-separated subset of tools to expose")
	flag.Parse()

	// stdout carries the protocol in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var subset []string
	if *only != "" {
		subset = strings.Split(*only, ",")
	}
	server := mathserver.New(*name, subset...)

	if *httpAddr == "" {
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	srv := &http.Server{Addr: *httpAddr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("math server listening", "addr", *httpAddr, "tools", mathserver.Tools())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}
