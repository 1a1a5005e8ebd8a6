// Command mcprouter connects to every MCP server in a config file and routes
// tool calls across them from a small command shell.
//
//	mcprouter -config mcp-config.json
//	mcprouter -config mcp-config.json -query 'call add {"a": 1, "b": 2}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mcprouter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "mcp-config.json", "path to the mcpServers JSON config")
	query := fs.String("query", "", "run one shell command and exit")
	watch := fs.Bool("watch", false, "reconnect when the config file changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := loadSettings()
	if err != nil {
		printError(stderr, err)
		return 1
	}
	level, _ := st.level()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := mcprouter.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := setupTracing(ctx, st.OTLPEndpoint, version)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	metrics := newMetricsServer(st.MetricsAddr)
	metrics.start(ctx, logger)

	opts := st.routerOptions(logger)
	opts.ClientVersion = version
	opts.Metrics = metrics.metrics
	if tp != nil {
		opts.TracerProvider = tp
	}

	a := &app{opts: opts, out: stdout, logger: logger}
	router, err := a.connect(ctx, cfg)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	a.swap(router)
	defer a.close()

	sh := newShell(a.current, stdout)
	if *query != "" {
		// A failed command is reported; only startup failures change the
		// exit status.
		if err := sh.exec(ctx, *query); err != nil && !errors.Is(err, errQuit) {
			printError(stderr, err)
		}
		return 0
	}

	if *watch {
		go func() {
			if err := mcprouter.WatchConfig(ctx, *configPath, logger, a.reload(ctx)); err != nil {
				logger.Error("config watch stopped", "error", err)
			}
		}()
	}
	fmt.Fprintln(stdout, "type help for commands")
	if err := sh.run(ctx, stdin); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// printError writes err under the command prefix. Router errors already
// carry it.
func printError(w io.Writer, err error) {
	msg := err.Error()
	if !strings.HasPrefix(msg, "mcprouter: ") {
		msg = "mcprouter: " + msg
	}
	fmt.Fprintln(w, msg)
}

// app owns the active router. A config reload replaces it.
type app struct {
	opts   *mcprouter.Options
	out    io.Writer
	logger *slog.Logger

	mu     sync.RWMutex
	router *mcprouter.Router
}

// connect builds a router for cfg and dials every server. It fails only when
// the config is invalid or no server could be reached.
func (a *app) connect(ctx context.Context, cfg *mcprouter.Config) (*mcprouter.Router, error) {
	router, err := mcprouter.New(cfg, a.opts)
	if err != nil {
		return nil, err
	}
	result, err := router.ConnectAll(ctx)
	printSummary(a.out, cfg, result, router.Registry().Len())
	if err != nil {
		_ = router.CloseAll()
		return nil, fmt.Errorf("no configured server could be reached")
	}
	return router, nil
}

func (a *app) current() *mcprouter.Router {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.router
}

func (a *app) swap(router *mcprouter.Router) *mcprouter.Router {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.router
	a.router = router
	return old
}

// reload returns the config watch callback. A document whose servers are all
// unreachable leaves the running router in place.
func (a *app) reload(ctx context.Context) func(*mcprouter.Config) {
	return func(cfg *mcprouter.Config) {
		a.logger.Info("config changed, reconnecting", "servers", cfg.Names())
		router, err := a.connect(ctx, cfg)
		if err != nil {
			a.logger.Warn("keeping previous servers", "error", err)
			return
		}
		if old := a.swap(router); old != nil {
			if err := old.CloseAll(); err != nil {
				a.logger.Warn("close previous router", "error", err)
			}
		}
	}
}

func (a *app) close() {
	if router := a.swap(nil); router != nil {
		if err := router.CloseAll(); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
}

func printSummary(out io.Writer, cfg *mcprouter.Config, result *mcprouter.ConnectResult, tools int) {
	if result == nil {
		return
	}
	fmt.Fprintf(out, "connected to %d of %d servers (%s), %d tools available\n",
		len(result.Ready), len(cfg.Servers), result.State, tools)
	for _, f := range result.Failures {
		fmt.Fprintf(out, "  failed %s: %v\n", f.Server, f.Err)
	}
	for _, sh := range result.Shadowed {
		fmt.Fprintf(out, "  tool %q from %s is hidden by %s\n", sh.Name, sh.Server, sh.Winner)
	}
}
