package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcpgateway "github.com/vikashloomba/mcp-router-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

func main() {
	configPath := flag.String("config", "mcp-config.json", "path to the mcpServers JSON config")
	addr := flag.String("addr", ":8787", "listen address")
	flag.Parse()

	authorizationURL := os.Getenv("AUTHORIZATION_SERVER_URL")
	oauthResourceMetadataURL := os.Getenv("OAUTH_RESOURCE_METADATA_URL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := mcprouter.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	router, err := mcprouter.New(cfg, &mcprouter.Options{
		ClientName:     "gateway-example",
		DefaultTimeout: 15 * time.Second,
		Naming:         mcprouter.ServerPrefixNaming{},
		Metrics:        mcprouter.NewMetrics(reg),
	})
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}
	defer router.CloseAll()

	result, err := router.ConnectAll(ctx)
	if err != nil {
		log.Fatalf("no upstream server reachable: %v", err)
	}
	for _, f := range result.Failures {
		log.Printf("upstream %s unavailable: %v", f.Server, f.Err)
	}

	gatewayOpts := &mcpgateway.Options{
		Addr: *addr,
		Path: "/mcp",
		Streamable: mcp.StreamableHTTPOptions{
			Stateless:    false,
			JSONResponse: true,
		},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if authorizationURL != "" && oauthResourceMetadataURL != "" {
		gatewayOpts.TokenVerifier = func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			// Validate token with your upstream authorization server
			// Return TokenInfo with scopes, expiration, etc.
			return &auth.TokenInfo{
				Expiration: time.Now().Add(time.Hour),
			}, nil
		}
		gatewayOpts.TokenOptions = &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: oauthResourceMetadataURL,
		}
		gatewayOpts.AuthorizationServer = authorizationURL
	}

	gateway, err := mcpgateway.NewGateway(router, gatewayOpts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	// Re-dial failed upstreams in the background; the gateway picks up their
	// tools through the registry change hook.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if router.State() == mcprouter.StateFullyConnected {
					continue
				}
				if _, err := router.ReconnectFailed(ctx); err != nil {
					log.Printf("reconnect: %v", err)
				}
			}
		}
	}()

	gwOptions := gateway.Options()
	log.Printf("gateway serving %d tools over Streamable MCP on %s%s", len(gateway.Tools()), gwOptions.Addr, gwOptions.Path)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}
