package mcpgateway

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// protectedResourceMetadata is the RFC 9728 document advertised to clients
// that need to discover where to obtain a token for the gateway.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// protectedResourceHandler serves the metadata document behind a read-only
// CORS policy that allows any origin.
func (g *Gateway) protectedResourceHandler(mcpPath string) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		meta := protectedResourceMetadata{
			Resource:               resourceURL(r, mcpPath),
			BearerMethodsSupported: []string{"header"},
		}
		if g.opts.AuthorizationServer != "" {
			meta.AuthorizationServers = []string{g.opts.AuthorizationServer}
		}
		if g.opts.TokenOptions != nil {
			meta.ScopesSupported = g.opts.TokenOptions.Scopes
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(meta); err != nil {
			g.logError("encode protected resource metadata", err)
		}
	})
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}).Handler(handler)
}

func resourceURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + path
}
