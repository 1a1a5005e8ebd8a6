package mcprouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/vikashloomba/mcp-router-go/pkg/mcprouter"

// RouterState summarizes the sessions a router owns.
type RouterState string

const (
	StateUnconnected        RouterState = "unconnected"
	StateFullyConnected     RouterState = "fully_connected"
	StatePartiallyConnected RouterState = "partially_connected"
	StateFailed             RouterState = "failed"
	StateClosed             RouterState = "closed"
)

// ConnectFailure pairs a server with the reason it is not Ready.
type ConnectFailure struct {
	Server string
	Err    error
}

// ConnectResult reports the outcome of ConnectAll or ReconnectFailed.
type ConnectResult struct {
	State    RouterState
	Ready    []string
	Failures []ConnectFailure
	Shadowed []Shadowed
}

// SessionInfo describes one session for display.
type SessionInfo struct {
	Name      string
	Status    SessionStatus
	Transport ConfigTransport
	Tools     int
	Err       error
}

// Router owns one session per configured server and routes tool calls by
// name through an immutable Registry.
type Router struct {
	cfg    *Config
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	sessions  map[string]*ServerSession
	connected bool
	closed    bool

	rebuildMu sync.Mutex
	registry  atomic.Pointer[Registry]

	hookMu sync.RWMutex
	hooks  []func(*Registry)
}

// New validates cfg and returns an unconnected router. Configuration problems
// are reported here, before any server is contacted.
func New(cfg *Config, opts *Options) (*Router, error) {
	if cfg == nil {
		return nil, &ConfigError{Reason: "nil config"}
	}
	if err := validateServers(cfg.Servers); err != nil {
		return nil, err
	}
	resolved := opts.withDefaults()
	provider := resolved.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	r := &Router{
		cfg:      &Config{Servers: append([]NamedServer(nil), cfg.Servers...)},
		opts:     resolved,
		logger:   resolved.Logger,
		tracer:   provider.Tracer(tracerName),
		sessions: make(map[string]*ServerSession, len(cfg.Servers)),
	}
	r.registry.Store(buildRegistry(nil, resolved.Naming))
	return r, nil
}

// Config returns the configuration the router was built from.
func (r *Router) Config() *Config { return r.cfg }

// ConnectAll dials every configured server concurrently and returns once each
// attempt has finished. A server that fails does not prevent the others from
// becoming Ready. When no server is Ready the returned error matches
// ErrNoReadySessions; the result is returned either way.
func (r *Router) ConnectAll(ctx context.Context) (*ConnectResult, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, newError(KindTransport, "", "", ErrRouterClosed)
	case r.connected:
		r.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	r.connected = true
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "mcprouter.connect_all",
		trace.WithAttributes(attribute.Int("mcprouter.servers", len(r.cfg.Servers))))
	defer span.End()

	sessions := make([]*ServerSession, len(r.cfg.Servers))
	var g errgroup.Group
	if r.opts.ConnectConcurrency > 0 {
		g.SetLimit(r.opts.ConnectConcurrency)
	}
	for i, ns := range r.cfg.Servers {
		g.Go(func() error {
			sessions[i] = r.connectOne(ctx, ns)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		for _, s := range sessions {
			_ = s.Close()
		}
		return nil, newError(KindTransport, "", "", ErrRouterClosed)
	}
	for _, s := range sessions {
		r.sessions[s.name] = s
	}
	r.mu.Unlock()

	r.rebuild()
	result := r.result()
	for _, sh := range result.Shadowed {
		r.logger.Warn("tool name collision",
			slog.String("tool", sh.Name),
			slog.String("server", sh.Server),
			slog.String("kept", sh.Winner))
	}
	r.logger.Info("connect finished",
		slog.String("state", string(result.State)),
		slog.Int("ready", len(result.Ready)),
		slog.Int("failed", len(result.Failures)),
		slog.Int("tools", r.Registry().Len()))

	span.SetAttributes(
		attribute.String("mcprouter.state", string(result.State)),
		attribute.Int("mcprouter.ready", len(result.Ready)))
	if len(result.Ready) == 0 {
		errs := []error{ErrNoReadySessions}
		for _, f := range result.Failures {
			errs = append(errs, f.Err)
		}
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no server reached ready state")
		return result, err
	}
	return result, nil
}

func (r *Router) connectOne(ctx context.Context, ns NamedServer) *ServerSession {
	ctx, span := r.tracer.Start(ctx, "mcprouter.connect",
		trace.WithAttributes(
			attribute.String("mcprouter.server", ns.Name),
			attribute.String("mcprouter.transport", string(TransportOf(ns.Server)))))
	defer span.End()

	s := connectSession(ctx, ns.Name, ns.Server, &r.opts, r.sessionChanged)
	r.opts.Metrics.observeConnect(ns.Name, s.Status())
	if err := s.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
	}
	return s
}

// sessionChanged is invoked by a session after it fails, closes, or re-lists
// its tools.
func (r *Router) sessionChanged(s *ServerSession) {
	r.mu.Lock()
	current := r.sessions[s.name] == s
	r.mu.Unlock()
	if current {
		r.rebuild()
	}
}

func (r *Router) rebuild() {
	r.rebuildMu.Lock()
	r.mu.Lock()
	ordered := r.orderedLocked()
	closed := r.closed
	r.mu.Unlock()

	var reg *Registry
	if closed {
		reg = buildRegistry(nil, r.opts.Naming)
	} else {
		reg = buildRegistry(ordered, r.opts.Naming)
	}
	r.registry.Store(reg)

	counts := make(map[SessionStatus]int, 4)
	for _, s := range ordered {
		counts[s.Status()]++
	}
	r.opts.Metrics.setSessions(counts)
	r.rebuildMu.Unlock()

	r.hookMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(reg)
	}
}

func (r *Router) orderedLocked() []*ServerSession {
	out := make([]*ServerSession, 0, len(r.sessions))
	for _, ns := range r.cfg.Servers {
		if s, ok := r.sessions[ns.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Router) ordered() []*ServerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedLocked()
}

func (r *Router) result() *ConnectResult {
	result := &ConnectResult{State: r.State(), Shadowed: r.Registry().Shadowed()}
	for _, s := range r.ordered() {
		if s.Status() == StatusReady {
			result.Ready = append(result.Ready, s.name)
			continue
		}
		err := s.Err()
		if err == nil {
			err = newError(KindConnection, s.name, "", ErrSessionNotReady)
		}
		result.Failures = append(result.Failures, ConnectFailure{Server: s.name, Err: err})
	}
	return result
}

// State reports the router state derived from its sessions.
func (r *Router) State() RouterState {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return StateClosed
	}
	ordered := r.orderedLocked()
	r.mu.Unlock()
	if len(ordered) == 0 {
		return StateUnconnected
	}
	ready := 0
	for _, s := range ordered {
		if s.Status() == StatusReady {
			ready++
		}
	}
	switch ready {
	case len(ordered):
		return StateFullyConnected
	case 0:
		return StateFailed
	default:
		return StatePartiallyConnected
	}
}

// Registry returns the current snapshot.
func (r *Router) Registry() *Registry { return r.registry.Load() }

// ListTools returns the tools of every Ready session, with collisions already
// resolved.
func (r *Router) ListTools() []*mcp.Tool { return r.Registry().Tools() }

// Resolve reports which server serves name.
func (r *Router) Resolve(name string) (Route, bool) {
	route, ok := r.Registry().Resolve(name)
	if !ok {
		return Route{}, false
	}
	return *route, true
}

// CallTool routes a call to the session that owns name. A call whose channel
// fails, or whose context ends first, marks that session Failed and removes
// its tools from the registry before returning. A session failed by
// cancellation is re-dialed when a later call cannot be resolved.
func (r *Router) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	if r.isClosed() {
		return nil, newError(KindTransport, "", name, ErrRouterClosed)
	}
	invocation := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "mcprouter.call_tool",
		trace.WithAttributes(
			attribute.String("mcp.tool", name),
			attribute.String("mcprouter.invocation_id", invocation)))
	defer span.End()
	start := time.Now()

	route, ok := r.Registry().Resolve(name)
	if !ok && r.relistCancelled(ctx) {
		route, ok = r.Registry().Resolve(name)
	}
	if !ok {
		err := newError(KindToolNotFound, "", name, fmt.Errorf("no ready server advertises %q", name))
		r.opts.Metrics.observeCall("", name, err, time.Since(start))
		span.SetStatus(codes.Error, string(KindToolNotFound))
		return nil, err
	}
	span.SetAttributes(attribute.String("mcprouter.server", route.Server))

	res, err := route.session.Invoke(ctx, route.NativeName, args)
	elapsed := time.Since(start)
	r.opts.Metrics.observeCall(route.Server, name, err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		if kind := KindOf(err); kind == KindTransport || kind == KindCancelled {
			// The session may have been torn down by its monitor rather than
			// by this call, in which case nothing republished yet.
			r.rebuild()
		}
		r.logger.Warn("tool call failed",
			slog.String("invocation", invocation),
			slog.String("server", route.Server),
			slog.String("tool", name),
			slog.Any("error", err))
		return nil, err
	}
	r.logger.Debug("tool call",
		slog.String("invocation", invocation),
		slog.String("server", route.Server),
		slog.String("tool", name),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

// relistCancelled re-dials sessions that were invalidated by a cancelled call
// and reports whether any were found. Sessions that failed for any other
// reason wait for Reconnect.
func (r *Router) relistCancelled(ctx context.Context) bool {
	var names []string
	for _, s := range r.ordered() {
		if s.Status() == StatusFailed && KindOf(s.Err()) == KindCancelled {
			names = append(names, s.name)
		}
	}
	for _, name := range names {
		if err := r.Reconnect(ctx, name); err != nil {
			r.logger.Warn("relist after cancellation failed", slog.String("server", name), slog.Any("error", err))
		}
	}
	return len(names) > 0
}

// Reconnect re-dials name if its session is not Ready and republishes the
// registry. A Ready session is left untouched.
func (r *Router) Reconnect(ctx context.Context, name string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return newError(KindTransport, name, "", ErrRouterClosed)
	}
	cfg, ok := r.cfg.Lookup(name)
	old := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("server %q is not configured", name), Err: ErrUnknownServer}
	}
	if old != nil && old.Status() == StatusReady {
		return nil
	}

	s := r.connectOne(ctx, NamedServer{Name: name, Server: cfg})

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		_ = s.Close()
		return newError(KindTransport, name, "", ErrRouterClosed)
	case r.sessions[name] != old:
		// A concurrent reconnect already replaced the session.
		r.mu.Unlock()
		_ = s.Close()
		return nil
	}
	r.sessions[name] = s
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.rebuild()
	r.logger.Info("reconnect finished", slog.String("server", name), slog.String("status", string(s.Status())))
	if s.Status() != StatusReady {
		return s.Err()
	}
	return nil
}

// ReconnectFailed re-dials every session that is not Ready.
func (r *Router) ReconnectFailed(ctx context.Context) (*ConnectResult, error) {
	if r.isClosed() {
		return nil, newError(KindTransport, "", "", ErrRouterClosed)
	}
	var g errgroup.Group
	if r.opts.ConnectConcurrency > 0 {
		g.SetLimit(r.opts.ConnectConcurrency)
	}
	for _, s := range r.ordered() {
		if s.Status() == StatusReady {
			continue
		}
		name := s.name
		g.Go(func() error {
			_ = r.Reconnect(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	if r.isClosed() {
		return nil, newError(KindTransport, "", "", ErrRouterClosed)
	}
	return r.result(), nil
}

// Session returns the session for name.
func (r *Router) Session(name string) (*ServerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Sessions describes every session in declaration order.
func (r *Router) Sessions() []SessionInfo {
	ordered := r.ordered()
	out := make([]SessionInfo, 0, len(ordered))
	for _, s := range ordered {
		status, tools := s.snapshot()
		out = append(out, SessionInfo{
			Name:      s.name,
			Status:    status,
			Transport: TransportOf(s.config),
			Tools:     len(tools),
			Err:       s.Err(),
		})
	}
	return out
}

// OnRegistryChange registers fn to receive every newly published registry.
// fn runs synchronously on the goroutine that caused the change and must not
// call Reconnect or CloseAll.
func (r *Router) OnRegistryChange(fn func(*Registry)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hookMu.Unlock()
}

// CloseAll closes every session and reports the errors encountered. It is
// safe to call more than once; later calls return nil.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ordered := r.orderedLocked()
	r.mu.Unlock()

	errs := make([]error, len(ordered))
	var g errgroup.Group
	for i, s := range ordered {
		g.Go(func() error {
			errs[i] = s.Close()
			return nil
		})
	}
	_ = g.Wait()
	r.rebuild()
	r.logger.Info("router closed", slog.Int("sessions", len(ordered)))
	return errors.Join(errs...)
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
