package mcprouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SessionStatus represents the lifecycle of one server session.
type SessionStatus string

const (
	StatusConnecting SessionStatus = "connecting"
	StatusReady      SessionStatus = "ready"
	StatusFailed     SessionStatus = "failed"
	StatusClosed     SessionStatus = "closed"
)

// maxToolPages bounds tools/list pagination against servers that keep
// returning cursors.
const maxToolPages = 100

// ServerSession owns the connection to one configured server and the tool
// listing it advertised. A Ready session holds exactly one open channel;
// Failed and Closed sessions hold none.
//
// Calls on a Ready session may run concurrently: the underlying
// mcp.ClientSession correlates requests by JSON-RPC id.
type ServerSession struct {
	name    string
	config  ServerConfig
	timeout time.Duration
	logger  *slog.Logger
	notify  func(*ServerSession)

	mu      sync.RWMutex
	status  SessionStatus
	session *mcp.ClientSession
	tools   []*mcp.Tool
	index   map[string]*mcp.Tool
	err     error
}

// connectSession dials cfg and lists its tools. It never returns an error:
// failures leave the session Failed with a KindConnection diagnostic in Err.
func connectSession(ctx context.Context, name string, cfg ServerConfig, opts *Options, notify func(*ServerSession)) *ServerSession {
	s := &ServerSession{
		name:   name,
		config: cfg,
		logger: opts.Logger.With(slog.String("server", name)),
		notify: notify,
		status: StatusConnecting,
	}
	base := cfg.base()
	s.timeout = base.Timeout
	if s.timeout <= 0 {
		s.timeout = opts.DefaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cs, err := s.dial(connectCtx, base, opts)
	if err != nil {
		s.connectFailed(fmt.Errorf("connect: %w", err))
		return s
	}
	tools, err := listAllTools(connectCtx, cs)
	if err != nil {
		_ = cs.Close()
		s.connectFailed(fmt.Errorf("list tools: %w", err))
		return s
	}

	s.mu.Lock()
	s.session = cs
	s.setToolsLocked(tools)
	s.status = StatusReady
	s.mu.Unlock()

	go s.monitor(cs)
	s.logger.Info("session ready", slog.Int("tools", len(tools)))
	return s
}

func (s *ServerSession) dial(ctx context.Context, base *BaseServerConfig, opts *Options) (*mcp.ClientSession, error) {
	transports, err := opts.Transports(s.name, s.config)
	if err != nil {
		return nil, err
	}
	if len(transports) == 0 {
		return nil, fmt.Errorf("mcprouter: no transport for %q", s.name)
	}
	version := base.Version
	if version == "" {
		version = opts.ClientVersion
	}
	impl := &mcp.Implementation{Name: opts.ClientName, Version: version}
	clientOpts := s.clientOptions(base, opts)
	rpcLogger := resolveRPCLogger(base, opts)

	var errs []error
	for _, transport := range transports {
		if rpcLogger != nil {
			transport = &loggingTransport{server: s.name, delegate: transport, logger: rpcLogger}
		}
		client := mcp.NewClient(impl, &clientOpts)
		cs, err := client.Connect(ctx, transport, nil)
		if err == nil {
			return cs, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (s *ServerSession) clientOptions(base *BaseServerConfig, opts *Options) mcp.ClientOptions {
	merged := opts.DefaultClientOptions
	mergeClientOptions(&merged, &base.ClientOptions)
	original := merged.ToolListChangedHandler
	merged.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if original != nil {
			original(ctx, req)
		}
		// Listing from inside a notification handler would block the
		// connection's reader.
		go s.refreshTools()
	}
	return merged
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src == nil {
		return
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

func (s *ServerSession) connectFailed(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.err = newError(KindConnection, s.name, "", err)
	s.mu.Unlock()
	s.logger.Warn("session failed to connect", slog.Any("error", err))
}

func listAllTools(ctx context.Context, cs *mcp.ClientSession) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for page := 0; ; page++ {
		if page == maxToolPages {
			return nil, fmt.Errorf("tools/list did not terminate after %d pages", maxToolPages)
		}
		res, err := cs.ListTools(ctx, params)
		if err != nil {
			if page == 0 && isMethodUnavailableError(err) {
				return nil, nil
			}
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == params.Cursor {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// setToolsLocked stores a listing, keeping the first tool of any name the
// server repeats.
func (s *ServerSession) setToolsLocked(tools []*mcp.Tool) {
	s.tools = make([]*mcp.Tool, 0, len(tools))
	s.index = make(map[string]*mcp.Tool, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		if _, dup := s.index[tool.Name]; dup {
			s.logger.Warn("server repeats tool name", slog.String("tool", tool.Name))
			continue
		}
		s.index[tool.Name] = tool
		s.tools = append(s.tools, tool)
	}
}

func (s *ServerSession) refreshTools() {
	s.mu.RLock()
	cs := s.session
	ready := s.status == StatusReady
	s.mu.RUnlock()
	if !ready || cs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	tools, err := listAllTools(ctx, cs)
	if err != nil {
		s.logger.Warn("refresh tools failed", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	if s.session != cs || s.status != StatusReady {
		s.mu.Unlock()
		return
	}
	s.setToolsLocked(tools)
	s.mu.Unlock()
	s.logger.Info("tool list changed", slog.Int("tools", len(tools)))
	s.changed()
}

func (s *ServerSession) monitor(cs *mcp.ClientSession) {
	waitErr := cs.Wait()
	s.mu.Lock()
	if s.session != cs {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.status = StatusClosed
	cause := errors.New("channel closed by server")
	if waitErr != nil {
		cause = fmt.Errorf("channel closed by server: %w", waitErr)
	}
	s.err = newError(KindTransport, s.name, "", cause)
	s.mu.Unlock()
	s.logger.Warn("session closed by server", slog.Any("error", waitErr))
	s.changed()
}

// Invoke calls tool on this server. The tool must be part of this session's
// own listing; the session never looks elsewhere.
func (s *ServerSession) Invoke(ctx context.Context, tool string, args any) (*mcp.CallToolResult, error) {
	cs, err := s.readyFor(tool)
	if err != nil {
		return nil, err
	}
	var res *mcp.CallToolResult
	err = s.call(ctx, cs, tool, func(ctx context.Context) error {
		var err error
		res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *ServerSession) readyFor(tool string) (*mcp.ClientSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusReady || s.session == nil {
		return nil, newError(KindTransport, s.name, tool, fmt.Errorf("%w (status %s)", ErrSessionNotReady, s.status))
	}
	if tool != "" {
		if _, ok := s.index[tool]; !ok {
			return nil, newError(KindToolNotFound, s.name, tool, fmt.Errorf("server does not advertise %q", tool))
		}
	}
	return s.session, nil
}

// call runs fn against cs under the session timeout and classifies its
// failure. Cancellation and channel failures mark the session Failed.
func (s *ServerSession) call(ctx context.Context, cs *mcp.ClientSession, tool string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := fn(callCtx)
	if err == nil {
		return nil
	}
	var wireErr *jsonrpc.Error
	switch {
	case callCtx.Err() != nil:
		rerr := newError(KindCancelled, s.name, tool, err)
		s.fail(cs, rerr)
		return rerr
	case errors.Is(err, mcp.ErrConnectionClosed):
		rerr := newError(KindTransport, s.name, tool, err)
		s.fail(cs, rerr)
		return rerr
	case errors.As(err, &wireErr):
		return newError(KindRemote, s.name, tool, err)
	default:
		rerr := newError(KindTransport, s.name, tool, err)
		s.fail(cs, rerr)
		return rerr
	}
}

func (s *ServerSession) fail(cs *mcp.ClientSession, cause error) {
	s.mu.Lock()
	if s.session != cs || s.status != StatusReady {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.session = nil
	s.err = cause
	s.mu.Unlock()
	s.logger.Warn("session failed", slog.Any("error", cause))
	_ = cs.Close()
	s.changed()
}

// Close releases the channel, if any, and marks the session Closed. Closing
// a Closed or Failed session is a no-op.
func (s *ServerSession) Close() error {
	s.mu.Lock()
	cs := s.session
	s.session = nil
	s.status = StatusClosed
	s.mu.Unlock()
	if cs == nil {
		return nil
	}
	if err := cs.Close(); err != nil {
		return fmt.Errorf("mcprouter: close %q: %w", s.name, err)
	}
	return nil
}

func (s *ServerSession) changed() {
	if s.notify != nil {
		s.notify(s)
	}
}

// Name returns the configured server name.
func (s *ServerSession) Name() string { return s.name }

// Config returns the configuration the session was dialed with.
func (s *ServerSession) Config() ServerConfig { return s.config }

// Status returns the current lifecycle status.
func (s *ServerSession) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the diagnostic recorded when the session left the Ready state.
func (s *ServerSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Tools returns the tools advertised by the server, in listing order.
func (s *ServerSession) Tools() []*mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*mcp.Tool(nil), s.tools...)
}

// HasTool reports whether the server advertised name.
func (s *ServerSession) HasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[name]
	return ok
}

// ID returns the transport session identifier negotiated by HTTP transports,
// or an empty string.
func (s *ServerSession) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.ID()
}

// snapshot returns status and tools under one lock so a registry build sees a
// consistent pair.
func (s *ServerSession) snapshot() (SessionStatus, []*mcp.Tool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.tools
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) && wireErr.Code == jsonrpc.CodeMethodNotFound {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}
