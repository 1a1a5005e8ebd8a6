package mcprouter

import (
	"errors"
	"fmt"
)

// Kind classifies router failures.
type Kind string

const (
	// KindConfig marks a malformed, empty, or duplicate-name configuration.
	KindConfig Kind = "config"
	// KindConnection marks a server that failed to start, handshake, or list
	// its tools.
	KindConnection Kind = "connection"
	// KindToolNotFound marks a tool name no Ready session advertises.
	KindToolNotFound Kind = "tool_not_found"
	// KindTransport marks a channel that closed or errored mid-call. The
	// session involved is Failed afterwards.
	KindTransport Kind = "transport"
	// KindCancelled marks a call aborted by its context. The session involved
	// is Failed afterwards because its channel state is unknown.
	KindCancelled Kind = "cancelled"
	// KindRemote marks a JSON-RPC error response. The channel is healthy and
	// the session stays Ready.
	KindRemote Kind = "remote"
)

var (
	ErrConnection   = &Error{Kind: KindConnection}
	ErrToolNotFound = &Error{Kind: KindToolNotFound}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrCancelled    = &Error{Kind: KindCancelled}
	ErrRemote       = &Error{Kind: KindRemote}

	// ErrNoReadySessions is returned by ConnectAll when every server failed.
	ErrNoReadySessions = errors.New("mcprouter: no server reached ready state")
	// ErrRouterClosed is wrapped by calls made after CloseAll.
	ErrRouterClosed = errors.New("mcprouter: router closed")
	// ErrSessionNotReady is wrapped by calls on a session that is not Ready.
	ErrSessionNotReady = errors.New("mcprouter: session not ready")
	// ErrAlreadyConnected is returned by a second ConnectAll.
	ErrAlreadyConnected = errors.New("mcprouter: router already connected")
	// ErrUnknownServer is wrapped when a server name is not configured.
	ErrUnknownServer = errors.New("mcprouter: unknown server")
)

// Error is the failure value returned from every router call path.
type Error struct {
	Kind   Kind
	Server string
	Tool   string
	Err    error
}

func (e *Error) Error() string {
	msg := "mcprouter: " + string(e.Kind)
	if e.Server != "" {
		msg += fmt.Sprintf(" server=%q", e.Server)
	}
	if e.Tool != "" {
		msg += fmt.Sprintf(" tool=%q", e.Tool)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrTransport)
// works regardless of server and tool.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error or *ConfigError in err's chain,
// or an empty Kind.
func KindOf(err error) Kind {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfig
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ConfigError reports a configuration that cannot be used. It is always
// detected before any server is contacted.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "mcprouter: invalid config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func newError(kind Kind, server, tool string, err error) *Error {
	return &Error{Kind: kind, Server: server, Tool: tool, Err: err}
}
