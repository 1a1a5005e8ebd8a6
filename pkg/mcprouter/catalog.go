package mcprouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PromptRef is a prompt together with the server that offers it.
type PromptRef struct {
	Server string
	Prompt *mcp.Prompt
}

// ResourceRef is a resource together with the server that offers it.
type ResourceRef struct {
	Server   string
	Resource *mcp.Resource
}

// ListPrompts lists the prompts of this session's server. Servers without
// prompt support report an empty list.
func (s *ServerSession) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	cs, err := s.readyFor("")
	if err != nil {
		return nil, err
	}
	var prompts []*mcp.Prompt
	err = s.call(ctx, cs, "", func(ctx context.Context) error {
		params := &mcp.ListPromptsParams{}
		for page := 0; page < maxToolPages; page++ {
			res, err := cs.ListPrompts(ctx, params)
			if err != nil {
				if page == 0 && isMethodUnavailableError(err) {
					return nil
				}
				return err
			}
			prompts = append(prompts, res.Prompts...)
			if res.NextCursor == "" || res.NextCursor == params.Cursor {
				return nil
			}
			params = &mcp.ListPromptsParams{Cursor: res.NextCursor}
		}
		return nil
	})
	return prompts, err
}

// GetPrompt renders the named prompt.
func (s *ServerSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	cs, err := s.readyFor("")
	if err != nil {
		return nil, err
	}
	var res *mcp.GetPromptResult
	err = s.call(ctx, cs, "", func(ctx context.Context) error {
		var err error
		res, err = cs.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
		return err
	})
	return res, err
}

// ListResources lists the resources of this session's server. Servers
// without resource support report an empty list.
func (s *ServerSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	cs, err := s.readyFor("")
	if err != nil {
		return nil, err
	}
	var resources []*mcp.Resource
	err = s.call(ctx, cs, "", func(ctx context.Context) error {
		params := &mcp.ListResourcesParams{}
		for page := 0; page < maxToolPages; page++ {
			res, err := cs.ListResources(ctx, params)
			if err != nil {
				if page == 0 && isMethodUnavailableError(err) {
					return nil
				}
				return err
			}
			resources = append(resources, res.Resources...)
			if res.NextCursor == "" || res.NextCursor == params.Cursor {
				return nil
			}
			params = &mcp.ListResourcesParams{Cursor: res.NextCursor}
		}
		return nil
	})
	return resources, err
}

// ReadResource fetches the contents of uri.
func (s *ServerSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	cs, err := s.readyFor("")
	if err != nil {
		return nil, err
	}
	var res *mcp.ReadResourceResult
	err = s.call(ctx, cs, "", func(ctx context.Context) error {
		var err error
		res, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		return err
	})
	return res, err
}

// Ping checks that the server still answers.
func (s *ServerSession) Ping(ctx context.Context) error {
	cs, err := s.readyFor("")
	if err != nil {
		return err
	}
	return s.call(ctx, cs, "", func(ctx context.Context) error {
		return cs.Ping(ctx, &mcp.PingParams{})
	})
}

// ListPrompts gathers prompts from every Ready session in declaration order.
// Prompts from the sessions that answered are returned alongside the errors
// of those that did not.
func (r *Router) ListPrompts(ctx context.Context) ([]PromptRef, error) {
	var (
		out  []PromptRef
		errs []error
	)
	for _, s := range r.readySessions() {
		prompts, err := s.ListPrompts(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range prompts {
			out = append(out, PromptRef{Server: s.name, Prompt: p})
		}
	}
	return out, errors.Join(errs...)
}

// ListResources gathers resources from every Ready session in declaration
// order, reporting partial results the same way as ListPrompts.
func (r *Router) ListResources(ctx context.Context) ([]ResourceRef, error) {
	var (
		out  []ResourceRef
		errs []error
	)
	for _, s := range r.readySessions() {
		resources, err := s.ListResources(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, res := range resources {
			out = append(out, ResourceRef{Server: s.name, Resource: res})
		}
	}
	return out, errors.Join(errs...)
}

// GetPrompt renders a prompt from the named server.
func (r *Router) GetPrompt(ctx context.Context, server, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	s, err := r.sessionFor(server)
	if err != nil {
		return nil, err
	}
	return s.GetPrompt(ctx, name, args)
}

// ReadResource reads uri from the named server.
func (r *Router) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	s, err := r.sessionFor(server)
	if err != nil {
		return nil, err
	}
	return s.ReadResource(ctx, uri)
}

// Ping checks the named server.
func (r *Router) Ping(ctx context.Context, server string) error {
	s, err := r.sessionFor(server)
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

func (r *Router) sessionFor(server string) (*ServerSession, error) {
	if r.isClosed() {
		return nil, newError(KindTransport, server, "", ErrRouterClosed)
	}
	s, ok := r.Session(server)
	if !ok {
		if _, configured := r.cfg.Lookup(server); configured {
			return nil, newError(KindTransport, server, "", ErrSessionNotReady)
		}
		return nil, &ConfigError{Reason: fmt.Sprintf("server %q is not configured", server), Err: ErrUnknownServer}
	}
	return s, nil
}

func (r *Router) readySessions() []*ServerSession {
	if r.isClosed() {
		return nil
	}
	var out []*ServerSession
	for _, s := range r.ordered() {
		if s.Status() == StatusReady {
			out = append(out, s)
		}
	}
	return out
}
