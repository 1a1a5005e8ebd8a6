package mcprouter

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// serverEntry is the on-disk shape of one "mcpServers" member. Both the
// "transport" key and the "type" key used by editor configs are accepted.
type serverEntry struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	URL       string            `json:"url"`
	Transport string            `json:"transport"`
	Type      string            `json:"type"`
	Headers   map[string]string `json:"headers"`
	Timeout   string            `json:"timeout"`
	Disabled  bool              `json:"disabled"`
}

// LoadConfig reads an "mcpServers" JSON document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "cannot read file", Err: err}
	}
	return parseConfig(path, data)
}

// ParseConfig parses an "mcpServers" JSON document. Server order follows the
// order of the keys in the document.
func ParseConfig(data []byte) (*Config, error) {
	return parseConfig("", data)
}

func parseConfig(path string, data []byte) (*Config, error) {
	iter := jsoniter.ParseBytes(jsonAPI, data)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, &ConfigError{Path: path, Reason: "top level must be a JSON object"}
	}

	var (
		cfg    Config
		found  bool
		cfgErr *ConfigError
	)
	seen := make(map[string]struct{})

	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key != "mcpServers" {
			it.Skip()
			return true
		}
		if found {
			cfgErr = &ConfigError{Path: path, Reason: `"mcpServers" declared more than once`}
			return false
		}
		found = true
		if it.WhatIsNext() != jsoniter.ObjectValue {
			cfgErr = &ConfigError{Path: path, Reason: `"mcpServers" must be an object`}
			return false
		}
		return it.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
			if _, dup := seen[name]; dup {
				cfgErr = &ConfigError{Path: path, Reason: fmt.Sprintf("duplicate server name %q", name)}
				return false
			}
			seen[name] = struct{}{}
			if it.WhatIsNext() != jsoniter.ObjectValue {
				cfgErr = &ConfigError{Path: path, Reason: fmt.Sprintf("server %q must be an object", name)}
				return false
			}
			var entry serverEntry
			it.ReadVal(&entry)
			if it.Error != nil {
				return false
			}
			if entry.Disabled {
				return true
			}
			sc, err := entry.serverConfig(name)
			if err != nil {
				cfgErr = &ConfigError{Path: path, Reason: err.Error()}
				return false
			}
			cfg.Servers = append(cfg.Servers, NamedServer{Name: name, Server: sc})
			return true
		})
	})

	if cfgErr != nil {
		return nil, cfgErr
	}
	if iter.Error != nil {
		return nil, &ConfigError{Path: path, Reason: "malformed JSON", Err: iter.Error}
	}
	// Only whitespace may follow the top-level object.
	if iter.WhatIsNext(); iter.Error != io.EOF {
		return nil, &ConfigError{Path: path, Reason: "unexpected data after the top-level object"}
	}
	if !found {
		return nil, &ConfigError{Path: path, Reason: `missing "mcpServers"`}
	}
	if err := validateServers(cfg.Servers); err != nil {
		err.Path = path
		return nil, err
	}
	return &cfg, nil
}

func (e serverEntry) serverConfig(name string) (ServerConfig, error) {
	if name == "" {
		return nil, fmt.Errorf("server name must not be empty")
	}
	var base BaseServerConfig
	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("server %q: invalid timeout %q", name, e.Timeout)
		}
		base.Timeout = d
	}

	kind := strings.ToLower(strings.TrimSpace(e.Transport))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(e.Type))
	}

	switch {
	case e.Command != "" && e.URL != "":
		return nil, fmt.Errorf("server %q: set either command or url, not both", name)
	case e.Command != "":
		if kind != "" && kind != "stdio" {
			return nil, fmt.Errorf("server %q: transport %q requires url", name, kind)
		}
		return &StdioServerConfig{
			BaseServerConfig: base,
			Command:          e.Command,
			Args:             append([]string(nil), e.Args...),
			Env:              e.Env,
		}, nil
	case e.URL != "":
		var transport HTTPTransportKind
		switch kind {
		case "", "auto":
		case "sse":
			transport = HTTPTransportSSE
		case "http", "streamable", "streamable-http", "streamablehttp":
			transport = HTTPTransportStreamable
		default:
			return nil, fmt.Errorf("server %q: unknown transport %q", name, kind)
		}
		var headers http.Header
		if len(e.Headers) > 0 {
			headers = make(http.Header, len(e.Headers))
			for k, v := range e.Headers {
				headers.Set(k, os.ExpandEnv(v))
			}
		}
		return &HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         e.URL,
			Transport:        transport,
			Headers:          headers,
		}, nil
	default:
		return nil, fmt.Errorf("server %q: command or url is required", name)
	}
}

func validateServers(servers []NamedServer) *ConfigError {
	if len(servers) == 0 {
		return &ConfigError{Reason: "no servers configured"}
	}
	seen := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		if s.Name == "" {
			return &ConfigError{Reason: "server name must not be empty"}
		}
		if _, dup := seen[s.Name]; dup {
			return &ConfigError{Reason: fmt.Sprintf("duplicate server name %q", s.Name)}
		}
		seen[s.Name] = struct{}{}
		if s.Server == nil {
			return &ConfigError{Reason: fmt.Sprintf("server %q has no configuration", s.Name)}
		}
	}
	return nil
}
