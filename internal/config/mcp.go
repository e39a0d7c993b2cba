package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/harunnryd/cosmo/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// mcpDelim is used for the server file so server names may contain dots.
const mcpDelim = "::"

// LoadMCPServersFile reads a {"mcpServers": {...}} document. JSON is parsed
// with the YAML parser since every JSON document is valid YAML. A missing
// file yields an empty set.
func LoadMCPServersFile(path string) (map[string]MCPServerConfig, error) {
	servers := make(map[string]MCPServerConfig)
	if path == "" {
		return servers, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return servers, nil
	}

	k := koanf.New(mcpDelim)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load mcp config %s: %w", path, err)
	}
	if err := k.Unmarshal("mcpServers", &servers); err != nil {
		return nil, fmt.Errorf("decode mcp config %s: %w", path, err)
	}
	return servers, nil
}

// ResolveMCPServers merges the server file with inline servers (inline wins)
// and expands ${env:VAR} references in command, args and env values.
func (c *Config) ResolveMCPServers() (map[string]MCPServerConfig, error) {
	fromFile, err := LoadMCPServersFile(c.MCP.ConfigFile)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]MCPServerConfig, len(fromFile)+len(c.MCP.Servers))
	for name, srv := range fromFile {
		merged[name] = srv
	}
	for name, srv := range c.MCP.Servers {
		merged[name] = srv
	}

	for name, srv := range merged {
		merged[name] = srv.Expanded()
	}
	return merged, nil
}

// Expanded returns a copy with ${env:VAR} references resolved.
func (s MCPServerConfig) Expanded() MCPServerConfig {
	out := MCPServerConfig{
		Command: pathutil.ExpandEnvRefs(s.Command),
	}
	if len(s.Args) > 0 {
		out.Args = make([]string, len(s.Args))
		for i, arg := range s.Args {
			out.Args[i] = pathutil.ExpandEnvRefs(arg)
		}
	}
	if len(s.Env) > 0 {
		out.Env = make(map[string]string, len(s.Env))
		for key, value := range s.Env {
			out.Env[key] = pathutil.ExpandEnvRefs(value)
		}
	}
	return out
}

// ServerNames returns the keys of servers in sorted order.
func ServerNames(servers map[string]MCPServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
