package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/cosmo/internal/concurrency"
	"github.com/harunnryd/cosmo/internal/config"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/logger"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"golang.org/x/sync/errgroup"
)

var ErrToolNotFound = errors.New("tool not found")

// maxParallelConnects bounds how many servers start at once.
const maxParallelConnects = 8

// Registry merges the tools of many servers into one catalog and routes
// calls to the owning server. When two servers advertise the same tool
// name the first registration wins.
type Registry struct {
	factory        TransportFactory
	connectTimeout time.Duration

	mu        sync.RWMutex
	servers   map[string]Transport
	tools     []contract.ToolDefinition
	toolIndex map[string]string
	enabled   map[string]bool

	calls *concurrency.KeyedMutex
}

type RegistryOption func(*Registry)

func WithTransportFactory(factory TransportFactory) RegistryOption {
	return func(r *Registry) {
		if factory != nil {
			r.factory = factory
		}
	}
}

func WithConnectTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.connectTimeout = d
	}
}

// WithToolStates seeds enabled flags, typically loaded from a ToolStateStore.
// Tools discovered later keep a seeded flag instead of defaulting to enabled.
func WithToolStates(states map[string]bool) RegistryOption {
	return func(r *Registry) {
		for name, enabled := range states {
			r.enabled[name] = enabled
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:   StdioFactory,
		servers:   make(map[string]Transport),
		toolIndex: make(map[string]string),
		enabled:   make(map[string]bool),
		calls:     concurrency.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitializeFromConfig connects every configured server concurrently. A
// server that fails is logged and skipped; the failures are returned joined
// so callers can report them, but the registry stays usable.
func (r *Registry) InitializeFromConfig(ctx context.Context, servers map[string]config.MCPServerConfig) error {
	names := config.ServerNames(servers)

	type outcome struct {
		transport Transport
		tools     []contract.ToolDefinition
		err       error
	}
	outcomes := make([]outcome, len(names))

	var g errgroup.Group
	g.SetLimit(maxParallelConnects)
	for i, name := range names {
		g.Go(func() error {
			transport, tools, err := r.connect(ctx, name, servers[name])
			outcomes[i] = outcome{transport: transport, tools: tools, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, name := range names {
		res := outcomes[i]
		if res.err == nil {
			res.err = r.register(name, res.transport, res.tools)
			if res.err != nil {
				_ = res.transport.Disconnect()
			}
		}
		if res.err != nil {
			slog.Error("Failed to connect to MCP server", "server", name, "error", res.err)
			errs = append(errs, fmt.Errorf("%s: %w", name, res.err))
			continue
		}
		slog.Info("MCP server registered", "server", name, "tools", len(res.tools))
	}

	return errors.Join(errs...)
}

// AddServer starts one server, discovers its tools and merges them.
func (r *Registry) AddServer(ctx context.Context, name, command string, args []string, env map[string]string) error {
	r.mu.RLock()
	_, exists := r.servers[name]
	r.mu.RUnlock()
	if exists {
		return cosmoErrors.Conflict(fmt.Sprintf("mcp server %s already registered", name))
	}

	cfg := config.MCPServerConfig{Command: command, Args: args, Env: env}.Expanded()
	transport, tools, err := r.connect(ctx, name, cfg)
	if err != nil {
		return fmt.Errorf("connect to mcp server %s: %w", name, err)
	}

	if err := r.register(name, transport, tools); err != nil {
		_ = transport.Disconnect()
		return err
	}

	slog.Info("MCP server registered", "server", name, "tools", len(tools))
	return nil
}

func (r *Registry) connect(ctx context.Context, name string, cfg config.MCPServerConfig) (Transport, []contract.ToolDefinition, error) {
	if r.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.connectTimeout)
		defer cancel()
	}

	transport := r.factory(name, cfg)
	if err := transport.Connect(ctx); err != nil {
		_ = transport.Disconnect()
		return nil, nil, err
	}

	tools, err := transport.DiscoverTools(ctx)
	if err != nil {
		_ = transport.Disconnect()
		return nil, nil, fmt.Errorf("discover tools: %w", err)
	}

	return transport, tools, nil
}

func (r *Registry) register(name string, transport Transport, tools []contract.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[name]; exists {
		return cosmoErrors.Conflict(fmt.Sprintf("mcp server %s already registered", name))
	}
	r.servers[name] = transport

	for _, tool := range tools {
		if owner, taken := r.toolIndex[tool.Name]; taken {
			slog.Warn("Duplicate tool name, keeping first registration", "tool", tool.Name, "server", name, "owner", owner)
			continue
		}
		r.toolIndex[tool.Name] = name
		r.tools = append(r.tools, tool)
		if _, seeded := r.enabled[tool.Name]; !seeded {
			r.enabled[tool.Name] = true
		}
	}
	return nil
}

// AvailableTools returns every tool in the catalog in discovery order.
func (r *Registry) AvailableTools() []contract.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contract.ToolDefinition, len(r.tools))
	copy(out, r.tools)
	return out
}

func (r *Registry) EnabledTools() []contract.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contract.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		if r.isEnabledLocked(tool.Name) {
			out = append(out, tool)
		}
	}
	return out
}

func (r *Registry) IsToolEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEnabledLocked(name)
}

func (r *Registry) isEnabledLocked(name string) bool {
	enabled, ok := r.enabled[name]
	return !ok || enabled
}

func (r *Registry) SetToolEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[name] = enabled
}

func (r *Registry) EnableAll() {
	r.setAll(true)
}

func (r *Registry) DisableAll() {
	r.setAll(false)
}

func (r *Registry) setAll(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range r.tools {
		r.enabled[tool.Name] = enabled
	}
}

// ToolStates returns a copy of the enabled flags, suitable for saving.
func (r *Registry) ToolStates() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.enabled))
	for name, enabled := range r.enabled {
		out[name] = enabled
	}
	return out
}

func (r *Registry) ServerForTool(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, ok := r.toolIndex[name]
	if !ok {
		return "", cosmoErrors.WrapWithCategory(ErrToolNotFound, name, cosmoErrors.ErrNotFound)
	}
	return server, nil
}

// Servers returns the registered server names, sorted.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool routes the call to the owning server. Calls to one server are
// serialized; calls to different servers run in parallel.
func (r *Registry) CallTool(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error) {
	r.mu.RLock()
	server, ok := r.toolIndex[call.Name]
	transport := r.servers[server]
	enabled := r.isEnabledLocked(call.Name)
	r.mu.RUnlock()

	if !ok {
		return contract.ToolResult{}, cosmoErrors.WrapWithCategory(ErrToolNotFound, call.Name, cosmoErrors.ErrNotFound)
	}
	if transport == nil {
		return contract.ToolResult{}, cosmoErrors.NotFound(fmt.Sprintf("mcp server %s not found", server))
	}
	if !enabled {
		return contract.ToolResult{}, cosmoErrors.PermissionDenied(fmt.Sprintf("tool %s is disabled", call.Name))
	}

	unlock := r.calls.Lock(server)
	defer unlock()

	log := logger.FromContext(ctx).With("tool", call.Name, "server", server)
	start := time.Now()
	log.Info("Calling tool", "call_id", call.ID)

	result, err := transport.CallTool(ctx, call)
	duration := time.Since(start)
	if err != nil {
		log.Error("Tool call failed", "error", err, "duration", duration)
		return contract.ToolResult{}, err
	}

	log.Info("Tool call finished", "is_error", result.IsError, "duration", duration)
	return result, nil
}

// RemoveServer disconnects a server and drops its tools from the catalog.
func (r *Registry) RemoveServer(name string) error {
	r.mu.Lock()
	transport, ok := r.servers[name]
	if !ok {
		r.mu.Unlock()
		return cosmoErrors.NotFound(fmt.Sprintf("mcp server %s not found", name))
	}
	delete(r.servers, name)

	kept := r.tools[:0]
	for _, tool := range r.tools {
		if r.toolIndex[tool.Name] == name {
			delete(r.toolIndex, tool.Name)
			continue
		}
		kept = append(kept, tool)
	}
	r.tools = kept
	r.mu.Unlock()

	unlock := r.calls.Lock(name)
	err := transport.Disconnect()
	unlock()
	r.calls.Forget(name)

	slog.Info("MCP server removed", "server", name)
	return err
}

// Close disconnects every server. The registry is empty afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	servers := r.servers
	r.servers = make(map[string]Transport)
	r.tools = nil
	r.toolIndex = make(map[string]string)
	r.mu.Unlock()

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		unlock := r.calls.Lock(name)
		if err := servers[name].Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		unlock()
		r.calls.Forget(name)
	}
	return errors.Join(errs...)
}
