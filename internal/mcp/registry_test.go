package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/cosmo/internal/config"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	name        string
	tools       []contract.ToolDefinition
	connectErr  error
	discoverErr error
	call        func(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error)

	active        atomic.Int32
	maxActive     atomic.Int32
	disconnects   atomic.Int32
	disconnectErr error
}

func (f *fakeTransport) Connect(context.Context) error { return f.connectErr }

func (f *fakeTransport) Disconnect() error {
	f.disconnects.Add(1)
	return f.disconnectErr
}

func (f *fakeTransport) DiscoverTools(context.Context) ([]contract.ToolDefinition, error) {
	return f.tools, f.discoverErr
}

func (f *fakeTransport) CallTool(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.call != nil {
		return f.call(ctx, call)
	}
	return contract.ToolResult{Content: f.name + ":" + call.Name}, nil
}

func toolDefs(names ...string) []contract.ToolDefinition {
	defs := make([]contract.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, contract.ToolDefinition{Name: name, Description: name + " tool"})
	}
	return defs
}

func factoryFor(transports map[string]*fakeTransport) TransportFactory {
	return func(name string, _ config.MCPServerConfig) Transport {
		return transports[name]
	}
}

func serverConfigs(names ...string) map[string]config.MCPServerConfig {
	out := make(map[string]config.MCPServerConfig, len(names))
	for _, name := range names {
		out[name] = config.MCPServerConfig{Command: name}
	}
	return out
}

func TestRegistry_InitializeMergesToolsFirstWins(t *testing.T) {
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("read_file", "search")},
		"beta":  {name: "beta", tools: toolDefs("search", "fetch")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))

	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("beta", "alpha")))

	var names []string
	for _, tool := range registry.AvailableTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"read_file", "search", "fetch"}, names)

	server, err := registry.ServerForTool("search")
	require.NoError(t, err)
	assert.Equal(t, "alpha", server)

	result, err := registry.CallTool(context.Background(), contract.ToolCall{Name: "search"})
	require.NoError(t, err)
	assert.Equal(t, "alpha:search", result.Content)

	assert.Equal(t, []string{"alpha", "beta"}, registry.Servers())
}

func TestRegistry_InitializeSkipsFailingServers(t *testing.T) {
	transports := map[string]*fakeTransport{
		"broken":  {name: "broken", connectErr: cosmoErrors.Transport("spawn failed")},
		"listing": {name: "listing", discoverErr: errors.New("bad list")},
		"good":    {name: "good", tools: toolDefs("ping")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))

	err := registry.InitializeFromConfig(context.Background(), serverConfigs("broken", "listing", "good"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "listing")
	assert.ErrorIs(t, err, cosmoErrors.ErrTransport)

	assert.Equal(t, []string{"good"}, registry.Servers())
	assert.Len(t, registry.AvailableTools(), 1)
	assert.Equal(t, int32(1), transports["broken"].disconnects.Load())
	assert.Equal(t, int32(1), transports["listing"].disconnects.Load())
}

func TestRegistry_CallToolErrors(t *testing.T) {
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("ping")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))
	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("alpha")))

	_, err := registry.CallTool(context.Background(), contract.ToolCall{Name: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cosmoErrors.ErrNotFound)
	assert.ErrorIs(t, err, ErrToolNotFound)

	registry.SetToolEnabled("ping", false)
	_, err = registry.CallTool(context.Background(), contract.ToolCall{Name: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cosmoErrors.ErrPermissionDenied)
}

func TestRegistry_EnableStates(t *testing.T) {
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("a", "b", "c")},
	}
	registry := NewRegistry(
		WithTransportFactory(factoryFor(transports)),
		WithToolStates(map[string]bool{"b": false}),
	)
	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("alpha")))

	assert.True(t, registry.IsToolEnabled("a"))
	assert.False(t, registry.IsToolEnabled("b"))
	assert.True(t, registry.IsToolEnabled("unknown"))
	assert.Len(t, registry.EnabledTools(), 2)

	registry.DisableAll()
	assert.Empty(t, registry.EnabledTools())
	assert.Len(t, registry.AvailableTools(), 3)

	registry.EnableAll()
	assert.Len(t, registry.EnabledTools(), 3)

	registry.SetToolEnabled("c", false)
	states := registry.ToolStates()
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, states)

	states["a"] = false
	assert.True(t, registry.IsToolEnabled("a"), "ToolStates must return a copy")
}

func TestRegistry_SerializesCallsPerServer(t *testing.T) {
	slow := func(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error) {
		time.Sleep(10 * time.Millisecond)
		return contract.ToolResult{Content: call.Name}, nil
	}
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("one", "two"), call: slow},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))
	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("alpha")))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		name := "one"
		if i%2 == 1 {
			name = "two"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.CallTool(context.Background(), contract.ToolCall{Name: name})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transports["alpha"].maxActive.Load())
}

func TestRegistry_DifferentServersRunInParallel(t *testing.T) {
	release := make(chan struct{})
	transports := map[string]*fakeTransport{
		"blocking": {name: "blocking", tools: toolDefs("wait"), call: func(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return contract.ToolResult{}, ctx.Err()
			}
			return contract.ToolResult{Content: "released"}, nil
		}},
		"quick": {name: "quick", tools: toolDefs("now")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))
	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("blocking", "quick")))

	done := make(chan contract.ToolResult, 1)
	go func() {
		result, _ := registry.CallTool(context.Background(), contract.ToolCall{Name: "wait"})
		done <- result
	}()

	result, err := registry.CallTool(context.Background(), contract.ToolCall{Name: "now"})
	require.NoError(t, err)
	assert.Equal(t, "quick:now", result.Content)

	close(release)
	select {
	case result := <-done:
		assert.Equal(t, "released", result.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked call did not finish")
	}
}

func TestRegistry_AddAndRemoveServer(t *testing.T) {
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("ping")},
		"beta":  {name: "beta", tools: toolDefs("pong")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))

	require.NoError(t, registry.AddServer(context.Background(), "alpha", "alpha-server", nil, nil))
	require.NoError(t, registry.AddServer(context.Background(), "beta", "beta-server", []string{"--flag"}, map[string]string{"K": "V"}))

	err := registry.AddServer(context.Background(), "alpha", "alpha-server", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cosmoErrors.ErrConflict)

	require.NoError(t, registry.RemoveServer("alpha"))
	assert.Equal(t, []string{"beta"}, registry.Servers())
	assert.Equal(t, int32(1), transports["alpha"].disconnects.Load())

	_, err = registry.CallTool(context.Background(), contract.ToolCall{Name: "ping"})
	assert.ErrorIs(t, err, cosmoErrors.ErrNotFound)

	err = registry.RemoveServer("alpha")
	assert.ErrorIs(t, err, cosmoErrors.ErrNotFound)
}

func TestRegistry_CloseDisconnectsEverything(t *testing.T) {
	transports := map[string]*fakeTransport{
		"alpha": {name: "alpha", tools: toolDefs("ping")},
		"beta":  {name: "beta", tools: toolDefs("pong"), disconnectErr: errors.New("stuck")},
	}
	registry := NewRegistry(WithTransportFactory(factoryFor(transports)))
	require.NoError(t, registry.InitializeFromConfig(context.Background(), serverConfigs("alpha", "beta")))

	err := registry.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beta: stuck")

	assert.Empty(t, registry.Servers())
	assert.Empty(t, registry.AvailableTools())
	assert.Equal(t, int32(1), transports["alpha"].disconnects.Load())
	assert.Equal(t, int32(1), transports["beta"].disconnects.Load())
}

func TestRegistry_StdioEndToEnd(t *testing.T) {
	registry := NewRegistry(WithConnectTimeout(10 * time.Second))
	t.Cleanup(func() { _ = registry.Close() })

	require.NoError(t, registry.InitializeFromConfig(context.Background(), map[string]config.MCPServerConfig{
		"fake": fakeServerConfig(nil),
	}))

	result, err := registry.CallTool(context.Background(), contract.ToolCall{Name: "echo", Parameters: []byte(`{"text":"via registry"}`)})
	require.NoError(t, err)
	assert.Equal(t, "via registry", result.Content)
}
