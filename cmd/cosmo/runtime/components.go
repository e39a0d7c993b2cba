package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/harunnryd/cosmo/internal/agent"
	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/logger"
	"github.com/harunnryd/cosmo/internal/mcp"
	"github.com/harunnryd/cosmo/internal/model"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config      *config.Config
	ProfileName string
	Profile     config.ModelProfile

	Client     model.Client
	Registry   *mcp.Registry
	ToolStates *mcp.ToolStateStore
	ToolLog    *agent.ToolLogger
	Loop       *agent.Loop

	SystemPrompt string

	stopOnce sync.Once
}

type componentOptions struct {
	profile   string
	noTools   bool
	client    model.Client
	transport mcp.TransportFactory
}

func NewRuntimeComponents(ctx context.Context, cfg *config.Config, opts componentOptions) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	ctx = logger.WithConversationID(ctx, ulid.Make().String())

	components := &RuntimeComponents{
		Ctx:        ctx,
		Cancel:     cancel,
		Config:     cfg,
		ToolStates: mcp.NewToolStateStore(cfg.MCP.ToolStateFile),
	}

	if err := components.init(opts); err != nil {
		components.cleanup()
		return nil, err
	}
	return components, nil
}

func (r *RuntimeComponents) init(opts componentOptions) error {
	name, profile, err := r.Config.Profile(opts.profile)
	if err != nil {
		return err
	}
	r.ProfileName = name
	r.Profile = profile

	r.Client = opts.client
	if r.Client == nil {
		r.Client, err = model.NewClient(r.Ctx, name, profile)
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
	}

	r.Registry, err = OpenToolRegistry(r.Ctx, r.Config, r.ToolStates, !opts.noTools, opts.transport)
	if err != nil {
		return err
	}

	if path := r.Config.Agent.ToolLogFile; path != "" {
		r.ToolLog, err = agent.OpenToolLogger(path)
		if err != nil {
			return err
		}
	}

	loopOpts, err := agent.OptionsFromConfig(r.Config.Agent, profile)
	if err != nil {
		return err
	}
	loopOpts.ToolLogger = r.ToolLog

	var tools agent.ToolCatalog
	if !opts.noTools {
		tools = r.Registry
	}
	r.Loop = agent.NewLoop(r.Client, tools, loopOpts)

	r.SystemPrompt = LoadSystemPrompt(r.Config.Agent)
	return nil
}

// OpenToolRegistry builds a registry seeded with the saved tool states and,
// when connect is set, starts every configured server. Servers that fail to
// start are logged and left out.
func OpenToolRegistry(ctx context.Context, cfg *config.Config, store *mcp.ToolStateStore, connect bool, factory mcp.TransportFactory) (*mcp.Registry, error) {
	states, err := store.Load()
	if err != nil {
		slog.Warn("Ignoring unreadable tool states", "path", store.Path(), "error", err)
		states = nil
	}

	connectTimeout, err := cfg.MCP.ConnectTimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid mcp.connect_timeout: %w", err)
	}
	opts := []mcp.RegistryOption{
		mcp.WithToolStates(states),
		mcp.WithConnectTimeout(connectTimeout),
	}
	if factory != nil {
		opts = append(opts, mcp.WithTransportFactory(factory))
	}
	registry := mcp.NewRegistry(opts...)

	if !connect {
		return registry, nil
	}
	servers, err := cfg.ResolveMCPServers()
	if err != nil {
		return nil, err
	}
	if err := registry.InitializeFromConfig(ctx, servers); err != nil {
		slog.Warn("Some MCP servers are unavailable", "error", err)
	}
	return registry, nil
}

// LoadSystemPrompt prefers the inline prompt over the prompt file. A missing
// or unreadable file means no system prompt.
func LoadSystemPrompt(agentCfg config.AgentConfig) string {
	if prompt := strings.TrimSpace(agentCfg.SystemPrompt); prompt != "" {
		return prompt
	}
	if agentCfg.SystemPromptFile == "" {
		return ""
	}

	data, err := os.ReadFile(agentCfg.SystemPromptFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load system prompt", "path", agentCfg.SystemPromptFile, "error", err)
		}
		return ""
	}
	slog.Debug("Loaded system prompt", "path", agentCfg.SystemPromptFile)
	return strings.TrimSpace(string(data))
}

// NewConversation starts a history seeded with the system prompt, if any.
func (r *RuntimeComponents) NewConversation() []contract.Message {
	if r.SystemPrompt == "" {
		return nil
	}
	msg := contract.NewMessage(contract.RoleSystem, r.SystemPrompt)
	msg.IsPrompt = true
	return []contract.Message{msg}
}

// SaveToolStates persists the registry's enabled flags.
func (r *RuntimeComponents) SaveToolStates() error {
	return r.ToolStates.Save(r.Registry.ToolStates())
}

func (r *RuntimeComponents) Stop() {
	r.stopOnce.Do(r.cleanup)
}

func (r *RuntimeComponents) cleanup() {
	if r.Cancel != nil {
		r.Cancel()
	}
	if r.Registry != nil {
		if err := r.Registry.Close(); err != nil {
			slog.Warn("Failed to stop MCP servers", "error", err)
		}
	}
	if err := r.ToolLog.Close(); err != nil {
		slog.Warn("Failed to close tool log", "error", err)
	}
}
