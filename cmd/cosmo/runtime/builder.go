package runtime

import (
	"context"
	"fmt"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/mcp"
	"github.com/harunnryd/cosmo/internal/model"
)

type RuntimeBuilder interface {
	WithContext(ctx context.Context) RuntimeBuilder
	WithConfig(cfg *config.Config) RuntimeBuilder
	WithProfile(name string) RuntimeBuilder
	WithoutTools() RuntimeBuilder
	WithClient(client model.Client) RuntimeBuilder
	WithTransportFactory(factory mcp.TransportFactory) RuntimeBuilder
	Build() (*RuntimeComponents, error)
}

type DefaultRuntimeBuilder struct {
	ctx       context.Context
	cfg       *config.Config
	profile   string
	noTools   bool
	client    model.Client
	transport mcp.TransportFactory
}

func NewRuntimeBuilder() RuntimeBuilder {
	return &DefaultRuntimeBuilder{}
}

func (b *DefaultRuntimeBuilder) WithContext(ctx context.Context) RuntimeBuilder {
	b.ctx = ctx
	return b
}

func (b *DefaultRuntimeBuilder) WithConfig(cfg *config.Config) RuntimeBuilder {
	b.cfg = cfg
	return b
}

// WithProfile selects a model profile; empty means models.default.
func (b *DefaultRuntimeBuilder) WithProfile(name string) RuntimeBuilder {
	b.profile = name
	return b
}

// WithoutTools skips launching tool servers.
func (b *DefaultRuntimeBuilder) WithoutTools() RuntimeBuilder {
	b.noTools = true
	return b
}

// WithClient replaces the client that would be built from the profile.
func (b *DefaultRuntimeBuilder) WithClient(client model.Client) RuntimeBuilder {
	b.client = client
	return b
}

func (b *DefaultRuntimeBuilder) WithTransportFactory(factory mcp.TransportFactory) RuntimeBuilder {
	b.transport = factory
	return b
}

func (b *DefaultRuntimeBuilder) Build() (*RuntimeComponents, error) {
	if b.ctx == nil {
		b.ctx = context.Background()
	}

	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewRuntimeComponents(b.ctx, b.cfg, componentOptions{
		profile:   b.profile,
		noTools:   b.noTools,
		client:    b.client,
		transport: b.transport,
	})
}
