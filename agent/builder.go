// Agent service builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/storage"
	"github.com/richinex/tsgpipe/tools"
)

// Builder provides fluent configuration for creating a Service.
// Usage: agent.NewBuilder(provider).Tools(registry).Build()
type Builder struct {
	provider llm.Provider
	registry *tools.Registry
	executor *tools.Executor
	store    storage.ConversationStorage
	logger   *zap.Logger
	config   Config
}

// NewBuilder creates a builder for the given provider.
func NewBuilder(provider llm.Provider) *Builder {
	return &Builder{
		provider: provider,
		config:   DefaultConfig(),
	}
}

// Tools sets the registry offered to requests with UseTools.
func (b *Builder) Tools(registry *tools.Registry) *Builder {
	b.registry = registry
	return b
}

// Executor overrides the tool executor.
func (b *Builder) Executor(executor *tools.Executor) *Builder {
	b.executor = executor
	return b
}

// Storage sets where conversation history is kept.
func (b *Builder) Storage(store storage.ConversationStorage) *Builder {
	b.store = store
	return b
}

// Logger sets the logger.
func (b *Builder) Logger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Config replaces the service configuration.
func (b *Builder) Config(config Config) *Builder {
	b.config = config
	return b
}

// MaxToolRounds sets the tool round limit.
func (b *Builder) MaxToolRounds(n int) *Builder {
	b.config.MaxToolRounds = n
	return b
}

// Build creates the service.
func (b *Builder) Build() (*Service, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	s := &Service{
		provider: b.provider,
		registry: b.registry,
		executor: b.executor,
		store:    b.store,
		logger:   b.logger,
		config:   b.config.withDefaults(),
	}
	if s.registry == nil {
		s.registry = tools.NewRegistry()
	}
	if s.executor == nil {
		s.executor = tools.NewDefaultExecutor()
	}
	if s.store == nil {
		s.store = storage.NewInMemoryStorage()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}
