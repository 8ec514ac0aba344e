// Package cli wires settings, storage, providers and tools into the
// orchestrator and renders runs for the terminal.
package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/agent"
	"github.com/richinex/tsgpipe/config"
	"github.com/richinex/tsgpipe/gate"
	"github.com/richinex/tsgpipe/internal/logging"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/mcp"
	"github.com/richinex/tsgpipe/orchestration"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/storage"
	"github.com/richinex/tsgpipe/stream"
	"github.com/richinex/tsgpipe/tools"
)

// Options holds the global command-line flags.
type Options struct {
	Provider string
	Verbose  bool
	DBPath   string // empty uses SESSION_DB

	MCPServers []string
	MCPConfig  string
}

// App owns everything a command needs. Close releases it.
type App struct {
	Settings config.Settings
	Logger   *zap.Logger
	Sessions storage.SessionStore
	Gate     *gate.Gate

	opts Options
	db   *storage.SqliteStorage
	mcp  *mcp.ToolManager
}

// Open loads settings and opens the session database. Provider credentials
// are not needed until Orchestrator is called.
func Open(ctx context.Context, opts Options) (*App, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		settings.Log.Verbose = true
	}
	if opts.DBPath != "" {
		settings.Session.DBPath = opts.DBPath
	}

	logger, err := logging.New(logging.Config{
		Dir:     settings.Log.Dir,
		Verbose: settings.Log.Verbose,
		Console: settings.Log.Verbose,
	})
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenSqlite(settings.Session.DBPath)
	if err != nil {
		return nil, err
	}
	if n, err := db.DeleteExpired(ctx, settings.Session.TTL); err != nil {
		logger.Warn("failed to purge expired sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("purged expired sessions", zap.Int64("count", n))
	}

	return &App{
		Settings: settings,
		Logger:   logger,
		Sessions: db.Sessions(settings.Session.TTL),
		Gate:     newGate(settings.Gate, logger),
		opts:     opts,
		db:       db,
	}, nil
}

// Close releases MCP servers and the database.
func (a *App) Close() error {
	var err error
	if a.mcp != nil {
		err = multierr.Append(err, a.mcp.Close())
	}
	err = multierr.Append(err, a.db.Close())
	_ = a.Logger.Sync()
	return err
}

// Orchestrator builds the provider, research tools and stage runner.
func (a *App) Orchestrator(ctx context.Context) (*orchestration.Orchestrator, error) {
	provider, err := createProvider(a.Settings.LLM)
	if err != nil {
		return nil, err
	}

	p := a.Settings.Pipeline
	registry, err := tools.ForResearch(tools.ResearchOptions{Timeout: p.ToolCallTimeout})
	if err != nil {
		return nil, err
	}
	if len(a.opts.MCPServers) > 0 || a.opts.MCPConfig != "" {
		manager, err := discoverMCP(ctx, a.opts.MCPServers, a.opts.MCPConfig)
		if err != nil {
			return nil, err
		}
		a.mcp = manager
		if err := manager.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register MCP tools: %w", err)
		}
		a.Logger.Info("MCP tools registered", zap.Int("count", len(manager.Tools())))
	}

	service, err := agent.NewBuilder(provider).
		Tools(registry).
		Executor(tools.NewExecutor(tools.ToolConfig{
			TimeoutSecs: uint64(p.ToolCallTimeout.Seconds()),
			MaxRetries:  2,
		})).
		Storage(a.db).
		Logger(a.Logger).
		Config(agent.Config{MaxToolRounds: p.MaxToolRounds, ToolTimeout: p.ToolCallTimeout}).
		Build()
	if err != nil {
		return nil, err
	}

	executor := stage.NewExecutor(service, stream.Config{
		QueueSize:         p.EventQueueSize,
		KeepaliveInterval: p.KeepaliveInterval,
		IdleTimeout:       p.StreamIdleTimeout,
		StallTimeout:      p.StallTimeout,
		ToolTimeout:       p.ToolCallTimeout,
		Debug:             a.Settings.Log.Verbose,
	}, a.Logger)
	retrier := stage.NewRetrier(executor, stage.RetryConfig{
		Budgets: stage.Budgets{
			Research: p.ResearchMaxRetries,
			Write:    p.WriteMaxRetries,
			Review:   p.ReviewMaxRetries,
		},
		BackoffBase:   p.BackoffBase,
		BackoffMax:    p.BackoffMax,
		RateLimitBase: p.RateLimitBackoffBase,
	}, a.Logger)

	cfg := orchestration.DefaultConfig()
	cfg.StructureMaxRetries = p.ReviewStructureMaxRetries
	if cfg.EventBuffer < p.EventQueueSize {
		cfg.EventBuffer = p.EventQueueSize
	}

	return orchestration.New(orchestration.Deps{
		Runner: retrier,
		Gate:   a.Gate,
		Store:  a.Sessions,
		Logger: a.Logger,
		Config: cfg,
	})
}

func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(cfg.Model).
		MaxTokens(cfg.MaxTokens).
		Temperature(float32(cfg.Temperature)).
		APIKey(apiKey)
}

const gateCacheTTL = 10 * time.Minute

// newGate returns a gate that fails closed when the language service is
// not configured.
func newGate(cfg config.GateConfig, logger *zap.Logger) *gate.Gate {
	var detector gate.Detector
	if cfg.Endpoint != "" && cfg.APIKey != "" {
		detector = gate.NewLanguageClient(cfg.Endpoint, cfg.APIKey)
	}
	return gate.New(detector, gate.Options{
		Threshold:         cfg.ConfidenceThreshold,
		ChunkSize:         cfg.ChunkSize,
		MaxDocsPerRequest: cfg.MaxDocsPerRequest,
		Categories:        cfg.Categories,
		CacheTTL:          gateCacheTTL,
	}, logger)
}

// discoverMCP merges the config file with --mcp commands and connects to
// every server. Command-line servers are named cli-1, cli-2 and so on.
func discoverMCP(ctx context.Context, commands []string, configPath string) (*mcp.ToolManager, error) {
	cfg := &mcp.Config{MCPServers: map[string]mcp.ServerConfig{}}
	if configPath != "" {
		loaded, err := mcp.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		for name, server := range loaded.MCPServers {
			cfg.MCPServers[name] = server
		}
	}
	for i, command := range commands {
		server, err := mcp.ParseCommand(command)
		if err != nil {
			return nil, err
		}
		cfg.MCPServers[fmt.Sprintf("cli-%d", i+1)] = server
	}
	return mcp.DiscoverFromConfig(ctx, cfg)
}
