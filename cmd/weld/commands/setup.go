package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/weldcode/weld/pkg/config"
	"github.com/weldcode/weld/pkg/engine"
	"github.com/weldcode/weld/pkg/policy"
	"github.com/weldcode/weld/pkg/providers/workspace"
	"github.com/weldcode/weld/pkg/sandbox"
	"github.com/weldcode/weld/pkg/schema"
	"github.com/weldcode/weld/pkg/stores"
	"github.com/weldcode/weld/pkg/telemetry"
)

// app bundles the wired pipeline for one command invocation.
type app struct {
	config   *config.Config
	engine   *engine.Engine
	policies *policy.Engine
	logger   *telemetry.Logger
	cleanup  func()
}

// buildApp loads configuration and wires the mutation pipeline. The
// returned cleanup closes the store and flushes telemetry.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	tcfg := cfg.Telemetry()
	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	provider, err := workspace.NewClient(workspace.ClientConfig{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		RequestTimeout: cfg.Provider.RequestTimeout.Std(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create sandbox provider: %w", err)
	}

	manager := sandbox.NewManager(provider, cfg.SandboxLifecycle(), logger, metrics)

	policies, err := policy.NewEngine(logger.Zerolog())
	if err != nil {
		store.Close()
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			store.Close()
			return nil, err
		}
	}

	var pipeline *schema.Pipeline
	if cfg.Schema.Endpoint != "" {
		tokens, terr := schemaTokens(cfg)
		if terr != nil {
			store.Close()
			return nil, terr
		}
		client, cerr := schema.NewQueryClient(cfg.Schema.Endpoint, tokens)
		if cerr != nil {
			store.Close()
			return nil, cerr
		}
		pipeline = schema.NewPipeline(store, client, schema.Config{
			InvalidateURL: cfg.Schema.InvalidateURL,
		}, logger, metrics)
	}

	eng, err := engine.New(engine.Options{
		Store:     store,
		Sandboxes: manager,
		Policies:  policies,
		Schemas:   pipeline,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		config:   cfg,
		engine:   eng,
		policies: policies,
		logger:   logger,
		cleanup: func() {
			store.Close()
			_ = tracer.Shutdown(context.Background())
		},
	}, nil
}

func schemaTokens(cfg *config.Config) (schema.TokenProvider, error) {
	if cfg.Schema.StaticToken != "" {
		return schema.StaticToken(cfg.Schema.StaticToken), nil
	}
	return schema.NewTokenSource(schema.TokenConfig{
		TokenURL:     cfg.Schema.TokenURL,
		ClientID:     cfg.Schema.ClientID,
		ClientSecret: cfg.Schema.ClientSecret,
		RefreshToken: cfg.Schema.RefreshToken,
	})
}

// emit prints a result as JSON or hands it to the text formatter.
func emit(v interface{}, text func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
