package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
)

// app is the wired process: storage, credentials, executors and the run
// service.
type app struct {
	cfg       Config
	logger    *slog.Logger
	level     *slog.LevelVar
	store     store.Store
	vault     secrets.Vault
	validator *validation.WorkflowValidator
	service   *engine.Service
	hub       *streaming.MemoryHub
}

func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(level))
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(inner)), lv
}

// newApp opens the store and wires every component. Callers must Close.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger, level := newLogger(logOut, cfg.LogLevel)

	st, err := openStore(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	var vault secrets.Vault
	if vc, ok := cfg.vaultConfig(); ok {
		v, err := secrets.NewAESVault(st, vc)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("vault: %w", err)
		}
		vault = v
	} else {
		logger.Warn("ENCRYPTION_KEY not set, stored connection keys are unavailable")
	}

	var primary secrets.CredentialLookup
	if vault != nil {
		primary = secrets.NewStoreCredentials(st, vault)
	}
	creds := secrets.NewFallbackCredentials(primary, cfg.defaultKeys(), logger)

	ev, err := expressions.NewEvaluator()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("expressions: %w", err)
	}
	validator, err := validation.NewWorkflowValidator(ev)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("validator: %w", err)
	}

	overrides := map[string]string{}
	if cfg.OpenAIBaseURL != "" {
		overrides["openai"] = cfg.OpenAIBaseURL
	}
	router := llm.NewDefaultRouter(overrides, llm.WithLogger(logger))

	registry := nodes.DefaultRegistry(nodes.Deps{
		Evaluator:   ev,
		Credentials: creds,
		Completer:   router,
		Logger:      logger,
	})
	runner := engine.NewRunner(registry, logger)
	service := engine.NewService(runner, st, engine.ServiceConfig{PoolSize: cfg.PoolSize}, logger)

	logger.Debug("nodeflow wired",
		"db_path", cfg.DBPath, "pool_size", cfg.PoolSize,
		"providers", router.Providers(), "executors", registry.Types())

	return &app{
		cfg:       cfg,
		logger:    logger,
		level:     level,
		store:     st,
		vault:     vault,
		validator: validator,
		service:   service,
		hub:       streaming.NewMemoryHub(256),
	}, nil
}

// openStore opens the libSQL database, or an in-memory store for ":memory:".
func openStore(ctx context.Context, path string, logger *slog.Logger) (store.Store, error) {
	if path == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:"+path, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (a *app) Close() {
	a.service.Shutdown()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}
