package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/server"
	"github.com/rendis/nodeflow/pkg/mcp"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "TCP listen address (overrides config)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := loadConfig(*envFile)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	writePID()
	defer os.Remove(pidPath())
	go a.watchReload(ctx, *envFile)

	srv := server.New(server.Deps{
		Store:     a.store,
		Vault:     a.vault,
		Service:   a.service,
		Validator: a.validator,
		Hub:       a.hub,
		Logger:    a.logger,
		Version:   version,
	})
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		a.logger.Error("http server failed", "error", err)
		return 1
	}
	return 0
}

func runMCP(args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	envFile := fs.String("env-file", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg := loadConfig(*envFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol; logs go to stderr.
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	srv := mcp.NewServer(mcp.ServerDeps{
		Service:   a.service,
		Store:     a.store,
		Validator: a.validator,
		Hub:       a.hub,
		Logger:    a.logger,
		Version:   version,
	})
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("mcp server failed", "error", err)
		return 1
	}
	return 0
}

// watchReload re-reads the configuration on SIGHUP. The log level applies
// immediately; other changes are reported as needing a restart.
func (a *app) watchReload(ctx context.Context, envFile string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next := loadConfig(envFile)
			d := diffConfigs(a.cfg, next)
			if d.LogLevelChanged {
				a.level.Set(logging.ParseLevel(next.LogLevel))
				a.cfg.LogLevel = next.LogLevel
				a.logger.Info("log level changed", "level", next.LogLevel)
			}
			if len(d.RestartNeeded) > 0 {
				a.logger.Warn("configuration changes need a restart", "fields", d.RestartNeeded)
			}
		}
	}
}

func pidPath() string {
	return filepath.Join(nodeflowDir(), "nodeflow.pid")
}

func writePID() {
	if err := os.MkdirAll(nodeflowDir(), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
