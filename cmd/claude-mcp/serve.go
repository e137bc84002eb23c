package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bridgekit/claude-mcp/internal/claude"
	"github.com/bridgekit/claude-mcp/internal/config"
	"github.com/bridgekit/claude-mcp/internal/dispatch"
	"github.com/bridgekit/claude-mcp/internal/journal"
	"github.com/bridgekit/claude-mcp/internal/logger"
	"github.com/bridgekit/claude-mcp/internal/mcp"
	"github.com/bridgekit/claude-mcp/internal/tools"
)

const drainGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio (the default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		// Startup contract: an unusable configuration exits with status 1.
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create state directory: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	log := logger.ForComponent("serve")

	var jrnl *journal.Store
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.DBPath, cfg.Journal.RetentionDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
			os.Exit(1)
		}
		defer jrnl.Close()
	}

	runner := claude.NewRunner(cfg.ClaudeBinary)
	pool := dispatch.NewPool(dispatch.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	})
	writer := mcp.NewLockedWriter(os.Stdout)
	registry := tools.DefaultRegistry()

	handler := mcp.NewHandler(registry, runner, pool, writer, jrnl, mcp.SettingsFrom(cfg))
	server := mcp.NewServer(handler, writer, pool, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watcher, err := config.NewWatcher(config.FilePath(), func(next *config.Config) {
		handler.ApplySettings(mcp.SettingsFrom(next))
		logger.Init(logger.Config{
			Level:  logger.ParseLevel(next.LogLevel),
			Format: next.LogFormat,
			Output: os.Stderr,
		})
	}); err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		log.Warn("config watcher unavailable", "error", err)
	}

	log.Info("server started",
		"binary", cfg.ClaudeBinary,
		"tools", registry.Names(),
		"max_concurrent", cfg.MaxConcurrent)

	done := make(chan error, 1)
	go func() {
		done <- server.ProcessStream(os.Stdin)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-done:
		if err != nil {
			log.Error("read loop failed", "error", err)
		}
	case sig := <-sigChan:
		log.Info("signal received, shutting down", "signal", sig)
	}

	server.Shutdown(drainGrace)

	spawned, rejected := pool.Stats()
	log.Info("server stopped", "tasks", spawned, "shed", rejected)
	return nil
}
