// flowpatch: safe, verified edits to n8n workflows.
//
// It exposes a batch patch engine, a workflow validator and a webhook
// registration auditor to AI agents over MCP, and to everything else
// over a small JSON HTTP API.
//
// Usage:
//
//	flowpatch serve    # Start MCP server (stdio transport)
//	flowpatch http     # Start the HTTP API
//	flowpatch import registry.yaml  # Load webhook and credential rows
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sulla-ai/flowpatch/internal/config"
	"github.com/sulla-ai/flowpatch/internal/registry"
	fpserver "github.com/sulla-ai/flowpatch/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = run(serveMCP)
	case "http":
		err = run(serveHTTP)
	case "import":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: flowpatch import <snapshot.yaml>")
			os.Exit(1)
		}
		err = runImport(os.Args[2])
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("flowpatch v%s\n", fpserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type frontEnd func(ctx context.Context, rt *fpserver.Runtime, cfg config.Config, logger *slog.Logger) error

// run loads the config, wires the runtime and hands it to serve. Logs
// go to stderr so they never interfere with MCP's stdio transport.
func run(serve frontEnd) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, cleanup, err := fpserver.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := rt.Metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	return serve(ctx, rt, cfg, logger)
}

func loadConfig() (config.Config, error) {
	path := config.DefaultPath()
	if p, ok := os.LookupEnv("FLOWPATCH_CONFIG"); ok && p != "" {
		path = p
	}
	return config.Load(path)
}

// runImport loads a registration snapshot into the sqlite registry named
// by registry_dsn.
func runImport(file string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath, ok := strings.CutPrefix(cfg.RegistryDSN, "sqlite://")
	if !ok {
		return errors.New("import needs registry_dsn set to sqlite://<path>")
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	snap, err := registry.ReadSnapshot(f)
	if err != nil {
		return err
	}

	store, err := registry.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Import(context.Background(), snap)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d webhooks for %d workflows (%d stale rows removed) and %d credentials into %s\n",
		stats.Webhooks, stats.Workflows, stats.Removed, stats.Credentials, dbPath)
	return nil
}

func serveMCP(_ context.Context, rt *fpserver.Runtime, _ config.Config, logger *slog.Logger) error {
	logger.Info("serving MCP on stdio", "version", fpserver.Version)
	// The stdio server handles its own signals.
	return server.ServeStdio(rt.MCP)
}

func serveHTTP(ctx context.Context, rt *fpserver.Runtime, cfg config.Config, logger *slog.Logger) error {
	logger.Info("serving HTTP API", "addr", cfg.HTTPAddr, "version", fpserver.Version)
	err := rt.HTTP.Listen(ctx, cfg.HTTPAddr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `flowpatch v%s: safe, verified edits to n8n workflows

Usage:
  flowpatch serve    Start the MCP server (stdio transport)
  flowpatch http     Start the HTTP API
  flowpatch import <snapshot.yaml>
                     Load webhook registrations and credentials into a
                     sqlite registry (registry_dsn: sqlite://<path>)
  flowpatch version  Print the version

Configuration:
  %s (override with FLOWPATCH_CONFIG), then environment:
  N8N_BASE_URL, N8N_API_KEY, FLOWPATCH_REGISTRY_DSN, FLOWPATCH_HTTP_ADDR,
  FLOWPATCH_METRICS_ADDR, FLOWPATCH_LOG_LEVEL, FLOWPATCH_VERSION_CHECK,
  FLOWPATCH_JOURNAL_PATH

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "flowpatch": {
        "command": "flowpatch",
        "args": ["serve"]
      }
    }
  }
`, fpserver.Version, config.DefaultPath())
}
