package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/promptloom/promptloom/internal/glm"
	"github.com/promptloom/promptloom/internal/orchestrator"
	"github.com/promptloom/promptloom/internal/orchestrator/config"
	"github.com/promptloom/promptloom/internal/orchestrator/storage/memory"
	"github.com/promptloom/promptloom/internal/orchestrator/storage/sqlite"
)

var (
	flagHTTP     bool
	flagHTTPAddr string
	flagStorage  string
	flagDBPath   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator MCP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagHTTP, "http", false, "Enable HTTP/SSE transport instead of stdio")
	serveCmd.Flags().StringVar(&flagHTTPAddr, "http-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&flagStorage, "storage", "", "Storage backend: memory or sqlite (overrides config)")
	serveCmd.Flags().StringVar(&flagDBPath, "db-path", "", "SQLite database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Setup structured logging. Logs go to stderr so the stdio transport
	// keeps stdout for the protocol.
	logLevel := slog.LevelInfo
	if flagDebug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagStorage != "" {
		cfg.Storage.Backend = flagStorage
	}
	if flagDBPath != "" {
		cfg.Storage.Path = flagDBPath
	}

	logger.Info("Starting promptloom orchestrator",
		"version", appVersion,
		"debug", flagDebug,
		"http_mode", flagHTTP,
		"storage", cfg.Storage.Backend,
	)

	// Initialize storage
	var store orchestrator.SessionStore
	var msgLog orchestrator.MessageLog
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		store, msgLog = db, db
	case "memory":
		store = memory.NewSessionStore()
		msgLog = memory.NewMessageLog()
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	caller, err := glm.NewClient(cfg.GLM, logger)
	if err != nil {
		return err
	}

	// Wire core components
	events := orchestrator.NewBroadcaster(msgLog, cfg.Stream.SubscriberBuffer, logger)
	machine := orchestrator.NewStateMachine(store, events, logger)
	assembler := orchestrator.NewAssembler(cfg.Stream.ContextSectionLimit)
	scheduler := orchestrator.NewTurnScheduler(store, msgLog, caller, machine, events, assembler,
		cfg.Timing.ResponseWindow, logger)
	gate := orchestrator.NewInterventionGate(store, msgLog, machine, events, logger)
	svc := orchestrator.NewService(store, msgLog, machine, scheduler, gate, events,
		orchestrator.SessionDefaults{
			MaxIterations:    cfg.Session.MaxIterations,
			MaxInterventions: cfg.Session.MaxInterventions,
		}, logger)

	auditLogger := orchestrator.NewAuditLogger(logger)
	streams := orchestrator.NewStreamManager()
	streamer := orchestrator.NewEventStreamer(streams, events, logger)

	mcpServer := orchestrator.NewMCPServer(orchestrator.Config{
		Name:    "promptloom-orchestrator",
		Version: appVersion,
	}, svc, auditLogger, streams, streamer)

	logger.Info("MCP Server initialized",
		"name", "promptloom-orchestrator",
		"version", appVersion,
	)

	// Setup context for shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Background monitors
	timeoutMonitor := orchestrator.NewTimeoutMonitor(store, machine,
		cfg.Timing.TimeoutSweepInterval, cfg.Timing.ResponseWindow, logger)
	go timeoutMonitor.Start(ctx)

	cleanupMonitor := orchestrator.NewCleanupMonitor(store, msgLog,
		cfg.Timing.CleanupInterval, cfg.Timing.SessionMaxAge, logger)
	go cleanupMonitor.Start(ctx)

	// Start MCP server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		if flagHTTP {
			serveErr <- mcpServer.ServeHTTP(flagHTTPAddr, logger)
		} else {
			serveErr <- mcpServer.Serve(logger)
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error("MCP server error", "error", err)
			return err
		}
	}

	logger.Info("Shutting down gracefully")
	cancel()
	logger.Info("Orchestrator shutdown complete")
	return nil
}
