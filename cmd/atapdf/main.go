// CLAUDE:SUMMARY atapdf service binary: loads config, recovers storage, wires lifecycle, dispatcher and optional journal, then serves HTTP or MCP stdio.
// CLAUDE:DEPENDS server, pipeline, lifecycle, observability, dbopen
//
// Usage:
//
//	atapdf [config.yaml]
//
// Environment: PORT, STORAGE_DIR, LOG_LEVEL, JOURNAL_DB, MCP_TRANSPORT.
package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/atapdf/dbopen"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/observability"
	"github.com/hazyhaar/atapdf/pipeline"
	"github.com/hazyhaar/atapdf/server"
)

var version = "dev"

func main() {
	cfg := server.DefaultConfig()
	if len(os.Args) > 1 {
		loaded, err := server.LoadConfig(os.Args[1])
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging. MCP stdio owns stdout, so logs go to stderr there.
	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	var out io.Writer = os.Stdout
	if cfg.MCPTransport == "stdio" {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Storage.
	store, err := lifecycle.New(lifecycle.Config{
		Root:          cfg.StorageDir,
		GracePeriod:   cfg.GracePeriod,
		TTL:           cfg.ArtifactTTL,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("lifecycle", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if _, _, err := store.Recover(); err != nil {
		slog.Error("lifecycle recover", "error", err)
		os.Exit(1)
	}
	go store.Run(ctx)

	// Optional operations journal.
	var (
		journal  *observability.Journal
		recorder pipeline.Recorder
	)
	if cfg.JournalDB != "" {
		db, err := dbopen.Open(cfg.JournalDB, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			slog.Error("journal db", "path", cfg.JournalDB, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		journal = observability.NewJournal(db, observability.JournalConfig{Logger: logger})
		defer journal.Close()
		recorder = pipeline.JournalRecorder(journal)

		hb := observability.NewHeartbeatWriter(db, server.ServiceName, cfg.HeartbeatEvery, func() observability.StoreCounts {
			s := store.Stats()
			return observability.StoreCounts{Pending: s.Pending, Downloaded: s.Downloaded}
		})
		go hb.Run(ctx)
		go retain(ctx, db, journal, cfg.JournalKeep)
		slog.Info("journal enabled", "path", cfg.JournalDB)
	}

	dispatcher, err := pipeline.New(pipeline.Config{
		Lifecycle:    store,
		Recorder:     recorder,
		MaxFiles:     cfg.MaxFiles,
		MaxFileBytes: cfg.MaxFileBytes(),
		ToolRoot:     cfg.ToolRoot,
		Layout:       cfg.Layout,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("dispatcher", "error", err)
		os.Exit(1)
	}

	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: server.ServiceName, Version: version}, nil)
		dispatcher.RegisterMCP(mcpSrv)
		slog.Info("mcp stdio serving", "tool_root", cfg.ToolRoot)
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("mcp", "error", err)
			os.Exit(1)
		}
		return
	}

	srv, err := server.New(cfg, server.Options{Dispatcher: dispatcher, Journal: journal, Logger: logger})
	if err != nil {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// retain prunes journal entries and heartbeats older than keep, once an hour.
func retain(ctx context.Context, db *sql.DB, j *observability.Journal, keep time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Cleanup(ctx, keep)
			if err != nil {
				slog.Warn("journal cleanup", "error", err)
				continue
			}
			if _, err := observability.CleanupHeartbeats(ctx, db, keep); err != nil {
				slog.Warn("heartbeat cleanup", "error", err)
			}
			if n > 0 {
				slog.Info("journal cleanup", "removed", n)
			}
		}
	}
}
