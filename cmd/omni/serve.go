package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"omni-agent/internal/adapter/document"
	"omni-agent/internal/adapter/gateway"
	"omni-agent/internal/infra/config"
	"omni-agent/internal/infra/logger"
	"omni-agent/internal/infra/tracer"
	"omni-agent/internal/usecase/maintenance"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), root, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, cfg *config.Config) error {
	// 1. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 2. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 3. Components
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	// 4. Maintenance
	if cfg.Maintenance.Enabled {
		sched := maintenance.NewScheduler(a.bus, log)
		var images maintenance.ImageCleaner
		if a.images != nil {
			images = a.images
		}
		if err := maintenance.Setup(sched, *cfg, a.mcp, images, log); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
		for _, name := range sched.Names() {
			log.Info("maintenance next run", "task", name, "at", sched.NextRun(name).Format(time.RFC3339))
		}
	}

	// 5. Gateway
	deps := gateway.Deps{
		Chat:       a.chat,
		Voice:      a.voice,
		MCP:        a.mcp,
		Sessions:   a.sessions,
		STT:        a.stt,
		TTS:        a.tts,
		Bus:        a.bus,
		PDF:        document.NewPDFReader(cfg.Uploads.PDFMaxChars, log),
		UploadsDir: cfg.Uploads.Dir,
		SampleRate: cfg.Speech.SampleRate,
	}
	if a.images != nil {
		deps.ImagesDir = a.images.Dir()
	}
	srv := gateway.NewServer(cfg.Server, deps, log)

	log.Info("omni starting",
		"config", root.path(),
		"provider", cfg.LLM.DefaultProvider,
		"model", a.model,
		"memory", a.sessions != nil,
		"tools", len(a.tools.List()),
		"mcp_initialized", a.mcp.Initialized(),
		"retrieval", a.retriever != nil,
	)

	return srv.Start(ctx)
}
