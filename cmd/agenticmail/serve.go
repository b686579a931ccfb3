package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agenticmail/agenticmail/internal/agent"
	"github.com/agenticmail/agenticmail/internal/clock"
	"github.com/agenticmail/agenticmail/internal/config"
	"github.com/agenticmail/agenticmail/internal/gateway"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, listenAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "gateway listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, listenAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agenticmail",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn(context.Background(), "tracing shutdown failed", "error", err)
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runtime := agent.NewRuntime(cfg, st,
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
		agent.WithTracer(tracer),
	)
	scheduler := agent.NewScheduler(st, runtime, clock.Real(), logger, metrics)

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer runtime.Stop()
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info(ctx, "runtime started",
		"store", cfg.Store.Driver,
		"default_model", cfg.DefaultModel.Provider+"/"+cfg.DefaultModel.ModelID,
		"resume_on_startup", cfg.ResumeOnStartup == nil || *cfg.ResumeOnStartup,
	)

	var server *gateway.Server
	serveErr := make(chan error, 1)
	if cfg.GatewayEnabled {
		server = gateway.NewServer(gateway.Config{Addr: listenAddr}, runtime, scheduler, logger, metrics)
		go func() { serveErr <- server.Start() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	if server != nil {
		if err := server.Stop(); err != nil {
			logger.Warn(ctx, "gateway shutdown failed", "error", err)
		}
	}
	return nil
}

func openStore(cfg config.RuntimeConfig) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
