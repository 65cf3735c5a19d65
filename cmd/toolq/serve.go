package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolq/toolq/internal/observability"
	"github.com/toolq/toolq/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval queue over HTTP and WebSocket",
		Long: `Run the API server editors and other frontends talk to. REST endpoints
live under /api, live queue updates go out over /ws, and Prometheus
metrics are exposed at /api/metrics.

The server binds to loopback by default; it executes arbitrary edits in
the workspace, so only expose it deliberately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initialize(); err != nil {
				return err
			}
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port != 0 {
				a.cfg.Server.Port = port
			}
			return a.runServe()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func (a *app) runServe() error {
	tracer, err := observability.NewTracerProvider(observability.Config{
		Enabled:        a.cfg.Tracing.Enabled,
		Exporter:       a.cfg.Tracing.Exporter,
		Endpoint:       a.cfg.Tracing.Endpoint,
		SampleRate:     a.cfg.Tracing.SampleRate,
		ServiceName:    "toolq",
		ServiceVersion: appVersion(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown: %v", err)
		}
	}()

	srvCfg := server.DefaultConfig()
	srvCfg.Host = a.cfg.Server.Host
	srvCfg.Port = a.cfg.Server.Port
	srvCfg.Version = appVersion()
	srvCfg.Debug = a.verbose

	srv := server.New(a.ctrl, a.ws, tracer, a.componentLogger("server"), srvCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		a.logger.Info("shutting down")
		cancel()
	}()

	return srv.Run(ctx)
}
