package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/dataguard/internal/api"
	"github.com/animus-labs/dataguard/internal/governance"
	"github.com/animus-labs/dataguard/internal/platform/httpserver"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the governance API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, rootOpts *rootOptions) error {
	ctx := cmd.Context()
	logger := rootOpts.logger(cmd.OutOrStdout())

	cfg, err := rootOpts.config()
	if err != nil {
		return err
	}
	httpCfg, err := httpserver.ConfigFromEnv(service)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.New(reg)
	guard, err := governance.New(ctx, cfg,
		governance.WithLogger(logger),
		governance.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpCfg.ShutdownTimeout)
		defer cancel()
		if err := guard.Close(closeCtx); err != nil {
			logger.Error("final flush failed", "error", err)
		}
	}()

	logger.Info("governance ready",
		"sink", cfg.Sink,
		"entity_types", guard.Catalog().EntityTypes(),
		"record_store", cfg.DB.Enabled(),
	)
	return httpserver.Run(ctx, logger, httpCfg, newHandler(logger, guard, reg, m))
}

func newHandler(logger *slog.Logger, guard *governance.Guard, reg *prometheus.Registry, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(service))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(service,
		httpserver.ReadinessCheck{
			Name: "record_store",
			Check: func(ctx context.Context) error {
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return guard.Ready(pingCtx)
			},
		},
	))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.New(logger, guard).Register(mux)
	return httpserver.Wrap(logger, m, mux)
}
