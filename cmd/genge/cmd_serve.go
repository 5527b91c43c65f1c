package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/metrics"
	"github.com/slavaghoul1337-coder/genge/server"
)

func init() {
	var shutdownTimeout time.Duration
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification and mint endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			zl := logger.NewZapLogger(cfg.LogLevel)
			if z, ok := zl.(*logger.ZapLogger); ok {
				defer func() { _ = z.Sync() }()
			}

			serverOpts := []server.Option{server.WithLogger(zl)}
			var rec metrics.Recorder
			if cfg.MetricsEnabled {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				rec = metrics.NewPrometheusRecorder(reg)
				serverOpts = append(serverOpts, server.WithMetricsGatherer(reg))
			}

			x, err := build(cfg, zl, rec)
			if err != nil {
				return err
			}
			defer func() {
				if err := x.Close(); err != nil {
					zl.Error("failed to close verifier", map[string]any{"err": err})
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpServer := &http.Server{
				Addr:              net.JoinHostPort("", cfg.Port),
				Handler:           server.New(x, serverOpts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				zl.Info("http server listening", map[string]any{"addr": httpServer.Addr, "network": cfg.Network})
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			zl.Info("shutting down http server", nil)
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			zl.Info("shutdown complete", nil)
			return nil
		},
	}
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "Grace period for in-flight requests")
	rootCmd.AddCommand(serveCmd)
}
