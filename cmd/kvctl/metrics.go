package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
)

func metricsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Expose command metrics",
	}
	cmd.AddCommand(metricsServeCmd(a))
	return cmd
}

func metricsServeCmd(a *app) *cobra.Command {
	var (
		listenAddr string
		probeKey   string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus and JSON metrics, optionally probing the store",
		Long:  "Serve /metrics (Prometheus) and /metrics.json. With --probe-key, keep a session open and check the key every --interval.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Metrics.Enabled {
				metrics.InitPrometheus(a.cfg.Metrics.Namespace, nil)
			}
			if listenAddr == "" {
				listenAddr = a.cfg.Metrics.Addr
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if probeKey != "" {
				s, err := a.open(ctx)
				if err != nil {
					return err
				}
				defer func() {
					cancel()
					if err := s.Close(); err != nil {
						logging.Op().Warn("close probe session", "error", err)
					}
				}()
				go probe(worker(ctx), s, probeKey, interval)
			}

			httpServer := &http.Server{
				Addr:              listenAddr,
				Handler:           metricsMux(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("metrics server started", "addr", listenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				logging.Op().Info("shutdown signal received", "signal", sig.String())
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("metrics server error: %w", err)
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown metrics server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default: metrics.addr from config)")
	cmd.Flags().StringVar(&probeKey, "probe-key", "", "Key to check periodically so the store shows up in metrics")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Probe interval")
	return cmd
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/metrics.json", metrics.Global().JSONHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// probe runs Exists on key until ctx ends. Failures are logged and recorded
// by the session; they do not stop the loop.
func probe(ctx context.Context, s *keystore.Session, key string, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Exists(ctx, key); err != nil {
			logging.Op().Warn("probe failed", "key", key, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
