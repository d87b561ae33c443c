package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/waldiez/runner/internal/cancelctl"
	"github.com/waldiez/runner/internal/client"
	"github.com/waldiez/runner/internal/config"
	"github.com/waldiez/runner/internal/httpapi"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/metrics"
	"github.com/waldiez/runner/internal/reconciler"
	"github.com/waldiez/runner/internal/task"
)

const shutdownGrace = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve HTTP/WebSocket traffic and run task workers",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return wrapStartup(err)
	}

	d, err := newDeps(cfg)
	if err != nil {
		return wrapStartup(err)
	}
	defer d.Close()

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	resolver := client.IdentityResolver{MaxActive: cfg.ClientActiveTaskLimit}
	canceller := cancelctl.New(d.registry, d.redisBus)

	httpServer := httpapi.New(
		d.verifier, resolver, d.sched, d.taskStore, d.objects, d.redisBus,
		d.mediator, canceller, d.registry,
		httpapi.WithTrustedOrigins(cfg.TrustedOrigins),
		httpapi.WithWSCheckOrigin(checkOriginFromHosts(cfg.TrustedWSHosts)),
		httpapi.WithDefaultMaxDuration(cfg.MaxTaskDurationSec),
	)

	mux := http.NewServeMux()
	mux.Handle("/", httpServer.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recon := reconciler.New(d.taskStore, d.registry)
	go recon.Run(ctx)
	defer recon.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := d.sched.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		logger.Info("server: shutdown signal received")
	case err := <-errCh:
		logger.Error("server: fatal error", "error", err)
		cancel()
		return err
	}

	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("server: shutdown error", "error", err)
	}
	return nil
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports unready (503) if the persistence collaborator cannot
// be reached, matching the infra-unreachable-at-startup exit code 2 path
// this endpoint exists to let an orchestrator observe post-startup.
func (d *deps) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := d.taskStore.ListByStatus(r.Context(), task.StatusPending); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
