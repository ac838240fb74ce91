package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/api"
	"github.com/pershinghar/go-termux-relay/pkg/commands"
	"github.com/pershinghar/go-termux-relay/pkg/config"
	"github.com/pershinghar/go-termux-relay/pkg/metrics"
	"github.com/pershinghar/go-termux-relay/pkg/remote"
	"github.com/pershinghar/go-termux-relay/pkg/telemetry"
	"github.com/pershinghar/go-termux-relay/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	readTimeout     = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
	brokerTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// relay bundles the components built from a Config.
type relay struct {
	executor  *remote.Executor
	collector *telemetry.Collector
	router    *commands.Router
	broker    *util.Broker
}

func buildRelay(ctx context.Context, cfg *config.Config, rec *metrics.Recorder) (*relay, error) {
	target := cfg.RemoteTarget()

	var opts []remote.Option
	if rec != nil {
		opts = append(opts, remote.WithObserver(rec))
	}
	executor := remote.NewExecutor(target, opts...)
	transfer := remote.NewTransfer(target, opts...)

	var collectorOpts []telemetry.CollectorOption
	collectorOpts = append(collectorOpts, telemetry.WithSource(fmt.Sprintf("%s@%s", target.Username, target.Host)))
	if rec != nil {
		collectorOpts = append(collectorOpts, telemetry.WithCollectionObserver(rec))
	}

	r := &relay{executor: executor}
	if cfg.Broker.URL != "" {
		broker := util.NewBroker(&cfg.Broker)
		connectCtx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err := broker.Connect(connectCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		log.Printf("[main] Publishing snapshots to exchange %s", cfg.Broker.Exchange)
		r.broker = broker
		collectorOpts = append(collectorOpts, telemetry.WithPublisher(broker))
	}

	scripts := telemetry.Scripts{
		Collector: cfg.Remote.CollectorScript,
		Battery:   cfg.Remote.BatteryScript,
		System:    cfg.Remote.SystemScript,
	}
	r.collector = telemetry.NewCollector(executor, telemetry.NewCache(), scripts, collectorOpts...)
	r.router = commands.NewRouter(executor, transfer, cfg.Remote.SharedRoot)
	return r, nil
}

func (r *relay) Close() {
	if r.broker != nil {
		if err := r.broker.Close(); err != nil {
			log.Printf("[main] Error closing broker connection: %v", err)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	r, err := buildRelay(ctx, cfg, rec)
	if err != nil {
		return err
	}
	defer r.Close()

	target := r.executor.Target()
	opts := api.Options{
		Collector:      r.collector,
		Router:         r.router,
		Target:         target,
		APIPrefix:      cfg.Server.APIPrefix,
		StaticDir:      cfg.Server.StaticDir,
		CleanupDelay:   cfg.Server.CleanupDelay,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Observer:       rec,
	}
	if r.broker != nil {
		opts.Broker = r.broker
	}
	server := api.NewServer(opts)

	// Write timeout must outlast the slowest transfer.
	srv := &http.Server{
		Addr:           cfg.Server.Listen,
		Handler:        server.Handler(),
		ReadTimeout:    readTimeout,
		WriteTimeout:   target.TransferTimeout + readTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 16,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[main] Relay listening on %s, target %s@%s:%d", cfg.Server.Listen, target.Username, target.Host, target.Port)
		if target.ProxyCommand != "" {
			log.Printf("[main] Using proxy command: %s", target.ProxyCommand)
		}
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
		log.Println("[main] Shutting down server...")
	case <-ctx.Done():
		log.Println("[main] Context cancelled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("[main] Server shutdown complete")
	return nil
}
