package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/watchpost/internal/auth"
	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/database/sqlite"
	"github.com/kozaktomas/watchpost/internal/identityfile"
	"github.com/kozaktomas/watchpost/internal/notify"
	"github.com/kozaktomas/watchpost/internal/pipeline"
	"github.com/kozaktomas/watchpost/internal/telemetry"
	"github.com/kozaktomas/watchpost/internal/web"
	"github.com/kozaktomas/watchpost/internal/web/handlers"
)

// shutdownTimeout bounds graceful shutdown of the server and telemetry.
const shutdownTimeout = 30 * time.Second

// pruneInterval is how often old history is deleted.
const pruneInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matching engine and API server",
	Long: `Start the watchpost engine.

The server loads identities from the configured source, accepts observations on
POST /api/v1/observations, and delivers alerts to live SSE/websocket listeners,
the alert webhook and the SQLite history.

Examples:
  # Serve with identities from PostgreSQL
  DATABASE_URL=postgres://... watchpost serve

  # Serve a YAML identity file and reload it on change
  IDENTITY_SOURCE=file IDENTITY_FILE=identities.yaml watchpost serve --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openIdentityBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, Version, cfg.Telemetry.Insecure)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	recorder, err := telemetry.NewRecorder(telemetry.Meter())
	if err != nil {
		return fmt.Errorf("creating metric instruments: %w", err)
	}
	p := newPipeline(cfg, recorder)
	if err := telemetry.RegisterStatsGauges(telemetry.Meter(), p.Stats); err != nil {
		return fmt.Errorf("registering gauges: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := handlers.NewEventHub()
	p.AddSink(hub)
	if history != nil {
		sink := pipeline.NewAsyncSink("history", database.NewHistorySink(history), constants.SinkQueueSize)
		p.AddSink(sink)
		g.Go(func() error { return sink.Run(gctx) })
	}
	if cfg.Webhook.URL != "" {
		webhook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:       cfg.Webhook.URL,
			Timeout:   cfg.Webhook.Timeout,
			RateLimit: cfg.Webhook.RateLimit,
			Burst:     cfg.Webhook.Burst,
		})
		if err != nil {
			return fmt.Errorf("configuring alert webhook: %w", err)
		}
		sink := pipeline.NewAsyncSink("webhook", webhook, constants.SinkQueueSize)
		p.AddSink(sink)
		g.Go(func() error { return sink.Run(gctx) })
		log.Info("alert webhook enabled", "url", cfg.Webhook.URL)
	}

	if _, err := loadRegistry(ctx, p); err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	if backend.file != nil && cfg.Identity.Watch {
		watcher := identityfile.NewWatcher(backend.file.Path(), identityfile.DefaultDebounce, func() {
			if _, err := loadRegistry(gctx, p); err != nil {
				log.Error("reloading identity file, keeping previous registry", "err", err)
			}
		})
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				log.Error("identity file watcher stopped", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		runMaintenance(gctx, cfg, p, history)
		return nil
	})

	var tokens *auth.Manager
	if cfg.Web.JWTSecret != "" {
		tokens, err = auth.NewManager(cfg.Web.JWTSecret, cfg.Web.TokenTTL)
		if err != nil {
			return fmt.Errorf("configuring API tokens: %w", err)
		}
	} else {
		log.Warn("API_JWT_SECRET is not set, API authentication is disabled")
	}

	server := web.NewServer(cfg, p, hub, tokens)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stats := p.Stats()
	log.Info("stopped",
		"observations", stats.Observations,
		"alerts", stats.Alerts,
		"suppressed", stats.SuppressedAlerts)
	return err
}

// runMaintenance sweeps expired cooldowns and prunes old history until ctx ends.
func runMaintenance(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, history *sqlite.HistoryStore) {
	sweep := time.NewTicker(cfg.Matching.SweepInterval)
	defer sweep.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n := p.SweepCooldowns(p.Now()); n > 0 {
				log.Debug("swept expired cooldowns", "count", n)
			}
		case <-prune.C:
			if history == nil || cfg.History.Retention <= 0 {
				continue
			}
			n, err := history.Prune(ctx, time.Now().Add(-cfg.History.Retention))
			if err != nil {
				log.Warn("pruning history", "err", err)
				continue
			}
			if n > 0 {
				log.Info("pruned history", "rows", n)
			}
		}
	}
}
