package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/mealmood/internal/analysis"
	"github.com/dukerupert/mealmood/internal/config"
	"github.com/dukerupert/mealmood/internal/database"
	"github.com/dukerupert/mealmood/internal/logging"
	"github.com/dukerupert/mealmood/internal/metrics"
	"github.com/dukerupert/mealmood/internal/photo"
	"github.com/dukerupert/mealmood/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket feed and tool endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	photos := photo.NewStore(cfg.S3, logger.With("component", "photo"))
	provider := analysis.NewOpenAIProvider(cfg.OpenAI, photos, logger.With("component", "analysis"))

	srv := server.New(db, provider, photos, server.Config{
		JWTSecret:        cfg.JWTSecret,
		TokenTTL:         cfg.TokenTTL,
		ProviderTimeout:  cfg.ProviderTimeout,
		AuthRateLimit:    cfg.AuthRateLimit,
		AnalyzeRateLimit: cfg.AnalyzeRateLimit,
	}, logger)

	// Entries left reanalyzing by a previous process.
	maintain(ctx, srv, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Log and reanalyze wait on the provider.
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("mealmood starting", "addr", httpServer.Addr, "photos_in_s3", photos.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.MaintenanceEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				maintain(gctx, srv, logger)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		srv.Hub().CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// maintain releases abandoned reanalysis leases and drops idle rate limiter
// buckets.
func maintain(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	n, err := srv.Reconciler().RecoverStale(ctx)
	if err != nil {
		logger.Error("recover stale entries", "error", err)
	} else if n > 0 {
		metrics.StaleRecovered(n)
	}

	dropped := 0
	for _, rl := range srv.RateLimiters() {
		dropped += rl.Cleanup()
	}
	if dropped > 0 {
		logger.Debug("rate limiter cleanup", "buckets", dropped)
	}
}
