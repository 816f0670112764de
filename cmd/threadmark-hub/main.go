package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/threadmark/internal/hub"
	"github.com/kalambet/threadmark/internal/hub/docstore"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "threadmark-hub",
	Short:         "Shared thread store for threadmark annotators",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := hub.LoadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// openStore opens the document store selected by cfg.Store.
func openStore(ctx context.Context, cfg hub.Config) (docstore.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return docstore.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return docstore.OpenPostgres(ctx, cfg.DatabaseURL)
	case "mongo":
		return docstore.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

func newPublisher(ctx context.Context, cfg hub.Config, logger *slog.Logger) (hub.Publisher, error) {
	if cfg.NatsURL == "" {
		return hub.NopPublisher{}, nil
	}
	return hub.NewNATSPublisher(ctx, cfg.NatsURL, cfg.NatsToken, logger)
}

func serve(ctx context.Context, cfg hub.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	handler := hub.NewHandler(hub.Deps{
		Store:     store,
		Sessions:  hub.NewSessions(store, cfg.JWTSecret, cfg.TokenTTL, cfg.IdentityCacheTTL),
		Publisher: pub,
		Metrics:   hub.NewMetrics(),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("hub listening", "addr", srv.Addr, "store", cfg.Store, "nats", cfg.NatsURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
