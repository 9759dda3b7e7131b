package cmd

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/storefront/shopauth"
	"github.com/storefront/shopauth/identity/bolt"
	"github.com/storefront/shopauth/identity/memory"
	"github.com/storefront/shopauth/identity/postgres"
	"github.com/storefront/shopauth/internal/config"
	"github.com/storefront/shopauth/internal/telemetry"
	"github.com/storefront/shopauth/keystore"
	"github.com/storefront/shopauth/mail"
	"github.com/storefront/shopauth/oauth/google"
	"github.com/storefront/shopauth/transport/httpapi"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level, _ := cfg.SlogLevel()
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		providers.SetGlobal()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = providers.Shutdown(shutdownCtx)
		}()

		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		users, closeUsers, err := openUserStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeUsers()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		b := shopauth.New().
			WithConfig(cfg.Engine()).
			WithRedis(rdb).
			WithUserStore(users).
			WithMailer(mail.NewLogMailer(logger)).
			WithLogger(logger).
			WithMetricsRegisterer(reg).
			WithTracerProvider(providers.TracerProvider)

		sealKey, err := cfg.SealKey()
		if err != nil {
			return err
		}
		if sealKey != nil {
			sealer, err := keystore.NewAEADSealer(sealKey)
			if err != nil {
				return err
			}
			b.WithSealer(sealer)
		} else {
			logger.Warn("SESSION_SEAL_KEY not set; session private keys are stored unsealed")
		}

		engine, err := b.Build()
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		defer engine.Close()

		opts := []httpapi.Option{httpapi.WithLogger(logger), httpapi.WithGatherer(reg)}
		if cfg.GoogleEnabled() {
			provider, err := google.New(google.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
			})
			if err != nil {
				return err
			}
			opts = append(opts, httpapi.WithGoogle(provider))
		}

		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.New(engine, opts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("listening", slog.String("addr", cfg.HTTPAddr), slog.String("user_store", cfg.UserStore))

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func openUserStore(ctx context.Context, cfg *config.Config) (shopauth.UserStore, func(), error) {
	switch cfg.UserStore {
	case config.UserStorePostgres:
		if autoMigrate {
			if err := postgres.Migrate(cfg.DatabaseURL, "up"); err != nil {
				return nil, nil, fmt.Errorf("migrating: %w", err)
			}
		}
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.UserStoreBolt:
		s, err := bolt.Open(cfg.BoltPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply Postgres migrations before serving")
}
