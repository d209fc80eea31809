package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/config"
	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/observability"
	"github.com/ayush/finalapi/internal/server"
	"github.com/ayush/finalapi/internal/store"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup("finalapi", cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Tokens ───────────────────────────────────────────────
	issuer, err := auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		return err
	}

	// ── User store ───────────────────────────────────────────
	users, closeUsers, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		logging.LogError(logger, "open user store", err, "driver", cfg.StoreDriver)
		return err
	}
	defer closeUsers()

	// ── Sign-in policy ───────────────────────────────────────
	attempts, closeAttempts, err := openAttempts(ctx, cfg, logger)
	if err != nil {
		logging.LogError(logger, "open attempt tracker", err)
		return err
	}
	defer closeAttempts()

	// ── Auth ─────────────────────────────────────────────────
	creds, err := auth.NewCredentials(users, auth.NewArgon2idHasher(), attempts, logger)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(creds, issuer, cfg.Identity, cfg.StoreTimeout, logger)
	if err != nil {
		return err
	}

	// ── Metrics ──────────────────────────────────────────────
	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// ── Router ───────────────────────────────────────────────
	router := server.NewRouter(server.Deps{
		Auth:           auth.NewHandler(svc, logger, metrics),
		Tokens:         issuer,
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "store", cfg.StoreDriver, "lockout", cfg.Lockout.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SERVER_FAILED").With("addr", srv.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return oops.Code("SERVER_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// openUserStore connects the backend selected by STORE_DRIVER and prepares its
// schema when AUTO_MIGRATE is set.
func openUserStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.UserRepository, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := store.ConnectPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := store.MigratePool(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("postgres migrations applied")
		}
		return store.NewPostgresStore(pool), pool.Close, nil

	case config.DriverMongo:
		client, err := store.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() { _ = client.Disconnect(context.Background()) }
		users := store.NewMongoStore(client.Database(cfg.MongoDB))
		if cfg.AutoMigrate {
			if err := users.EnsureIndexes(ctx); err != nil {
				closeClient()
				return nil, nil, err
			}
			logger.Info("mongo indexes ensured", "database", cfg.MongoDB)
		}
		return users, closeClient, nil

	default:
		logger.Warn("using in-memory user store, accounts are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

// openAttempts returns a nil tracker when lockout is disabled.
func openAttempts(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.AttemptTracker, func(), error) {
	if !cfg.Lockout.Enabled {
		return nil, func() {}, nil
	}
	if cfg.RedisAddr == "" {
		logger.Info("counting sign-in failures in memory")
		return auth.NewMemoryAttempts(cfg.Lockout.MaxFailedAttempts, cfg.Lockout.Duration), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("counting sign-in failures in redis", "addr", cfg.RedisAddr)
	return auth.NewRedisAttempts(rdb, cfg.Lockout.MaxFailedAttempts, cfg.Lockout.Duration),
		func() { _ = rdb.Close() }, nil
}
