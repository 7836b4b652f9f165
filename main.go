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

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v3"

	"justflow/api/pkg/config"
	"justflow/api/pkg/db"
	"justflow/api/pkg/log"
	"justflow/api/pkg/telemetry"
	"justflow/api/services/flow"
)

func main() {
	cmd := &cli.Command{
		Name:  "justflow-api",
		Usage: "Serve the flow graph API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional .env file loaded before reading the environment",
				Value:   ".env",
				Sources: cli.EnvVars("ENV_FILE"),
			},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Create the store schema and exit",
				Action: runMigrate,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.LogLevel)
	return cfg, nil
}

func runMigrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	return initSchema(ctx, store)
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.OtelEnabled {
		shutdown, err := telemetry.Setup(ctx, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("Failed to flush traces", "error", err)
			}
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := initSchema(ctx, store); err != nil {
		return err
	}

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	logger := log.WithModule("flow")
	engine := flow.NewEngine(store, locker, logger)
	flowService := flow.NewService(engine, logger)

	// setup router
	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	flowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", flow.CallerHeader}),
		handlers.AllowCredentials(),
	)(mainRouter)

	recoveryHandler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(corsHandler)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           recoveryHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "address", cfg.Address, "store", cfg.StoreDriver)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
	return nil
}

// openStore connects the store selected by cfg.StoreDriver. The returned
// func releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (flow.Store, func(), error) {
	logger := log.WithModule("store")

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return flow.NewPostgresRepository(pool, logger), pool.Close, nil

	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Error("Failed to disconnect from MongoDB", "error", err)
			}
		}
		return flow.NewMongoRepository(client, cfg.MongoDatabase, logger), closeClient, nil

	default:
		logger.Warn("Using the in-memory store; data is lost on exit")
		return flow.NewMemoryRepository(), func() {}, nil
	}
}

func initSchema(ctx context.Context, store flow.Store) error {
	initializer, ok := store.(flow.SchemaInitializer)
	if !ok {
		return nil
	}
	if err := initializer.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	return nil
}

// openLocker uses Redis when REDIS_URL is set so that every instance shares
// the flow locks, and an in-process lock otherwise.
func openLocker(ctx context.Context, cfg *config.Config) (flow.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return flow.NewKeyedMutex(), func() {}, nil
	}

	client, err := db.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger := log.WithModule("locker")
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close Redis client", "error", err)
		}
	}
	return flow.NewRedisLocker(client, cfg.LockTTL, logger), closeClient, nil
}
