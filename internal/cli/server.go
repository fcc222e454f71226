package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/config"
	"trivia-session-service/internal/infra/memory"
	pgloader "trivia-session-service/internal/infra/postgres"
	redisstore "trivia-session-service/internal/infra/redis"
	"trivia-session-service/internal/infra/sqlite"
	"trivia-session-service/internal/telemetry"
	transport "trivia-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "trivia-session-service"
	}
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, serviceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("flush traces")
		}
	}()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	retention := config.TTLDuration(cfg.Game.Retention, time.Hour)
	sweepEvery := config.TTLDuration(cfg.Game.SweepInterval, 5*time.Minute)
	questionTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	var source app.QuestionProvider
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		source = pgloader.NewQuestionLoader(pool)
	} else {
		defaults, err := memory.DefaultQuestions()
		if err != nil {
			return err
		}
		source = memory.NewQuestionBank(defaults)
	}

	var questions app.QuestionProvider
	if redisClient != nil {
		questions = redisstore.NewQuestionCache(redisClient, source, questionTTL)
	} else {
		questions = memory.NewQuestionCache(source, questionTTL)
	}

	store, closeStore, err := openSessionStore(cfg, redisClient, retention, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := transport.NewHub(logger, transport.DefaultSendBuffer)
	service := app.NewGameService(store, questions, hub,
		app.WithLogger(logger),
		app.WithCodeAttempts(cfg.Game.CodeAttempts),
	)
	router := transport.NewRouter(
		transport.NewAPIHandler(service, logger),
		transport.NewWSHandler(service, hub, logger),
		logger,
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", finalPort).Info("starting trivia service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sweepCompleted(gctx, service, retention, sweepEvery, logger)
		return nil
	})
	return g.Wait()
}

// openSessionStore picks sqlite, then redis, then process memory.
func openSessionStore(cfg config.Config, client *redis.Client, retention time.Duration, logger logrus.FieldLogger) (app.SessionStore, func(), error) {
	switch {
	case cfg.SQLite.Path != "":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.SQLite.Path).Info("using sqlite session store")
		return store, func() { _ = store.Close() }, nil
	case client != nil:
		logger.WithField("addr", cfg.Redis.Addr).Info("using redis session store")
		// abandoned games of any phase expire on their own
		return redisstore.NewSessionStore(client, retention+24*time.Hour), func() {}, nil
	default:
		logger.Info("using in-memory session store")
		return memory.NewSessionStore(), func() {}, nil
	}
}

func sweepCompleted(ctx context.Context, service *app.GameService, retention, every time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.PurgeCompleted(ctx, retention); err != nil {
				logger.WithError(err).Warn("retention sweep failed")
			}
		}
	}
}
