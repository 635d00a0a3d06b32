package cli

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

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/config"
	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/infra/memory"
	"live-quiz-scheduler/internal/infra/postgres"
	"live-quiz-scheduler/internal/infra/rabbitmq"
	infraredis "live-quiz-scheduler/internal/infra/redis"
	"live-quiz-scheduler/internal/logging"
	"live-quiz-scheduler/internal/scheduler"
	transport "live-quiz-scheduler/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz scheduler node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg)
		defer redisClient.Close()
	}

	var (
		quizzes    app.QuizLoader
		results    app.ResultRepository
		statistics app.StatisticsUpdater
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store := postgres.NewStore(pool)
		quizzes, results = store, store
		statistics = postgres.NewStatisticsStore(pool)
	} else {
		logger.Warn("postgres not configured; using in-memory store with sample data")
		store := memory.NewStore(sampleQuizzes(time.Now()), sampleUsers())
		quizzes, results = store, store
		statistics = memory.NewStoreStatistics(store)
	}
	quizzes = memory.NewQuizCache(quizzes, config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute))

	var (
		sessions app.SessionStore
		claims   scheduler.Claimer
	)
	if redisClient != nil {
		sessions = infraredis.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.NearCacheTTL, 500*time.Millisecond))
		claims = infraredis.NewClaimer(redisClient)
	} else {
		logger.Warn("redis not configured; session cache and task claims are local to this node")
		sessions = memory.NewSessionStore()
		claims = scheduler.NewMemoryClaimer()
	}

	hub := transport.NewHub(logger)
	dispatcher, closeDispatch, err := newDispatcher(ctx, cfg, redisClient, hub, logger)
	if err != nil {
		return err
	}
	defer closeDispatch()

	tasks := scheduler.New(scheduler.Config{
		NodeID:    cfg.Scheduler.NodeID,
		PoolSize:  cfg.Scheduler.PoolSize,
		QueueSize: cfg.Scheduler.QueueSize,
	}, claims, logger)

	service := app.NewQuizScheduleService(app.Deps{
		Sessions:    sessions,
		Quizzes:     quizzes,
		Results:     results,
		Dispatcher:  dispatcher,
		Statistics:  statistics,
		Scheduler:   tasks,
		Logger:      logger,
		Parallelism: cfg.Drain.Parallelism,
		LeaseTTL:    config.TTLDuration(cfg.Scheduler.LeaseTTL, 0),
	})

	drainInterval := config.TTLDuration(cfg.Scheduler.DrainInterval, 5*time.Second)
	if err := service.StartGlobalDrain(ctx, drainInterval); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(transport.NewWSHandler(service, hub, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting quiz scheduler", "port", finalPort, "node_id", tasks.NodeID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.StopGlobalDrain(shutdownCtx); err != nil {
		logger.Error("stop drain", "error", err)
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		logger.Error("stop scheduler", "error", err)
	}
	return server.Shutdown(shutdownCtx)
}

// newDispatcher picks the notification fan-out. The hub always delivers to
// local clients; the redis and amqp drivers reach the clients of other nodes.
func newDispatcher(ctx context.Context, cfg config.Config, client *redis.Client, hub *transport.Hub, logger *slog.Logger) (app.Dispatcher, func(), error) {
	noop := func() {}
	switch cfg.Dispatch.Driver {
	case "", "local":
		return hub, noop, nil
	case "redis":
		if client == nil {
			return nil, noop, fmt.Errorf("dispatch driver redis requires redis.addr")
		}
		d := infraredis.NewDispatcher(client, cfg.Dispatch.Channel, logger)
		if err := d.Subscribe(ctx, hub); err != nil {
			return nil, noop, err
		}
		return d, noop, nil
	case "amqp":
		d, err := rabbitmq.Dial(cfg.Dispatch.AMQPURL, cfg.Dispatch.Channel, logger)
		if err != nil {
			return nil, noop, err
		}
		if err := d.Subscribe(ctx, hub); err != nil {
			d.Close()
			return nil, noop, err
		}
		return d, d.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown dispatch driver %q", cfg.Dispatch.Driver)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// sampleQuizzes backs the in-memory mode: one course quiz that opens shortly
// after startup so the start task and the drain can be watched end to end.
func sampleQuizzes(now time.Time) map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:             "quiz-1",
			Title:          "Warm-up",
			CourseID:       "course-1",
			ReleaseDate:    now.Add(time.Minute).UTC(),
			Duration:       5 * time.Minute,
			PlannedToStart: true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}

func sampleUsers() map[string]domain.Participant {
	return map[string]domain.Participant{
		"u1": {Login: "u1", Name: "Alice"},
		"u2": {Login: "u2", Name: "Bob"},
	}
}
