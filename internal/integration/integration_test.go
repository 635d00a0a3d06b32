package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/infra/postgres"
	pgmigrations "live-quiz-scheduler/internal/infra/postgres/migrations"
	infraredis "live-quiz-scheduler/internal/infra/redis"
	"live-quiz-scheduler/internal/scheduler"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []domain.Participation
	starts []domain.Quiz
}

func (d *recordingDispatcher) SendToParticipant(_ context.Context, _, _ string, p domain.Participation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, p)
	return nil
}

func (d *recordingDispatcher) BroadcastQuizStart(_ context.Context, quiz domain.Quiz) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, quiz)
	return nil
}

func (d *recordingDispatcher) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func TestDrainPersistsSubmissionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	stats := postgres.NewStatisticsStore(pool)
	quiz := sampleQuiz(time.Now().Add(-time.Minute))
	if err := store.SaveQuiz(ctx, quiz); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
	if err := store.SaveUser(ctx, domain.Participant{Login: "u1", Name: "Alice"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	tasks := scheduler.New(scheduler.Config{NodeID: "node-it"}, infraredis.NewClaimer(redisClient), nil)
	defer tasks.Shutdown(ctx)
	dispatcher := &recordingDispatcher{}
	service := app.NewQuizScheduleService(app.Deps{
		Sessions:   infraredis.NewSessionStore(redisClient, 0),
		Quizzes:    store,
		Results:    store,
		Dispatcher: dispatcher,
		Statistics: stats,
		Scheduler:  tasks,
	})

	err = service.UpdateSubmission(ctx, quiz.ID, "u1", domain.Submission{
		Submitted: true,
		Answers:   []domain.SubmittedAnswer{{QuestionID: "q1", OptionID: "o2"}},
	})
	if err != nil {
		t.Fatalf("update submission: %v", err)
	}

	if err := service.ProcessCachedSubmissions(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	// A second cycle must not persist the same attempt again.
	if err := service.ProcessCachedSubmissions(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	n, err := store.CountParticipations(ctx, quiz.ID, "u1")
	if err != nil {
		t.Fatalf("count participations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one participation, got %d", n)
	}

	participation, ok, err := service.GetParticipation(ctx, quiz.ID, "u1")
	if err != nil || !ok {
		t.Fatalf("expected cached participation until the quiz ends, ok=%v err=%v", ok, err)
	}
	if participation.Result == nil || participation.Result.Score != 100 {
		t.Fatalf("expected full score, got %+v", participation.Result)
	}
	if dispatcher.sentCount() != 0 {
		t.Fatalf("participation dispatched before the quiz ended")
	}

	histogram, err := stats.PointHistogram(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if histogram[1] != 1 {
		t.Fatalf("expected one participant with 1 point, got %v", histogram)
	}

	if err := service.UpdateSubmission(ctx, quiz.ID, "u1", domain.Submission{}); err == nil {
		t.Fatalf("expected a second submission to be rejected")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz(release time.Time) domain.Quiz {
	return domain.Quiz{
		ID:             "quiz-1",
		Title:          "Arithmetic",
		CourseID:       "course-1",
		ReleaseDate:    release.UTC().Truncate(time.Second),
		Duration:       time.Hour,
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
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
