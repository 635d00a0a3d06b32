package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/scheduler"
)

const (
	// DrainTaskKey is the cluster-wide registration marker of the periodic drain.
	DrainTaskKey = "quiz:scheduler:drain"

	defaultParallelism = 8
)

// StartTaskKey is the claim key of the start task of quizID.
func StartTaskKey(quizID string) string {
	return "quiz:scheduler:start:" + quizID
}

// Deps groups the collaborators of QuizScheduleService.
type Deps struct {
	Sessions   SessionStore
	Quizzes    QuizLoader
	Results    ResultRepository
	Dispatcher Dispatcher
	Statistics StatisticsUpdater
	Scheduler  TaskScheduler
	Logger     *slog.Logger

	// Parallelism bounds the participants processed concurrently per quiz.
	Parallelism int
	// LeaseTTL of the drain marker; zero lets the scheduler pick three intervals.
	LeaseTTL time.Duration
	// Clock is test-only for deterministic time.
	Clock func() time.Time
}

// QuizScheduleService owns live quiz sessions: it buffers submissions in the
// shared cache, starts quizzes on time and drains finished work to storage.
type QuizScheduleService struct {
	sessions    SessionStore
	quizzes     QuizLoader
	results     ResultRepository
	dispatcher  Dispatcher
	statistics  StatisticsUpdater
	tasks       TaskScheduler
	logger      *slog.Logger
	now         func() time.Time
	parallelism int
	leaseTTL    time.Duration

	sf singleflight.Group

	drainMu sync.Mutex
	drain   *scheduler.Registration
}

func NewQuizScheduleService(deps Deps) *QuizScheduleService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &QuizScheduleService{
		sessions:    deps.Sessions,
		quizzes:     deps.Quizzes,
		results:     deps.Results,
		dispatcher:  deps.Dispatcher,
		statistics:  deps.Statistics,
		tasks:       deps.Scheduler,
		logger:      logger.With("component", "quiz_schedule"),
		now:         now,
		parallelism: parallelism,
		leaseTTL:    deps.LeaseTTL,
	}
}

// UpdateSubmission buffers the latest answers of a participant. Nothing is
// written to the durable store here; the drain does that.
func (s *QuizScheduleService) UpdateSubmission(ctx context.Context, quizID, participantID string, sub domain.Submission) error {
	cache, err := s.sessions.ReadView(ctx, quizID)
	if err != nil {
		return fmt.Errorf("read session %s: %w", quizID, err)
	}
	now := s.now()
	quiz := cache.Exercise
	if quiz == nil {
		// A retired cache has no snapshot; the loader still knows the quiz ended.
		loaded, err := s.quizzes.LoadQuiz(ctx, quizID)
		if err != nil {
			return fmt.Errorf("load quiz %s: %w", quizID, err)
		}
		quiz = &loaded
	}
	if quiz.IsEnded(now) {
		return domain.ErrQuizEnded
	}
	if _, ok := cache.Participations[participantID]; ok {
		return domain.ErrAlreadySubmitted
	}

	if sub.Answers == nil {
		sub.Answers = []domain.SubmittedAnswer{}
	}
	if sub.SubmissionDate.IsZero() {
		sub.SubmissionDate = now
	}
	if sub.Submitted && sub.Type == "" {
		sub.Type = domain.SubmissionManual
	}

	revision, err := s.sessions.WriteView(quizID).PutSubmission(ctx, participantID, sub)
	if err != nil {
		return err
	}
	s.logger.Debug("submission buffered", "quiz_id", quizID, "participant_id", participantID,
		"revision", revision, "submitted", sub.Submitted)
	return nil
}

// GetSubmission returns the pending submission or an empty one.
func (s *QuizScheduleService) GetSubmission(ctx context.Context, quizID, participantID string) (domain.Submission, error) {
	cache, err := s.sessions.ReadView(ctx, quizID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("read session %s: %w", quizID, err)
	}
	pending, ok := cache.Submissions[participantID]
	if !ok {
		return domain.EmptySubmission(), nil
	}
	sub := pending.Submission
	if sub.Answers == nil {
		sub.Answers = []domain.SubmittedAnswer{}
	}
	return sub, nil
}

// GetParticipation returns a persisted participation that has not been dispatched yet.
func (s *QuizScheduleService) GetParticipation(ctx context.Context, quizID, participantID string) (domain.Participation, bool, error) {
	cache, err := s.sessions.ReadView(ctx, quizID)
	if err != nil {
		return domain.Participation{}, false, fmt.Errorf("read session %s: %w", quizID, err)
	}
	p, ok := cache.Participations[participantID]
	return p, ok, nil
}

// GetQuiz returns the cached quiz snapshot, loading and storing it on first use.
func (s *QuizScheduleService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	cache, err := s.sessions.ReadView(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("read session %s: %w", quizID, err)
	}
	if cache.Exercise != nil {
		return *cache.Exercise, nil
	}

	result, err, _ := s.sf.Do(quizID, func() (interface{}, error) {
		quiz, err := s.quizzes.LoadQuizWithQuestions(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := s.sessions.WriteView(quizID).SetExercise(ctx, quiz); err != nil {
			return domain.Quiz{}, fmt.Errorf("store quiz snapshot: %w", err)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// ClearCache drops the cache of one quiz. Unsaved work in it is lost.
func (s *QuizScheduleService) ClearCache(ctx context.Context, quizID string) error {
	if err := s.sessions.Remove(ctx, quizID); err != nil {
		return fmt.Errorf("remove session %s: %w", quizID, err)
	}
	s.logger.Info("quiz cache cleared", "quiz_id", quizID)
	return nil
}

// ClearAllCaches drops every quiz cache.
func (s *QuizScheduleService) ClearAllCaches(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	s.logger.Info("all quiz caches cleared")
	return nil
}
