package app

import (
	"context"
	"time"

	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/scheduler"
)

// SessionStore abstracts where quiz session caches live (in-memory, Redis, etc).
// The cache is the only copy of unsaved student work: losing it loses that work.
type SessionStore interface {
	// ReadView may be slightly stale. An unknown quiz yields an empty cache that is not stored.
	ReadView(ctx context.Context, quizID string) (domain.QuizSessionCache, error)
	// WriteView returns the authoritative handle for mutations of one quiz.
	WriteView(quizID string) SessionWriter
	// ForEachActive calls fn for every quiz that currently has a cache.
	ForEachActive(ctx context.Context, fn func(domain.QuizSessionCache) error) error
	Remove(ctx context.Context, quizID string) error
	Clear(ctx context.Context) error
}

// SessionWriter mutates a single quiz cache. Every method is atomic on its own;
// nothing spans more than one call.
type SessionWriter interface {
	Snapshot(ctx context.Context) (domain.QuizSessionCache, error)
	// PutSubmission replaces the pending submission and returns its revision.
	// It fails with domain.ErrAlreadySubmitted once the submission is final.
	PutSubmission(ctx context.Context, participantID string, sub domain.Submission) (int64, error)
	// Promote stores participation and result and drops the pending submission.
	// superseded is true when the pending entry no longer carries revision.
	Promote(ctx context.Context, participantID string, revision int64, participation domain.Participation, result domain.Result) (superseded bool, err error)
	RemoveParticipation(ctx context.Context, participantID string) error
	RemoveResults(ctx context.Context, ids []int64) error
	SetExercise(ctx context.Context, quiz domain.Quiz) error
	SetStartTask(ctx context.Context, handle domain.TaskHandle) error
	// ClearStartTask clears the handle if it matches handleID ("" matches any).
	ClearStartTask(ctx context.Context, handleID string) error
}

// QuizLoader reads quiz definitions from the durable store.
type QuizLoader interface {
	// LoadQuiz returns the quiz without its questions.
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	LoadQuizWithQuestions(ctx context.Context, quizID string) (domain.Quiz, error)
	// ListPlannedToStart returns quizzes planned to start with a release date after since.
	ListPlannedToStart(ctx context.Context, since time.Time) ([]domain.Quiz, error)
}

// ResultRepository persists the outcome of a finished attempt.
type ResultRepository interface {
	// FindParticipant fails with domain.ErrParticipantNotFound for unknown ids.
	FindParticipant(ctx context.Context, participantID string) (domain.Participant, error)
	SaveParticipation(ctx context.Context, p domain.Participation) (domain.Participation, error)
	SaveSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	SaveResult(ctx context.Context, result domain.Result) (domain.Result, error)
}

// Dispatcher pushes notifications to connected clients. Delivery is best effort.
type Dispatcher interface {
	SendToParticipant(ctx context.Context, quizID, participantID string, p domain.Participation) error
	BroadcastQuizStart(ctx context.Context, quiz domain.Quiz) error
}

// StatisticsUpdater folds new results into the quiz statistics.
type StatisticsUpdater interface {
	UpdateStatistics(ctx context.Context, results []domain.Result, quiz domain.Quiz) error
}

// TaskScheduler is the subset of *scheduler.Scheduler the service drives.
type TaskScheduler interface {
	ScheduleOnce(ctx context.Context, key string, delay time.Duration, task scheduler.Task) (scheduler.Handle, error)
	CancelKey(ctx context.Context, key string) (bool, error)
	CancelLocal(ctx context.Context) int
	ScheduleAtFixedRate(ctx context.Context, key string, interval time.Duration, task scheduler.Task, opts scheduler.FixedRateOptions) (*scheduler.Registration, error)
}
