package memory

import (
	"context"
	"sync"

	"live-quiz-scheduler/internal/domain"
)

// QuizStatistics aggregates rated results of one quiz.
type QuizStatistics struct {
	Participants    int
	PointsHistogram map[float64]int
	CorrectAnswers  map[string]int
}

// Statistics is an in-memory app.StatisticsUpdater.
type Statistics struct {
	mu      sync.Mutex
	quizzes map[string]*QuizStatistics
	seen    map[int64]struct{}
	answers func(resultID int64) []domain.SubmittedAnswer
}

// NewStatistics builds an updater. answers resolves the graded answers of a
// result and may be nil when per-question counts are not needed.
func NewStatistics(answers func(resultID int64) []domain.SubmittedAnswer) *Statistics {
	return &Statistics{
		quizzes: make(map[string]*QuizStatistics),
		seen:    make(map[int64]struct{}),
		answers: answers,
	}
}

// NewStoreStatistics resolves answers through the submissions saved in store.
func NewStoreStatistics(store *Store) *Statistics {
	return NewStatistics(func(resultID int64) []domain.SubmittedAnswer {
		result, ok := store.Result(resultID)
		if !ok {
			return nil
		}
		sub, ok := store.Submission(result.SubmissionID)
		if !ok {
			return nil
		}
		return sub.Answers
	})
}

// UpdateStatistics folds results into the quiz counters. A result already
// counted is skipped, so a retried batch is not double counted.
func (s *Statistics) UpdateStatistics(_ context.Context, results []domain.Result, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.quizzes[quiz.ID]
	if !ok {
		stats = &QuizStatistics{PointsHistogram: make(map[float64]int), CorrectAnswers: make(map[string]int)}
		s.quizzes[quiz.ID] = stats
	}
	for _, result := range results {
		if _, dup := s.seen[result.ID]; dup || !result.Rated {
			continue
		}
		s.seen[result.ID] = struct{}{}
		stats.Participants++
		stats.PointsHistogram[result.Points]++
		if s.answers == nil {
			continue
		}
		for _, answer := range s.answers(result.ID) {
			if answer.ScoreInPoints > 0 {
				stats.CorrectAnswers[answer.QuestionID]++
			}
		}
	}
	return nil
}

// Snapshot returns a copy of the statistics of quizID.
func (s *Statistics) Snapshot(quizID string) QuizStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.quizzes[quizID]
	if !ok {
		return QuizStatistics{PointsHistogram: map[float64]int{}, CorrectAnswers: map[string]int{}}
	}
	out := QuizStatistics{
		Participants:    stats.Participants,
		PointsHistogram: make(map[float64]int, len(stats.PointsHistogram)),
		CorrectAnswers:  make(map[string]int, len(stats.CorrectAnswers)),
	}
	for k, v := range stats.PointsHistogram {
		out.PointsHistogram[k] = v
	}
	for k, v := range stats.CorrectAnswers {
		out.CorrectAnswers[k] = v
	}
	return out
}
