package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"live-quiz-scheduler/internal/domain"
)

type drainStats struct {
	quizzes    atomic.Int64
	saved      atomic.Int64
	failed     atomic.Int64
	dispatched atomic.Int64
	results    atomic.Int64
	retired    atomic.Int64
}

// ProcessCachedSubmissions runs one drain cycle over every active quiz cache.
// Quizzes are isolated from each other: a failure is logged and the cycle moves on.
func (s *QuizScheduleService) ProcessCachedSubmissions(ctx context.Context) error {
	started := time.Now()
	var stats drainStats

	err := s.sessions.ForEachActive(ctx, func(cache domain.QuizSessionCache) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.quizzes.Add(1)
		s.drainQuiz(ctx, cache.ExerciseID, &stats)
		return nil
	})

	s.logger.Info("drain cycle finished",
		"quizzes", stats.quizzes.Load(),
		"saved", stats.saved.Load(),
		"failed", stats.failed.Load(),
		"dispatched", stats.dispatched.Load(),
		"results", stats.results.Load(),
		"retired", stats.retired.Load(),
		"duration", time.Since(started))
	if err != nil {
		return fmt.Errorf("iterate sessions: %w", err)
	}
	return nil
}

func (s *QuizScheduleService) drainQuiz(ctx context.Context, quizID string, stats *drainStats) {
	logger := s.logger.With("quiz_id", quizID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("drain panicked", "panic", r)
		}
	}()

	writer := s.sessions.WriteView(quizID)
	cache, err := writer.Snapshot(ctx)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return
	}
	if err != nil {
		logger.Error("read session", "error", err)
		return
	}

	quiz, err := s.quizzes.LoadQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		logger.Warn("quiz no longer exists; dropping its cache",
			"pending_submissions", len(cache.Submissions),
			"pending_participations", len(cache.Participations),
			"pending_results", len(cache.Results))
		if err := s.sessions.Remove(ctx, quizID); err != nil {
			logger.Error("remove session", "error", err)
		}
		return
	}
	if err != nil {
		logger.Error("load quiz", "error", err)
		return
	}

	now := s.now()
	ended := quiz.IsEnded(now)
	if cache.StartTask != nil && !ended && !cache.StartTask.FireAt.After(now) {
		s.recoverQuizStart(ctx, logger, quizID, *cache.StartTask)
	}
	if !cache.HasPendingWork() {
		if ended {
			s.retireQuiz(ctx, logger, quizID, stats)
		}
		return
	}

	if len(cache.Submissions) > 0 {
		full, err := s.quizzes.LoadQuizWithQuestions(ctx, quizID)
		if err != nil {
			logger.Error("load quiz questions", "error", err)
			return
		}
		quiz = full
		if err := writer.SetExercise(ctx, quiz); err != nil {
			logger.Warn("store quiz snapshot", "error", err)
		}
		s.saveSubmissions(ctx, logger, writer, quiz, cache.Submissions, ended, now, stats)
	}

	if ended {
		s.dispatchParticipations(ctx, logger, writer, quizID, stats)
	}

	s.updateStatistics(ctx, logger, writer, quiz, stats)

	if ended {
		after, err := writer.Snapshot(ctx)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return
		}
		if err != nil {
			logger.Error("read session", "error", err)
			return
		}
		if !after.HasPendingWork() {
			s.retireQuiz(ctx, logger, quizID, stats)
		}
	}
}

func (s *QuizScheduleService) saveSubmissions(ctx context.Context, logger *slog.Logger, writer SessionWriter, quiz domain.Quiz,
	pending map[string]domain.PendingSubmission, ended bool, now time.Time, stats *drainStats) {
	started := time.Now()
	var saved atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)
	for participantID, entry := range pending {
		if !entry.Submission.Submitted && !ended {
			continue
		}
		participantID, entry := participantID, entry
		g.Go(func() error {
			if err := s.persistSubmission(ctx, logger, writer, quiz, participantID, entry, ended, now); err != nil {
				stats.failed.Add(1)
				logger.Error("persist submission; retrying next cycle", "participant_id", participantID, "error", err)
				return nil
			}
			saved.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if n := saved.Load(); n > 0 {
		stats.saved.Add(n)
		logger.Info("saved submissions", "count", n, "duration", time.Since(started))
	}
}

func (s *QuizScheduleService) persistSubmission(ctx context.Context, logger *slog.Logger, writer SessionWriter, quiz domain.Quiz,
	participantID string, entry domain.PendingSubmission, ended bool, now time.Time) error {
	sub := entry.Submission
	if sub.Submitted {
		if sub.Type == "" {
			sub.Type = domain.SubmissionManual
		}
	} else {
		sub.Submitted = true
		sub.Type = domain.SubmissionTimeout
		sub.SubmissionDate = now
	}
	if sub.Answers == nil {
		sub.Answers = []domain.SubmittedAnswer{}
	}

	var participant *domain.Participant
	found, err := s.results.FindParticipant(ctx, participantID)
	switch {
	case err == nil:
		participant = &found
	case errors.Is(err, domain.ErrParticipantNotFound):
		logger.Warn("participant not found", "participant_id", participantID)
	default:
		return fmt.Errorf("find participant: %w", err)
	}

	participation, err := s.results.SaveParticipation(ctx, domain.Participation{
		ExerciseID:         quiz.ID,
		ParticipantID:      participantID,
		Participant:        participant,
		InitializationDate: sub.SubmissionDate,
		State:              domain.ParticipationFinished,
	})
	if err != nil {
		return fmt.Errorf("save participation: %w", err)
	}

	sub.ParticipationID = participation.ID
	graded, result := domain.Grade(sub, quiz, sub.SubmissionDate)
	saved, err := s.results.SaveSubmission(ctx, graded)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}

	result.SubmissionID = saved.ID
	result.ParticipationID = participation.ID
	result, err = s.results.SaveResult(ctx, result)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	saved.ResultID = result.ID
	saved, err = s.results.SaveSubmission(ctx, saved)
	if err != nil {
		return fmt.Errorf("link result: %w", err)
	}

	participation.Participant = participant
	participation.Exercise = &quiz
	participation.Submission = &saved
	participation.Result = &result

	superseded, err := writer.Promote(ctx, participantID, entry.Revision, participation, result)
	if err != nil {
		return fmt.Errorf("promote participation: %w", err)
	}
	if superseded {
		logger.Warn("newer edit arrived while saving; persisted version wins",
			"participant_id", participantID, "revision", entry.Revision)
	}
	return nil
}

func (s *QuizScheduleService) dispatchParticipations(ctx context.Context, logger *slog.Logger, writer SessionWriter, quizID string, stats *drainStats) {
	cache, err := writer.Snapshot(ctx)
	if err != nil {
		logger.Error("read session", "error", err)
		return
	}
	started := time.Now()
	sent := 0
	for participantID, participation := range cache.Participations {
		if participation.Participant == nil {
			logger.Error("participation has no participant; keeping it", "participant_id", participantID)
			continue
		}
		if err := s.dispatcher.SendToParticipant(ctx, quizID, participantID, domain.ForParticipant(participation)); err != nil {
			logger.Warn("send participation", "participant_id", participantID, "error", err)
		}
		if err := writer.RemoveParticipation(ctx, participantID); err != nil {
			logger.Error("remove participation", "participant_id", participantID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		stats.dispatched.Add(int64(sent))
		logger.Info("sent participations", "count", sent, "duration", time.Since(started))
	}
}

func (s *QuizScheduleService) updateStatistics(ctx context.Context, logger *slog.Logger, writer SessionWriter, quiz domain.Quiz, stats *drainStats) {
	cache, err := writer.Snapshot(ctx)
	if err != nil {
		logger.Error("read session", "error", err)
		return
	}
	if len(cache.Results) == 0 {
		return
	}

	started := time.Now()
	results := make([]domain.Result, 0, len(cache.Results))
	ids := make([]int64, 0, len(cache.Results))
	for id, result := range cache.Results {
		results = append(results, result)
		ids = append(ids, id)
	}

	if err := s.statistics.UpdateStatistics(ctx, results, quiz); err != nil {
		logger.Error("update statistics; retrying next cycle", "results", len(results), "error", err)
		return
	}
	if err := writer.RemoveResults(ctx, ids); err != nil {
		logger.Error("remove results", "error", err)
		return
	}
	stats.results.Add(int64(len(ids)))
	logger.Info("updated statistics", "results", len(ids), "duration", time.Since(started))
}

func (s *QuizScheduleService) retireQuiz(ctx context.Context, logger *slog.Logger, quizID string, stats *drainStats) {
	if err := s.CancelScheduledQuizStart(ctx, quizID); err != nil {
		logger.Warn("cancel start of ended quiz", "error", err)
	}
	if err := s.sessions.Remove(ctx, quizID); err != nil {
		logger.Error("remove session", "error", err)
		return
	}
	stats.retired.Add(1)
	logger.Debug("ended quiz cache removed")
}
