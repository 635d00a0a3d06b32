package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/scheduler"
)

// StartGlobalDrain registers the periodic drain. Only one node in the cluster
// runs it; the others stand by and take over when the holder's lease lapses.
func (s *QuizScheduleService) StartGlobalDrain(ctx context.Context, interval time.Duration) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if s.drain != nil {
		s.logger.Info("drain already registered on this node")
		return nil
	}

	reg, err := s.tasks.ScheduleAtFixedRate(ctx, DrainTaskKey, interval, s.runDrainCycle, scheduler.FixedRateOptions{
		LeaseTTL:     s.leaseTTL,
		Standby:      true,
		OnLeadership: s.scheduleAllPlannedStarts,
	})
	if errors.Is(err, scheduler.ErrDuplicateTask) {
		s.logger.Info("drain already registered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("register drain: %w", err)
	}
	s.drain = reg

	if reg.Leader() {
		s.logger.Info("drain started", "interval", interval)
	} else {
		s.logger.Info("drain already registered on another node; standing by", "interval", interval)
	}
	return nil
}

// StopGlobalDrain stops the drain on this node and releases the marker if this
// node held it. Start tasks whose timers live here are cancelled too.
func (s *QuizScheduleService) StopGlobalDrain(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if s.drain == nil {
		s.logger.Debug("drain not registered on this node")
		return nil
	}

	held, err := s.drain.Stop(ctx)
	if err != nil {
		return fmt.Errorf("stop drain: %w", err)
	}
	s.drain = nil

	cancelled := s.tasks.CancelLocal(ctx)
	s.logger.Info("drain stopped", "held_marker", held, "start_tasks_cancelled", cancelled)
	return nil
}

func (s *QuizScheduleService) runDrainCycle(ctx context.Context) {
	if err := s.ProcessCachedSubmissions(ctx); err != nil {
		s.logger.Error("drain cycle failed", "error", err)
	}
}

// scheduleAllPlannedStarts runs when this node becomes the drain holder.
func (s *QuizScheduleService) scheduleAllPlannedStarts(ctx context.Context) {
	quizzes, err := s.quizzes.ListPlannedToStart(ctx, s.now())
	if err != nil {
		s.logger.Error("list quizzes planned to start", "error", err)
		return
	}
	scheduled := 0
	for _, quiz := range quizzes {
		if !quiz.IsCourseExercise() {
			continue
		}
		if err := s.ScheduleQuizStart(ctx, quiz.ID); err != nil {
			s.logger.Error("schedule quiz start", "quiz_id", quiz.ID, "error", err)
			continue
		}
		scheduled++
	}
	s.logger.Info("scheduled planned quiz starts", "count", scheduled)
}

// ScheduleQuizStart (re)schedules the start of a quiz at its release date.
// Quizzes that are not eligible or already released are left alone.
func (s *QuizScheduleService) ScheduleQuizStart(ctx context.Context, quizID string) error {
	if err := s.CancelScheduledQuizStart(ctx, quizID); err != nil {
		return err
	}

	quiz, err := s.quizzes.LoadQuizWithQuestions(ctx, quizID)
	if err != nil {
		return fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	now := s.now()
	if !quiz.IsStartEligible(now) {
		s.logger.Debug("quiz start not scheduled", "quiz_id", quizID,
			"planned", quiz.PlannedToStart, "course", quiz.IsCourseExercise(), "release_date", quiz.ReleaseDate)
		return nil
	}

	delay := quiz.ReleaseDate.Sub(now)
	handleID := make(chan string, 1)
	handle, err := s.tasks.ScheduleOnce(ctx, StartTaskKey(quizID), delay, func(ctx context.Context) {
		s.executeQuizStart(ctx, quizID, <-handleID)
	})
	if errors.Is(err, scheduler.ErrDuplicateTask) {
		s.logger.Debug("quiz start already scheduled", "quiz_id", quizID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule start %s: %w", quizID, err)
	}
	handleID <- handle.ID

	writer := s.sessions.WriteView(quizID)
	if err := writer.SetStartTask(ctx, domain.TaskHandle{Key: handle.Key, ID: handle.ID, FireAt: handle.FireAt}); err != nil {
		return fmt.Errorf("store start handle %s: %w", quizID, err)
	}
	if err := writer.SetExercise(ctx, quiz); err != nil {
		return fmt.Errorf("store quiz snapshot %s: %w", quizID, err)
	}
	s.logger.Info("quiz start scheduled", "quiz_id", quizID, "fire_at", handle.FireAt)
	return nil
}

// CancelScheduledQuizStart disposes the start task of a quiz, wherever it was
// scheduled. A task that already fired is not an error.
func (s *QuizScheduleService) CancelScheduledQuizStart(ctx context.Context, quizID string) error {
	cancelled, err := s.tasks.CancelKey(ctx, StartTaskKey(quizID))
	if err != nil {
		return fmt.Errorf("cancel start %s: %w", quizID, err)
	}
	if err := s.sessions.WriteView(quizID).ClearStartTask(ctx, ""); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("clear start handle %s: %w", quizID, err)
	}
	if cancelled {
		s.logger.Info("quiz start cancelled", "quiz_id", quizID)
	}
	return nil
}

// recoverQuizStart fires an overdue start whose claim has lapsed, which happens
// when the node holding the timer died. A live claim means the start is still
// owned elsewhere and nothing is done.
func (s *QuizScheduleService) recoverQuizStart(ctx context.Context, logger *slog.Logger, quizID string, orphan domain.TaskHandle) {
	_, err := s.tasks.ScheduleOnce(ctx, StartTaskKey(quizID), 0, func(ctx context.Context) {
		cache, err := s.sessions.WriteView(quizID).Snapshot(ctx)
		if err != nil {
			logger.Warn("read session for start recovery", "error", err)
			return
		}
		if cache.StartTask == nil || cache.StartTask.ID != orphan.ID {
			return
		}
		s.executeQuizStart(ctx, quizID, orphan.ID)
	})
	if errors.Is(err, scheduler.ErrDuplicateTask) {
		logger.Debug("overdue start still claimed", "handle_id", orphan.ID)
		return
	}
	if err != nil {
		logger.Error("recover quiz start", "error", err)
		return
	}
	logger.Warn("recovering quiz start whose timer was lost", "handle_id", orphan.ID, "fire_at", orphan.FireAt)
}

func (s *QuizScheduleService) executeQuizStart(ctx context.Context, quizID, handleID string) {
	logger := s.logger.With("quiz_id", quizID)
	if err := s.sessions.WriteView(quizID).ClearStartTask(ctx, handleID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		logger.Warn("clear start handle", "error", err)
	}

	quiz, err := s.quizzes.LoadQuizWithQuestions(ctx, quizID)
	if err != nil {
		logger.Error("load quiz for start", "error", err)
		return
	}
	if err := s.sessions.WriteView(quizID).SetExercise(ctx, quiz); err != nil {
		logger.Warn("store quiz snapshot", "error", err)
	}
	if err := s.dispatcher.BroadcastQuizStart(ctx, quiz.ForStudents()); err != nil {
		logger.Warn("broadcast quiz start", "error", err)
		return
	}
	logger.Info("quiz started")
}
