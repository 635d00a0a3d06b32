package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-scheduler/internal/domain"
)

func TestStoreLoadsQuizzes(t *testing.T) {
	ctx := context.Background()
	store := NewStore(map[string]domain.Quiz{"quiz-1": sampleQuiz()}, nil)

	minimal, err := store.LoadQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if minimal.Questions != nil {
		t.Fatalf("minimal quiz should not carry questions")
	}
	full, err := store.LoadQuizWithQuestions(ctx, "quiz-1")
	if err != nil || len(full.Questions) != 1 {
		t.Fatalf("expected questions, got %+v %v", full, err)
	}
	if _, err := store.LoadQuiz(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestStoreListPlannedToStart(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	later := sampleQuiz()
	later.ID = "later"
	later.ReleaseDate = base.Add(2 * time.Hour)
	sooner := sampleQuiz()
	sooner.ID = "sooner"
	sooner.ReleaseDate = base.Add(time.Hour)
	past := sampleQuiz()
	past.ID = "past"
	past.ReleaseDate = base.Add(-time.Hour)
	unplanned := sampleQuiz()
	unplanned.ID = "unplanned"
	unplanned.PlannedToStart = false

	store := NewStore(map[string]domain.Quiz{
		later.ID: later, sooner.ID: sooner, past.ID: past, unplanned.ID: unplanned,
	}, nil)

	quizzes, err := store.ListPlannedToStart(ctx, base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(quizzes) != 2 || quizzes[0].ID != "sooner" || quizzes[1].ID != "later" {
		t.Fatalf("unexpected planned quizzes %+v", quizzes)
	}
}

func TestStoreAssignsIDs(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, map[string]domain.Participant{"alice": {Login: "alice"}})

	if _, err := store.FindParticipant(ctx, "bob"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}

	p, _ := store.SaveParticipation(ctx, domain.Participation{ExerciseID: "quiz-1", ParticipantID: "alice"})
	sub, _ := store.SaveSubmission(ctx, domain.Submission{ParticipationID: p.ID})
	result, _ := store.SaveResult(ctx, domain.Result{SubmissionID: sub.ID})
	if p.ID == 0 || sub.ID == 0 || result.ID == 0 {
		t.Fatalf("expected ids to be assigned")
	}

	sub.ResultID = result.ID
	again, _ := store.SaveSubmission(ctx, sub)
	if again.ID != sub.ID {
		t.Fatalf("re-saving keeps the id")
	}
	stored, ok := store.Submission(sub.ID)
	if !ok || stored.ResultID != result.ID {
		t.Fatalf("expected linked submission, got %+v", stored)
	}
	if got := store.Participations("quiz-1"); len(got) != 1 {
		t.Fatalf("expected one participation, got %d", len(got))
	}
}

func TestStatisticsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, nil)
	sub, _ := store.SaveSubmission(ctx, domain.Submission{Answers: []domain.SubmittedAnswer{
		{QuestionID: "q1", ScoreInPoints: 1},
		{QuestionID: "q2"},
	}})
	result, _ := store.SaveResult(ctx, domain.Result{SubmissionID: sub.ID, Points: 1, Rated: true})

	stats := NewStoreStatistics(store)
	quiz := sampleQuiz()
	for i := 0; i < 2; i++ {
		if err := stats.UpdateStatistics(ctx, []domain.Result{result}, quiz); err != nil {
			t.Fatalf("update statistics: %v", err)
		}
	}

	snap := stats.Snapshot(quiz.ID)
	if snap.Participants != 1 {
		t.Fatalf("expected 1 participant, got %d", snap.Participants)
	}
	if snap.PointsHistogram[1] != 1 || snap.CorrectAnswers["q1"] != 1 || snap.CorrectAnswers["q2"] != 0 {
		t.Fatalf("unexpected statistics %+v", snap)
	}
}
