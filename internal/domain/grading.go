package domain

import (
	"math"
	"time"
)

// Grade scores every answer against quiz and returns the graded submission and its result.
// Only the last answer per question counts. Answers that point at unknown
// questions or options score zero.
func Grade(sub Submission, quiz Quiz, completedAt time.Time) (Submission, Result) {
	graded := sub
	answers := lastAnswerPerQuestion(sub.Answers)
	graded.Answers = make([]SubmittedAnswer, len(answers))

	total := 0.0
	for i, answer := range answers {
		points, question, err := scoreAnswer(quiz, answer)
		if err == nil {
			q := *question
			answer.Question = &q
		}
		answer.ScoreInPoints = float64(points)
		total += answer.ScoreInPoints
		graded.Answers[i] = answer
	}
	graded.ScoreInPoints = total

	maxPoints := quiz.MaxPoints()
	score := 0.0
	if maxPoints > 0 {
		score = math.Round(total/maxPoints*10000) / 100
	}

	result := Result{
		SubmissionID:    sub.ID,
		ParticipationID: sub.ParticipationID,
		Score:           score,
		Points:          total,
		MaxPoints:       maxPoints,
		Successful:      score >= 100,
		Rated:           true,
		AssessmentType:  AssessmentAutomatic,
		CompletionDate:  completedAt,
	}
	return graded, result
}

// scoreAnswer validates the answer against quiz content and returns the awarded points.
func scoreAnswer(quiz Quiz, answer SubmittedAnswer) (int, *Question, error) {
	question := quiz.question(answer.QuestionID)
	if question == nil {
		return 0, nil, ErrQuestionNotFound
	}

	var selected *Option
	for i := range question.Options {
		if question.Options[i].ID == answer.OptionID {
			selected = &question.Options[i]
			break
		}
	}
	if selected == nil {
		return 0, question, ErrOptionNotFound
	}

	if selected.Correct {
		return questionPoints(*question), question, nil
	}
	return 0, question, nil
}

// lastAnswerPerQuestion keeps the last answer given to each question, in the
// order the questions were first answered.
func lastAnswerPerQuestion(answers []SubmittedAnswer) []SubmittedAnswer {
	index := make(map[string]int, len(answers))
	out := make([]SubmittedAnswer, 0, len(answers))
	for _, answer := range answers {
		if i, ok := index[answer.QuestionID]; ok {
			out[i] = answer
			continue
		}
		index[answer.QuestionID] = len(out)
		out = append(out, answer)
	}
	return out
}
