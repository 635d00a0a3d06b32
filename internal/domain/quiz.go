package domain

import "time"

// IsCourseExercise reports whether the quiz belongs to a course rather than an exam.
func (q Quiz) IsCourseExercise() bool {
	return q.ExamID == ""
}

// EndDate is the release date plus the working time. Zero if the quiz has no release date.
func (q Quiz) EndDate() time.Time {
	if q.ReleaseDate.IsZero() {
		return time.Time{}
	}
	return q.ReleaseDate.Add(q.Duration)
}

// IsEnded reports whether the quiz working time is over at now.
func (q Quiz) IsEnded(now time.Time) bool {
	end := q.EndDate()
	return !end.IsZero() && !now.Before(end)
}

// IsStartEligible reports whether a start task should be scheduled for the quiz.
// Exam quizzes are started by the exam, not by the scheduler.
func (q Quiz) IsStartEligible(now time.Time) bool {
	return q.PlannedToStart && q.IsCourseExercise() && q.ReleaseDate.After(now)
}

// MaxPoints sums the points of all questions.
func (q Quiz) MaxPoints() float64 {
	total := 0
	for _, question := range q.Questions {
		total += questionPoints(question)
	}
	return float64(total)
}

// ForStudents returns a deep copy without anything that reveals the answers.
func (q Quiz) ForStudents() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Explanation = ""
		options := make([]Option, len(question.Options))
		for j, opt := range question.Options {
			opt.Correct = false
			options[j] = opt
		}
		question.Options = options
		out.Questions[i] = question
	}
	return out
}

// WithoutCourse drops the course reference; clients already know the course they are in.
func (q Quiz) WithoutCourse() Quiz {
	q.CourseID = ""
	return q
}

func (q Quiz) question(id string) *Question {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i]
		}
	}
	return nil
}

func questionPoints(q Question) int {
	if q.Points == 0 {
		return 1
	}
	return q.Points
}
