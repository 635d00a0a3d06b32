package domain

// QuizSessionCache is the cluster-shared state of one running quiz. Entries
// in it are the only copy of student work until the drain has persisted them.
type QuizSessionCache struct {
	ExerciseID     string                       `json:"exerciseId"`
	Exercise       *Quiz                        `json:"exercise,omitempty"`
	Submissions    map[string]PendingSubmission `json:"submissions"`
	Participations map[string]Participation     `json:"participations"`
	Results        map[int64]Result             `json:"results"`
	StartTask      *TaskHandle                  `json:"startTask,omitempty"`
}

// NewQuizSessionCache returns an empty cache for quizID.
func NewQuizSessionCache(quizID string) QuizSessionCache {
	return QuizSessionCache{
		ExerciseID:     quizID,
		Submissions:    make(map[string]PendingSubmission),
		Participations: make(map[string]Participation),
		Results:        make(map[int64]Result),
	}
}

// HasPendingWork reports whether any of the pending maps holds an entry.
func (c QuizSessionCache) HasPendingWork() bool {
	return len(c.Submissions) > 0 || len(c.Participations) > 0 || len(c.Results) > 0
}

// Clone returns a copy whose maps can be mutated independently.
func (c QuizSessionCache) Clone() QuizSessionCache {
	out := NewQuizSessionCache(c.ExerciseID)
	for k, v := range c.Submissions {
		out.Submissions[k] = v
	}
	for k, v := range c.Participations {
		out.Participations[k] = v
	}
	for k, v := range c.Results {
		out.Results[k] = v
	}
	if c.Exercise != nil {
		quiz := *c.Exercise
		out.Exercise = &quiz
	}
	if c.StartTask != nil {
		handle := *c.StartTask
		out.StartTask = &handle
	}
	return out
}

// EmptySubmission is what clients see when nothing is cached for them.
func EmptySubmission() Submission {
	return Submission{Answers: []SubmittedAnswer{}}
}
