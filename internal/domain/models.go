package domain

import "time"

// SubmissionType records how a submission was finalized.
type SubmissionType string

const (
	// SubmissionManual means the participant pressed submit.
	SubmissionManual SubmissionType = "MANUAL"
	// SubmissionTimeout means the quiz ended before the participant submitted.
	SubmissionTimeout SubmissionType = "TIMEOUT"
)

// ParticipationState mirrors the lifecycle of a persisted participation.
type ParticipationState string

const (
	ParticipationInitialized ParticipationState = "INITIALIZED"
	ParticipationFinished    ParticipationState = "FINISHED"
)

// AssessmentAutomatic marks results produced by grading without a human in the loop.
const AssessmentAutomatic = "AUTOMATIC"

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Points      int      `json:"points"` // defaults to 1 if zero
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz is a collection of questions plus the timing that drives the scheduler.
type Quiz struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	CourseID       string        `json:"courseId,omitempty"`
	ExamID         string        `json:"examId,omitempty"`
	ReleaseDate    time.Time     `json:"releaseDate"`
	Duration       time.Duration `json:"duration"`
	PlannedToStart bool          `json:"plannedToStart"`
	Questions      []Question    `json:"questions"`
}

// Participant identifies a user taking part in a quiz.
type Participant struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// SubmittedAnswer is the option a participant picked for one question.
// Question is filled in by grading and carries the graded question snapshot.
type SubmittedAnswer struct {
	QuestionID    string    `json:"questionId"`
	OptionID      string    `json:"optionId"`
	Question      *Question `json:"question,omitempty"`
	ScoreInPoints float64   `json:"scoreInPoints"`
}

// Submission is a participant's set of answers for a quiz.
type Submission struct {
	ID              int64             `json:"id,omitempty"`
	ParticipationID int64             `json:"participationId,omitempty"`
	ResultID        int64             `json:"resultId,omitempty"`
	Submitted       bool              `json:"submitted"`
	Type            SubmissionType    `json:"type,omitempty"`
	SubmissionDate  time.Time         `json:"submissionDate"`
	Answers         []SubmittedAnswer `json:"answers"`
	ScoreInPoints   float64           `json:"scoreInPoints"`
}

// Result is the graded outcome of a submission.
type Result struct {
	ID              int64     `json:"id"`
	ParticipationID int64     `json:"participationId"`
	SubmissionID    int64     `json:"submissionId"`
	Score           float64   `json:"score"` // percentage of MaxPoints
	Points          float64   `json:"points"`
	MaxPoints       float64   `json:"maxPoints"`
	Successful      bool      `json:"successful"`
	Rated           bool      `json:"rated"`
	AssessmentType  string    `json:"assessmentType"`
	CompletionDate  time.Time `json:"completionDate"`
}

// Participation links a participant to an attempt on a quiz.
type Participation struct {
	ID                 int64              `json:"id"`
	ExerciseID         string             `json:"exerciseId"`
	ParticipantID      string             `json:"participantId,omitempty"`
	Participant        *Participant       `json:"participant,omitempty"`
	InitializationDate time.Time          `json:"initializationDate"`
	State              ParticipationState `json:"state"`
	Exercise           *Quiz              `json:"exercise,omitempty"`
	Submission         *Submission        `json:"submission,omitempty"`
	Result             *Result            `json:"result,omitempty"`
}

// PendingSubmission is a cached submission plus the store-assigned revision
// of the write that produced it.
type PendingSubmission struct {
	Submission Submission `json:"submission"`
	Revision   int64      `json:"revision"`
}

// TaskHandle points at a scheduled one-shot task.
type TaskHandle struct {
	Key    string    `json:"key"`
	ID     string    `json:"id"`
	FireAt time.Time `json:"fireAt"`
}

// Notification types pushed to clients.
const (
	NotificationQuizStart     = "start-now"
	NotificationParticipation = "participation"
)

// Notification is what the dispatch gateway delivers to client channels.
// An empty ParticipantID addresses every subscriber of the quiz.
type Notification struct {
	Type          string `json:"type"`
	QuizID        string `json:"quizId"`
	ParticipantID string `json:"participantId,omitempty"`
	Payload       any    `json:"payload"`
}
