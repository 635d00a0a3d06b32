package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-scheduler/internal/domain"
)

const quizColumns = `id, title, course_id, exam_id, release_date, duration_seconds, planned_to_start`

// Store is the durable store backed by Postgres: quiz definitions, users and
// the participations, submissions and results written by the drain.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// quizData is the JSONB part of a quiz row.
type quizData struct {
	Questions []domain.Question `json:"questions"`
}

func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id=$1`, quizID)
	quiz, err := scanQuiz(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) LoadQuizWithQuestions(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	row := s.pool.QueryRow(ctx, `SELECT `+quizColumns+`, data FROM quizzes WHERE id=$1`, quizID)
	quiz, err := scanQuiz(row, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var data quizData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz.Questions = data.Questions
	return quiz, nil
}

func (s *Store) ListPlannedToStart(ctx context.Context, since time.Time) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quizColumns+` FROM quizzes WHERE planned_to_start AND release_date > $1 ORDER BY release_date`, since)
	if err != nil {
		return nil, fmt.Errorf("list planned quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := make([]domain.Quiz, 0)
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

// SaveQuiz inserts or replaces a quiz definition.
func (s *Store) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quizData{Questions: quiz.Questions})
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	var release *time.Time
	if !quiz.ReleaseDate.IsZero() {
		release = &quiz.ReleaseDate
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO quizzes (id, title, course_id, exam_id, release_date, duration_seconds, planned_to_start, data)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8::jsonb)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title, course_id = EXCLUDED.course_id, exam_id = EXCLUDED.exam_id,
    release_date = EXCLUDED.release_date, duration_seconds = EXCLUDED.duration_seconds,
    planned_to_start = EXCLUDED.planned_to_start, data = EXCLUDED.data`,
		quiz.ID, quiz.Title, quiz.CourseID, quiz.ExamID, release, int64(quiz.Duration/time.Second), quiz.PlannedToStart, string(data))
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, user domain.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (login, name) VALUES ($1, $2) ON CONFLICT (login) DO UPDATE SET name = EXCLUDED.name`,
		user.Login, user.Name)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) FindParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, `SELECT login, name FROM users WHERE login=$1`, participantID).Scan(&p.Login, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find participant: %w", err)
	}
	return p, nil
}

func (s *Store) SaveParticipation(ctx context.Context, p domain.Participation) (domain.Participation, error) {
	var err error
	if p.ID == 0 {
		err = s.pool.QueryRow(ctx, `
INSERT INTO participations (quiz_id, participant_id, initialization_date, state)
VALUES ($1, $2, $3, $4) RETURNING id`,
			p.ExerciseID, p.ParticipantID, p.InitializationDate, string(p.State)).Scan(&p.ID)
	} else {
		_, err = s.pool.Exec(ctx, `UPDATE participations SET state=$2 WHERE id=$1`, p.ID, string(p.State))
	}
	if err != nil {
		return domain.Participation{}, fmt.Errorf("save participation: %w", err)
	}
	return p, nil
}

func (s *Store) SaveSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("marshal answers: %w", err)
	}
	var resultID *int64
	if sub.ResultID != 0 {
		resultID = &sub.ResultID
	}

	if sub.ID == 0 {
		err = s.pool.QueryRow(ctx, `
INSERT INTO submissions (participation_id, result_id, submitted, type, submission_date, score_in_points, answers)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb) RETURNING id`,
			sub.ParticipationID, resultID, sub.Submitted, string(sub.Type), sub.SubmissionDate, sub.ScoreInPoints, string(answers)).Scan(&sub.ID)
	} else {
		_, err = s.pool.Exec(ctx, `
UPDATE submissions SET result_id=$2, submitted=$3, type=$4, submission_date=$5, score_in_points=$6, answers=$7::jsonb
WHERE id=$1`,
			sub.ID, resultID, sub.Submitted, string(sub.Type), sub.SubmissionDate, sub.ScoreInPoints, string(answers))
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("save submission: %w", err)
	}
	return sub, nil
}

func (s *Store) SaveResult(ctx context.Context, r domain.Result) (domain.Result, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO results (participation_id, submission_id, score, points, max_points, successful, rated, assessment_type, completion_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		r.ParticipationID, r.SubmissionID, r.Score, r.Points, r.MaxPoints, r.Successful, r.Rated, r.AssessmentType, r.CompletionDate).Scan(&r.ID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("save result: %w", err)
	}
	return r, nil
}

// CountParticipations returns how many participations were saved for a participant.
func (s *Store) CountParticipations(ctx context.Context, quizID, participantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM participations WHERE quiz_id=$1 AND participant_id=$2`, quizID, participantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participations: %w", err)
	}
	return n, nil
}

func scanQuiz(row pgx.Row, extra ...interface{}) (domain.Quiz, error) {
	var (
		quiz     domain.Quiz
		courseID *string
		examID   *string
		release  *time.Time
		seconds  int64
	)
	dest := append([]interface{}{&quiz.ID, &quiz.Title, &courseID, &examID, &release, &seconds, &quiz.PlannedToStart}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Quiz{}, err
	}
	if courseID != nil {
		quiz.CourseID = *courseID
	}
	if examID != nil {
		quiz.ExamID = *examID
	}
	if release != nil {
		quiz.ReleaseDate = release.UTC()
	}
	quiz.Duration = time.Duration(seconds) * time.Second
	return quiz, nil
}
