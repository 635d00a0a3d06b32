package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-scheduler/internal/domain"
)

// StatisticsStore folds results into per-quiz point and question counters.
// Each result is counted once even when a batch is retried.
type StatisticsStore struct {
	pool *pgxpool.Pool
}

func NewStatisticsStore(pool *pgxpool.Pool) *StatisticsStore {
	return &StatisticsStore{pool: pool}
}

func (s *StatisticsStore) UpdateStatistics(ctx context.Context, results []domain.Result, quiz domain.Quiz) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin statistics tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, result := range results {
		if !result.Rated {
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO quiz_statistics_results (result_id, quiz_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			result.ID, quiz.ID)
		if err != nil {
			return fmt.Errorf("mark result %d: %w", result.ID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO quiz_point_statistics (quiz_id, points, participants) VALUES ($1, $2, 1)
ON CONFLICT (quiz_id, points) DO UPDATE SET participants = quiz_point_statistics.participants + 1`,
			quiz.ID, result.Points); err != nil {
			return fmt.Errorf("update point statistics: %w", err)
		}

		correct, err := correctQuestions(ctx, tx, result.SubmissionID)
		if err != nil {
			return err
		}
		for _, questionID := range correct {
			if _, err := tx.Exec(ctx, `
INSERT INTO quiz_question_statistics (quiz_id, question_id, correct_count) VALUES ($1, $2, 1)
ON CONFLICT (quiz_id, question_id) DO UPDATE SET correct_count = quiz_question_statistics.correct_count + 1`,
				quiz.ID, questionID); err != nil {
				return fmt.Errorf("update question statistics: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit statistics: %w", err)
	}
	return nil
}

// PointHistogram returns participants per achieved points for quizID.
func (s *StatisticsStore) PointHistogram(ctx context.Context, quizID string) (map[float64]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT points, participants FROM quiz_point_statistics WHERE quiz_id=$1`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query point statistics: %w", err)
	}
	defer rows.Close()

	out := make(map[float64]int)
	for rows.Next() {
		var points float64
		var n int
		if err := rows.Scan(&points, &n); err != nil {
			return nil, fmt.Errorf("scan point statistics: %w", err)
		}
		out[points] = n
	}
	return out, rows.Err()
}

func correctQuestions(ctx context.Context, tx pgx.Tx, submissionID int64) ([]string, error) {
	var raw []byte
	err := tx.QueryRow(ctx, `SELECT answers FROM submissions WHERE id=$1`, submissionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load answers of submission %d: %w", submissionID, err)
	}
	var answers []domain.SubmittedAnswer
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("decode answers of submission %d: %w", submissionID, err)
	}
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.ScoreInPoints > 0 {
			out = append(out, a.QuestionID)
		}
	}
	return out, nil
}
