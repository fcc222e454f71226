package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-session-service/internal/domain"
)

const questionColumns = `id, text, options, correct_answer_index, explanation, question_type, image_url, is_active, is_deleted`

// QuestionLoader reads questions from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// Sample draws n random playable questions.
func (l *QuestionLoader) Sample(ctx context.Context, n int) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE is_active AND NOT is_deleted ORDER BY random() LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0, n)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	return questions, nil
}

// GetByID ignores the active and deleted flags; a game that already drew a
// question keeps using it.
func (l *QuestionLoader) GetByID(ctx context.Context, id string) (domain.Question, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q   domain.Question
		raw []byte
	)
	err := row.Scan(&q.ID, &q.Text, &raw, &q.CorrectAnswerIndex, &q.Explanation,
		&q.QuestionType, &q.ImageURL, &q.IsActive, &q.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	if err := json.Unmarshal(raw, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question options: %w", err)
	}
	return q, nil
}
