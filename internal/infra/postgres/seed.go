package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trivia-session-service/internal/domain"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID                 string    `bun:"id,pk"`
	Text               string    `bun:"text,notnull"`
	Options            []string  `bun:"options,type:jsonb,notnull"`
	CorrectAnswerIndex int       `bun:"correct_answer_index"`
	Explanation        string    `bun:"explanation"`
	QuestionType       string    `bun:"question_type"`
	ImageURL           string    `bun:"image_url"`
	IsActive           bool      `bun:"is_active"`
	IsDeleted          bool      `bun:"is_deleted"`
	UpdatedAt          time.Time `bun:"updated_at"`
}

// SeedQuestions upserts the given questions by id. Existing rows get their
// content replaced and are reactivated.
func SeedQuestions(ctx context.Context, db *bun.DB, questions []domain.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		qt := q.QuestionType
		if qt == "" {
			qt = domain.QuestionTypeMultipleChoice
		}
		rows = append(rows, questionRow{
			ID:                 q.ID,
			Text:               q.Text,
			Options:            q.Options,
			CorrectAnswerIndex: q.CorrectAnswerIndex,
			Explanation:        q.Explanation,
			QuestionType:       qt,
			ImageURL:           q.ImageURL,
			IsActive:           q.IsActive,
			IsDeleted:          q.IsDeleted,
			UpdatedAt:          now,
		})
	}

	res, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("options = EXCLUDED.options").
		Set("correct_answer_index = EXCLUDED.correct_answer_index").
		Set("explanation = EXCLUDED.explanation").
		Set("question_type = EXCLUDED.question_type").
		Set("image_url = EXCLUDED.image_url").
		Set("is_active = EXCLUDED.is_active").
		Set("is_deleted = EXCLUDED.is_deleted").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed questions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(rows), nil
	}
	return int(n), nil
}
