package memory

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"

	"gopkg.in/yaml.v3"

	"trivia-session-service/internal/domain"
)

//go:embed questions.yaml
var defaultQuestions []byte

// DefaultQuestions parses the embedded question bank.
func DefaultQuestions() ([]domain.Question, error) {
	return ParseQuestions(defaultQuestions)
}

// ParseQuestions reads a YAML list of questions. Entries are active unless
// they are marked deleted, and default to multiple-choice.
func ParseQuestions(data []byte) ([]domain.Question, error) {
	var questions []domain.Question
	if err := yaml.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	for i := range questions {
		q := &questions[i]
		if q.ID == "" || len(q.Options) < 2 || q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
			return nil, fmt.Errorf("question %d (%q) is malformed", i, q.ID)
		}
		q.IsActive = !q.IsDeleted
		if q.QuestionType == "" {
			q.QuestionType = domain.QuestionTypeMultipleChoice
		}
	}
	return questions, nil
}

// QuestionBank is a fixed in-memory question source (useful for tests/demos).
type QuestionBank struct {
	byID     map[string]domain.Question
	playable []string
}

func NewQuestionBank(questions []domain.Question) *QuestionBank {
	b := &QuestionBank{byID: make(map[string]domain.Question, len(questions))}
	for _, q := range questions {
		b.byID[q.ID] = q
		if q.Playable() {
			b.playable = append(b.playable, q.ID)
		}
	}
	return b
}

// Sample picks up to n distinct playable questions in random order.
func (b *QuestionBank) Sample(_ context.Context, n int) ([]domain.Question, error) {
	if n > len(b.playable) {
		n = len(b.playable)
	}
	out := make([]domain.Question, 0, n)
	for _, i := range rand.Perm(len(b.playable))[:n] {
		out = append(out, b.byID[b.playable[i]])
	}
	return out, nil
}

// GetByID returns soft-deleted questions too, so running games keep working.
func (b *QuestionBank) GetByID(_ context.Context, id string) (domain.Question, error) {
	if q, ok := b.byID[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
