package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// NormalizeNickname trims the nickname and checks its length in characters.
func NormalizeNickname(raw string) (string, error) {
	nickname := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(nickname)
	if n < MinNicknameLength || n > MaxNicknameLength {
		return "", ErrInvalidNickname
	}
	return nickname, nil
}

// nicknameKey folds case so "Anna" and "anna" collide.
func nicknameKey(nickname string) string {
	return cases.Fold().String(nickname)
}

// ValidateQuestionCount checks the requested sequence length.
func ValidateQuestionCount(n int) error {
	if n < MinQuestionCount || n > MaxQuestionCount {
		return ErrInvalidQuestionCount
	}
	return nil
}

// NewSession builds a lobby-phase session with the host as first participant.
func NewSession(code string, host Participant, questionIDs []string, now time.Time) Session {
	host.IsHost = true
	host.Score = 0
	host.Answers = nil
	if host.JoinedAt.IsZero() {
		host.JoinedAt = now
	}
	return Session{
		Code:                 code,
		HostID:               host.ID,
		Participants:         []Participant{host},
		QuestionIDs:          append([]string(nil), questionIDs...),
		CurrentQuestionIndex: 0,
		Phase:                PhaseLobby,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// NicknameTaken reports a case-insensitive collision with any participant.
func (s *Session) NicknameTaken(nickname string) bool {
	key := nicknameKey(nickname)
	for _, p := range s.Participants {
		if nicknameKey(p.Nickname) == key {
			return true
		}
	}
	return false
}

// AddParticipant appends a non-host participant while in the lobby.
func (s *Session) AddParticipant(id, rawNickname string, now time.Time) (Participant, error) {
	nickname, err := NormalizeNickname(rawNickname)
	if err != nil {
		return Participant{}, err
	}
	if s.Phase != PhaseLobby {
		return Participant{}, ErrAlreadyStarted
	}
	if s.NicknameTaken(nickname) {
		return Participant{}, ErrNicknameTaken
	}
	if _, exists := s.Participant(id); exists {
		return Participant{}, ErrDuplicateParticipant
	}

	p := Participant{
		ID:       id,
		Nickname: nickname,
		JoinedAt: now,
	}
	s.Participants = append(s.Participants, p)
	s.UpdatedAt = now
	return p, nil
}

func (s *Session) requireHost(participantID string) error {
	p, ok := s.Participant(participantID)
	if !ok || !p.IsHost {
		return ErrNotHost
	}
	return nil
}

// Start moves the session from lobby to in-progress at question 0.
func (s *Session) Start(by string, now time.Time) error {
	if err := s.requireHost(by); err != nil {
		return err
	}
	if s.Phase != PhaseLobby {
		return ErrAlreadyStarted
	}
	if len(s.Participants) < MinParticipantsToStart {
		return ErrInsufficientPlayers
	}

	s.Phase = PhaseInProgress
	s.CurrentQuestionIndex = 0
	s.UpdatedAt = now
	return nil
}

// CheckAnswer runs every guard that does not need the question content.
func (s *Session) CheckAnswer(participantID, questionID string) error {
	if s.Phase != PhaseInProgress {
		return ErrNotInProgress
	}
	p, ok := s.Participant(participantID)
	if !ok {
		return ErrUnknownPlayer
	}
	if p.HasAnswered(questionID) {
		return ErrAlreadyAnswered
	}
	current, _ := s.CurrentQuestionID()
	if questionID != current {
		return ErrUnknownQuestion
	}
	return nil
}

// RecordAnswer grades and appends an answer against the current question.
// q must be the question at the current index.
func (s *Session) RecordAnswer(participantID string, q Question, selectedIndex int, now time.Time) (Answer, int, error) {
	if err := s.CheckAnswer(participantID, q.ID); err != nil {
		return Answer{}, 0, err
	}
	if selectedIndex < 0 || selectedIndex >= len(q.Options) {
		return Answer{}, 0, ErrInvalidOption
	}

	answer := Answer{
		QuestionID:    q.ID,
		SelectedIndex: selectedIndex,
		SubmittedAtMs: now.UnixMilli(),
		IsCorrect:     selectedIndex == q.CorrectAnswerIndex,
	}
	p, _ := s.Participant(participantID)
	p.Answers = append(p.Answers, answer)
	if answer.IsCorrect {
		p.Score += PointsPerCorrectAnswer
	}
	s.UpdatedAt = now
	return answer, p.Score, nil
}

// AnsweredCount counts participants who answered questionID.
func (s *Session) AnsweredCount(questionID string) int {
	n := 0
	for i := range s.Participants {
		if s.Participants[i].HasAnswered(questionID) {
			n++
		}
	}
	return n
}

// Advance moves to the next question, or completes the session after the
// last one. It reports whether the session completed.
func (s *Session) Advance(by string, now time.Time) (bool, error) {
	if err := s.requireHost(by); err != nil {
		return false, err
	}
	if s.Phase != PhaseInProgress {
		return false, ErrNotInProgress
	}

	next := s.CurrentQuestionIndex + 1
	s.UpdatedAt = now
	if next >= len(s.QuestionIDs) {
		s.Phase = PhaseCompleted
		return true, nil
	}
	s.CurrentQuestionIndex = next
	return false, nil
}

// End completes the session immediately from lobby or in-progress.
func (s *Session) End(by string, now time.Time) error {
	if err := s.requireHost(by); err != nil {
		return err
	}
	if s.Phase == PhaseCompleted {
		return ErrGameCompleted
	}
	s.Phase = PhaseCompleted
	s.EndedEarly = true
	s.UpdatedAt = now
	return nil
}

// Scores lists participants in join order with their current score.
func (s *Session) Scores() []ScoreEntry {
	out := make([]ScoreEntry, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, ScoreEntry{ID: p.ID, Nickname: p.Nickname, Score: p.Score})
	}
	return out
}

// Ranking orders participants by descending score. Equal scores keep join
// order.
func (s *Session) Ranking() []RankedParticipant {
	out := make([]RankedParticipant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, RankedParticipant{
			ID:       p.ID,
			Nickname: p.Nickname,
			Score:    p.Score,
			IsHost:   p.IsHost,
			Answers:  append([]Answer(nil), p.Answers...),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// Summaries projects every participant in join order.
func (s *Session) Summaries() []ParticipantSummary {
	out := make([]ParticipantSummary, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p.Summary())
	}
	return out
}
