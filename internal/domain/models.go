package domain

import "time"

// Phase is the coarse stage of a session. Phases only move forward.
type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseInProgress Phase = "in-progress"
	PhaseCompleted  Phase = "completed"
)

const (
	// PointsPerCorrectAnswer is the fixed award for a correct answer.
	PointsPerCorrectAnswer = 100

	MinQuestionCount     = 10
	MaxQuestionCount     = 20
	DefaultQuestionCount = 15

	MinNicknameLength = 3
	MaxNicknameLength = 20

	// MinParticipantsToStart counts the host.
	MinParticipantsToStart = 2
)

// Answer is recorded once per participant and question and never changes.
type Answer struct {
	QuestionID    string `json:"questionId"`
	SelectedIndex int    `json:"selectedIndex"`
	SubmittedAtMs int64  `json:"timestamp"`
	IsCorrect     bool   `json:"isCorrect"`
}

// Participant is a joined player, including the host.
type Participant struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	Score    int       `json:"score"`
	Answers  []Answer  `json:"answers"`
	IsHost   bool      `json:"isHost"`
	JoinedAt time.Time `json:"joinedAt"`
	// ConnectionID points at the live transport connection, if any.
	// Game rules never look at it.
	ConnectionID string `json:"connectionId,omitempty"`
}

// HasAnswered reports whether an answer for questionID was already recorded.
func (p *Participant) HasAnswered(questionID string) bool {
	for _, a := range p.Answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

// Connected reports whether a transport connection is attached.
func (p *Participant) Connected() bool {
	return p.ConnectionID != ""
}

// Session is the authoritative record of one game.
type Session struct {
	Code                 string        `json:"code"`
	HostID               string        `json:"hostId"`
	Participants         []Participant `json:"players"`
	QuestionIDs          []string      `json:"questionIds"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	Phase                Phase         `json:"state"`
	EndedEarly           bool          `json:"endedEarly,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
	// Version is bumped by the store on every successful save.
	Version int64 `json:"version"`
}

// QuestionCount is N, the length of the fixed question sequence.
func (s *Session) QuestionCount() int {
	return len(s.QuestionIDs)
}

// CurrentQuestionID returns the id at the current index while in progress.
func (s *Session) CurrentQuestionID() (string, bool) {
	if s.Phase != PhaseInProgress || s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionIDs) {
		return "", false
	}
	return s.QuestionIDs[s.CurrentQuestionIndex], true
}

// Participant returns a pointer into Participants for id.
func (s *Session) Participant(id string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// ParticipantByConnection finds the participant holding connID.
func (s *Session) ParticipantByConnection(connID string) (*Participant, bool) {
	if connID == "" {
		return nil, false
	}
	for i := range s.Participants {
		if s.Participants[i].ConnectionID == connID {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can mutate freely.
func (s Session) Clone() Session {
	out := s
	out.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		p.Answers = append([]Answer(nil), p.Answers...)
		out.Participants[i] = p
	}
	return out
}

// Question is collaborator content including its answer key.
type Question struct {
	ID                 string   `json:"id" yaml:"id"`
	Text               string   `json:"text" yaml:"text"`
	Options            []string `json:"options" yaml:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex" yaml:"correctAnswerIndex"`
	Explanation        string   `json:"explanation" yaml:"explanation"`
	QuestionType       string   `json:"questionType" yaml:"questionType"`
	ImageURL           string   `json:"imageUrl,omitempty" yaml:"imageUrl"`
	IsActive           bool     `json:"isActive" yaml:"isActive"`
	IsDeleted          bool     `json:"isDeleted" yaml:"isDeleted"`
}

// QuestionTypeMultipleChoice is the only supported question type.
const QuestionTypeMultipleChoice = "multiple-choice"

// QuestionView is what participants see before answering. It has no
// answer key fields at all.
type QuestionView struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	QuestionType string   `json:"questionType"`
	ImageURL     string   `json:"imageUrl,omitempty"`
}

// RevealedQuestion carries the answer key for review after answering or
// once the game is over.
type RevealedQuestion struct {
	QuestionView
	CorrectAnswerIndex int    `json:"correctAnswerIndex"`
	Explanation        string `json:"explanation"`
}

// View strips the answer key.
func (q Question) View() QuestionView {
	qt := q.QuestionType
	if qt == "" {
		qt = QuestionTypeMultipleChoice
	}
	return QuestionView{
		ID:           q.ID,
		Text:         q.Text,
		Options:      append([]string(nil), q.Options...),
		QuestionType: qt,
		ImageURL:     q.ImageURL,
	}
}

// Reveal keeps the answer key.
func (q Question) Reveal() RevealedQuestion {
	return RevealedQuestion{
		QuestionView:       q.View(),
		CorrectAnswerIndex: q.CorrectAnswerIndex,
		Explanation:        q.Explanation,
	}
}

// Playable reports whether the question may be sampled into a new session.
func (q Question) Playable() bool {
	return q.IsActive && !q.IsDeleted
}

// ParticipantSummary is the public, answer-free view of a participant.
type ParticipantSummary struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

// Summary projects a participant for room-wide payloads.
func (p Participant) Summary() ParticipantSummary {
	return ParticipantSummary{
		ID:        p.ID,
		Nickname:  p.Nickname,
		Score:     p.Score,
		IsHost:    p.IsHost,
		Connected: p.Connected(),
	}
}

// ScoreEntry is one line of the running scoreboard.
type ScoreEntry struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

// RankedParticipant is one line of the final ranking.
type RankedParticipant struct {
	Position int      `json:"position"`
	ID       string   `json:"id"`
	Nickname string   `json:"nickname"`
	Score    int      `json:"score"`
	IsHost   bool     `json:"isHost"`
	Answers  []Answer `json:"answers"`
}

// FinalResults is the payload produced when a session completes.
type FinalResults struct {
	Participants []RankedParticipant `json:"players"`
	Questions    []RevealedQuestion  `json:"questions"`
	EndedEarly   bool                `json:"endedEarly"`
}

// SessionSnapshot is the read projection of a session used for resync and
// GET requests. The answer key is only present once the game is completed.
type SessionSnapshot struct {
	Code                 string               `json:"code"`
	Phase                Phase                `json:"state"`
	HostID               string               `json:"hostId"`
	Participants         []ParticipantSummary `json:"players"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	QuestionCount        int                  `json:"questionCount"`
	CurrentQuestion      *QuestionView        `json:"currentQuestion,omitempty"`
	Questions            []RevealedQuestion   `json:"questions,omitempty"`
	Ranking              []RankedParticipant  `json:"ranking,omitempty"`
	EndedEarly           bool                 `json:"endedEarly,omitempty"`
}

// CreatedSession is returned to the host after creating a game.
type CreatedSession struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
}

// AnswerOutcome is the private result of a submission.
type AnswerOutcome struct {
	QuestionID         string `json:"questionId"`
	IsCorrect          bool   `json:"isCorrect"`
	CorrectAnswerIndex int    `json:"correctAnswerIndex"`
	Explanation        string `json:"explanation"`
	NewScore           int    `json:"newScore"`
}

// QuestionPrompt is a question as shown during play.
type QuestionPrompt struct {
	Question       QuestionView `json:"question"`
	QuestionIndex  int          `json:"questionIndex"`
	TotalQuestions int          `json:"totalQuestions"`
}

// AdvanceOutcome holds either the next prompt or the final results.
type AdvanceOutcome struct {
	Next     *QuestionPrompt `json:"next,omitempty"`
	Final    *FinalResults   `json:"final,omitempty"`
	Finished bool            `json:"finished"`
}
