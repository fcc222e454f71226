package domain

// EventType is the wire name of an outbound event.
type EventType string

const (
	EventParticipantJoined   EventType = "participant-joined"
	EventParticipantLeft     EventType = "participant-left"
	EventParticipantAnswered EventType = "participant-answered"
	EventGameStarted         EventType = "game-started"
	EventQuestionChanged     EventType = "question-changed"
	EventGameEnded           EventType = "game-ended"
	EventGameState           EventType = "game-state"
	EventAnswerResult        EventType = "answer-result"
	EventError               EventType = "error"
)

// RoomEvent is delivered to every connection subscribed to a session code.
// Only the types in this file implement it.
type RoomEvent interface {
	Type() EventType
	roomEvent()
}

// DirectEvent is delivered to exactly one connection.
type DirectEvent interface {
	Type() EventType
	directEvent()
}

// ParticipantJoined announces a participant attaching to the room.
type ParticipantJoined struct {
	Participant      ParticipantSummary `json:"player"`
	ParticipantCount int                `json:"playerCount"`
}

// ParticipantLeft announces a dropped connection. The participant stays in
// the game.
type ParticipantLeft struct {
	ParticipantID string `json:"playerId"`
	Nickname      string `json:"nickname"`
}

// ParticipantAnswered tells the room someone answered, without saying
// whether they were right.
type ParticipantAnswered struct {
	ParticipantID string `json:"playerId"`
	Nickname      string `json:"nickname"`
	AnsweredCount int    `json:"answeredCount"`
}

// GameStarted carries the first question.
type GameStarted struct {
	QuestionPrompt
}

// QuestionChanged carries the next question and the running scores.
type QuestionChanged struct {
	QuestionPrompt
	Scores []ScoreEntry `json:"scores"`
}

// GameEnded carries the final ranking and every question with its key.
type GameEnded struct {
	FinalResults
}

// GameState is a full resync snapshot for one connection.
type GameState struct {
	Game          SessionSnapshot `json:"game"`
	ParticipantID string          `json:"playerId"`
}

// AnswerResult is the private outcome of a submission.
type AnswerResult struct {
	AnswerOutcome
}

// ErrorEvent reports a rejected request to its originator.
type ErrorEvent struct {
	Code    Reason `json:"code"`
	Message string `json:"message"`
}

func (ParticipantJoined) Type() EventType   { return EventParticipantJoined }
func (ParticipantLeft) Type() EventType     { return EventParticipantLeft }
func (ParticipantAnswered) Type() EventType { return EventParticipantAnswered }
func (GameStarted) Type() EventType         { return EventGameStarted }
func (QuestionChanged) Type() EventType     { return EventQuestionChanged }
func (GameEnded) Type() EventType           { return EventGameEnded }
func (GameState) Type() EventType           { return EventGameState }
func (AnswerResult) Type() EventType        { return EventAnswerResult }
func (ErrorEvent) Type() EventType          { return EventError }

func (ParticipantJoined) roomEvent()   {}
func (ParticipantLeft) roomEvent()     {}
func (ParticipantAnswered) roomEvent() {}
func (GameStarted) roomEvent()         {}
func (QuestionChanged) roomEvent()     {}
func (GameEnded) roomEvent()           {}

func (GameState) directEvent()    {}
func (AnswerResult) directEvent() {}
func (ErrorEvent) directEvent()   {}

// ErrorEventFrom converts an engine error into the event sent back to the
// caller. Infrastructure failures get a generic message.
func ErrorEventFrom(err error) ErrorEvent {
	reason := ReasonOf(err)
	if reason == ReasonInternal {
		return ErrorEvent{Code: reason, Message: "request failed, please retry"}
	}
	return ErrorEvent{Code: reason, Message: err.Error()}
}
