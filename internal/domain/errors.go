package domain

import "errors"

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonInvalidNickname       Reason = "INVALID_NICKNAME"
	ReasonInvalidQuestionCount  Reason = "INVALID_QUESTION_COUNT"
	ReasonInsufficientQuestions Reason = "INSUFFICIENT_QUESTIONS"
	ReasonNotFound              Reason = "NOT_FOUND"
	ReasonAlreadyStarted        Reason = "ALREADY_STARTED"
	ReasonNicknameTaken         Reason = "NICKNAME_TAKEN"
	ReasonNotHost               Reason = "NOT_HOST"
	ReasonInsufficientPlayers   Reason = "INSUFFICIENT_PLAYERS"
	ReasonNotInProgress         Reason = "NOT_IN_PROGRESS"
	ReasonUnknownPlayer         Reason = "UNKNOWN_PLAYER"
	ReasonAlreadyAnswered       Reason = "ALREADY_ANSWERED"
	ReasonUnknownQuestion       Reason = "UNKNOWN_QUESTION"
	ReasonInvalidOption         Reason = "INVALID_OPTION"
	ReasonGameCompleted         Reason = "GAME_COMPLETED"
	ReasonInvalidIndex          Reason = "INVALID_INDEX"
	ReasonBadRequest            Reason = "BAD_REQUEST"
	ReasonInternal              Reason = "INTERNAL"
)

// Rejection is an expected, caller-recoverable refusal of a request. It is
// never a sign of a broken session.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Is matches any rejection with the same reason.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

// Reject builds a rejection with a custom message.
func Reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// ReasonOf extracts the rejection reason from err, or ReasonInternal when err
// is not a rejection.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ReasonInternal
}

var (
	// ErrSessionNotFound is returned when no session exists for a code.
	ErrSessionNotFound = Reject(ReasonNotFound, "game not found")
	// ErrInvalidNickname is returned for nicknames outside 3..20 characters.
	ErrInvalidNickname = Reject(ReasonInvalidNickname, "nickname must be between 3 and 20 characters")
	// ErrInvalidQuestionCount is returned for counts outside 10..20.
	ErrInvalidQuestionCount = Reject(ReasonInvalidQuestionCount, "question count must be between 10 and 20")
	// ErrInsufficientQuestions means the bank cannot fill the requested count.
	ErrInsufficientQuestions = Reject(ReasonInsufficientQuestions, "not enough questions available")
	// ErrAlreadyStarted is returned when a lobby-only action meets a started game.
	ErrAlreadyStarted = Reject(ReasonAlreadyStarted, "game has already started")
	// ErrNicknameTaken is a case-insensitive nickname collision.
	ErrNicknameTaken = Reject(ReasonNicknameTaken, "nickname is already taken")
	// ErrNotHost is returned when a non-host attempts a host action.
	ErrNotHost = Reject(ReasonNotHost, "only the host can do that")
	// ErrInsufficientPlayers blocks starting with fewer than two participants.
	ErrInsufficientPlayers = Reject(ReasonInsufficientPlayers, "need at least 2 players to start")
	// ErrNotInProgress is returned for in-game actions outside in-progress.
	ErrNotInProgress = Reject(ReasonNotInProgress, "game not in progress")
	// ErrUnknownPlayer is returned when the participant id is not in the session.
	ErrUnknownPlayer = Reject(ReasonUnknownPlayer, "player not found in game")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = Reject(ReasonAlreadyAnswered, "already answered this question")
	// ErrUnknownQuestion is returned when the question is not the current one or does not exist.
	ErrUnknownQuestion = Reject(ReasonUnknownQuestion, "question not found")
	// ErrInvalidOption is returned when the selected index is out of range.
	ErrInvalidOption = Reject(ReasonInvalidOption, "selected option is out of range")
	// ErrGameCompleted is returned for any mutation after completion.
	ErrGameCompleted = Reject(ReasonGameCompleted, "game has already ended")
	// ErrInvalidIndex is returned for question lookups outside the sequence.
	ErrInvalidIndex = Reject(ReasonInvalidIndex, "invalid question index")
	// ErrDuplicateParticipant guards against participant id reuse.
	ErrDuplicateParticipant = Reject(ReasonBadRequest, "participant id already in use")
)

var (
	// ErrQuestionNotFound is returned by question providers for unknown ids.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrConflict is returned by session stores when the saved version is stale.
	ErrConflict = errors.New("session was modified concurrently")
	// ErrDuplicateCode is returned by session stores when a code is already in use.
	ErrDuplicateCode = errors.New("session code already in use")
)
