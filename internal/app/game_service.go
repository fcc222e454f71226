package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trivia-session-service/internal/domain"
)

// DefaultCodeAttempts caps game code generation retries on collision.
const DefaultCodeAttempts = 20

// ErrCodeSpaceExhausted is returned when no free game code was found.
var ErrCodeSpaceExhausted = errors.New("could not allocate a free game code")

var tracer = otel.Tracer("trivia-session-service/internal/app")

// GameService is the authoritative session engine. Every mutating call runs
// load, validate, mutate, save and publish under a per-code lock, so room
// events reach subscribers in the order the requests were serialized.
type GameService struct {
	sessions  SessionStore
	questions QuestionProvider
	rooms     Broadcaster
	locks     *keyedMutex
	logger    logrus.FieldLogger

	now          func() time.Time
	newID        func() string
	newCode      func() string
	codeAttempts int
}

// Option configures a GameService.
type Option func(*GameService)

// WithClock is mostly for tests that need deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *GameService) { g.now = now }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(g *GameService) { g.logger = logger }
}

// WithCodeGenerator replaces the random 6-digit code source.
func WithCodeGenerator(gen func() string) Option {
	return func(g *GameService) { g.newCode = gen }
}

func WithIDGenerator(gen func() string) Option {
	return func(g *GameService) { g.newID = gen }
}

func WithCodeAttempts(n int) Option {
	return func(g *GameService) {
		if n > 0 {
			g.codeAttempts = n
		}
	}
}

func NewGameService(store SessionStore, questions QuestionProvider, rooms Broadcaster, opts ...Option) *GameService {
	if rooms == nil {
		rooms = noopBroadcaster{}
	}
	g := &GameService{
		sessions:     store,
		questions:    questions,
		rooms:        rooms,
		locks:        newKeyedMutex(),
		logger:       logrus.StandardLogger(),
		now:          time.Now,
		newID:        uuid.NewString,
		newCode:      randomCode,
		codeAttempts: DefaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomCode() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// change is what a mutation hands back to update.
type change struct {
	// publish runs after a successful save, still under the code lock.
	publish func()
	// readOnly skips the save.
	readOnly bool
}

// update runs fn against a private copy of the session and persists it only
// when fn returns without error. Nothing fn wrote is visible on failure.
func (g *GameService) update(ctx context.Context, code string, fn func(s *domain.Session) (change, error)) error {
	unlock := g.locks.Lock(code)
	defer unlock()

	session, err := g.load(ctx, code)
	if err != nil {
		return err
	}
	c, err := fn(&session)
	if err != nil {
		return err
	}
	if !c.readOnly {
		if err := g.sessions.Save(ctx, &session); err != nil {
			return fmt.Errorf("save session %s: %w", code, err)
		}
	}
	if c.publish != nil {
		c.publish()
	}
	return nil
}

func (g *GameService) load(ctx context.Context, code string) (domain.Session, error) {
	session, err := g.sessions.Load(ctx, code)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session %s: %w", code, err)
	}
	return session, nil
}

// CreateSession samples the question sequence and stores a new lobby with the
// host as its only participant.
func (g *GameService) CreateSession(ctx context.Context, hostNickname string, questionCount int) (created domain.CreatedSession, err error) {
	ctx, span := tracer.Start(ctx, "GameService.CreateSession", trace.WithAttributes(
		attribute.Int("game.question_count", questionCount),
	))
	defer func() { endSpan(span, err) }()

	nickname, err := domain.NormalizeNickname(hostNickname)
	if err != nil {
		return domain.CreatedSession{}, err
	}
	if err := domain.ValidateQuestionCount(questionCount); err != nil {
		return domain.CreatedSession{}, err
	}

	questions, err := g.questions.Sample(ctx, questionCount)
	if err != nil {
		return domain.CreatedSession{}, fmt.Errorf("sample questions: %w", err)
	}
	if len(questions) < questionCount {
		return domain.CreatedSession{}, domain.Reject(domain.ReasonInsufficientQuestions,
			fmt.Sprintf("not enough questions available: found %d, need %d", len(questions), questionCount))
	}
	ids := make([]string, 0, questionCount)
	for _, q := range questions[:questionCount] {
		ids = append(ids, q.ID)
	}

	host := domain.Participant{ID: g.newID(), Nickname: nickname}
	for attempt := 0; attempt < g.codeAttempts; attempt++ {
		code := g.newCode()
		session := domain.NewSession(code, host, ids, g.now())
		err := g.sessions.Create(ctx, session)
		if errors.Is(err, domain.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return domain.CreatedSession{}, fmt.Errorf("create session: %w", err)
		}

		span.SetAttributes(attribute.String("game.code", code))
		g.logger.WithFields(logrus.Fields{
			"code":      code,
			"host":      host.ID,
			"questions": questionCount,
		}).Info("game created")
		return domain.CreatedSession{Code: code, ParticipantID: host.ID}, nil
	}
	return domain.CreatedSession{}, ErrCodeSpaceExhausted
}

// JoinSession adds a participant to a lobby and returns their new id.
func (g *GameService) JoinSession(ctx context.Context, code, nickname string) (participantID string, err error) {
	ctx, span := startSpan(ctx, "GameService.JoinSession", code)
	defer func() { endSpan(span, err) }()

	if _, err := domain.NormalizeNickname(nickname); err != nil {
		return "", err
	}

	id := g.newID()
	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		p, err := s.AddParticipant(id, nickname, g.now())
		if err != nil {
			return change{}, err
		}
		return change{publish: func() {
			g.logger.WithFields(logrus.Fields{"code": code, "participant": p.ID, "nickname": p.Nickname}).
				Info("participant joined")
		}}, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Attach binds a live connection to a participant. It is both the first
// handshake and the reconnect path: score and answers are untouched. The
// connection receives a game-state snapshot and the rest of the room a
// participant-joined notice.
func (g *GameService) Attach(ctx context.Context, code, participantID, connID string) (state domain.GameState, err error) {
	ctx, span := startSpan(ctx, "GameService.Attach", code)
	defer func() { endSpan(span, err) }()

	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		p, ok := s.Participant(participantID)
		if !ok {
			return change{}, domain.ErrUnknownPlayer
		}
		// Completed sessions are read-only; the connection still subscribes
		// so it can review the results.
		readOnly := s.Phase == domain.PhaseCompleted
		if !readOnly {
			p.ConnectionID = connID
		}

		snapshot, err := g.snapshot(ctx, s)
		if err != nil {
			return change{}, err
		}
		state = domain.GameState{Game: snapshot, ParticipantID: participantID}
		summary := p.Summary()
		summary.Connected = true
		joined := domain.ParticipantJoined{Participant: summary, ParticipantCount: len(s.Participants)}

		return change{readOnly: readOnly, publish: func() {
			g.rooms.Subscribe(code, connID)
			g.rooms.Unicast(connID, state)
			g.rooms.BroadcastToRoom(code, joined, connID)
			g.logger.WithFields(logrus.Fields{"code": code, "participant": participantID, "conn": connID}).
				Info("participant attached")
		}}, nil
	})
	return state, err
}

// Detach clears the participant's connection reference when it still points
// at connID. The participant keeps their score, answers and place in the game.
func (g *GameService) Detach(ctx context.Context, code, participantID, connID string) (err error) {
	ctx, span := startSpan(ctx, "GameService.Detach", code)
	defer func() { endSpan(span, err) }()

	return g.update(ctx, code, func(s *domain.Session) (change, error) {
		p, ok := s.Participant(participantID)
		if !ok {
			return change{}, domain.ErrUnknownPlayer
		}
		live := p.ConnectionID == connID
		if live {
			p.ConnectionID = ""
		}
		left := domain.ParticipantLeft{ParticipantID: p.ID, Nickname: p.Nickname}

		return change{readOnly: !live || s.Phase == domain.PhaseCompleted, publish: func() {
			g.rooms.Unsubscribe(code, connID)
			if live {
				g.rooms.BroadcastToRoom(code, left, connID)
			}
			g.logger.WithFields(logrus.Fields{"code": code, "participant": participantID, "conn": connID}).
				Info("participant detached")
		}}, nil
	})
}

// StartSession moves the lobby into play and broadcasts the first question.
func (g *GameService) StartSession(ctx context.Context, code, participantID string) (prompt domain.QuestionPrompt, err error) {
	ctx, span := startSpan(ctx, "GameService.StartSession", code)
	defer func() { endSpan(span, err) }()

	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		if err := s.Start(participantID, g.now()); err != nil {
			return change{}, err
		}
		q, err := g.question(ctx, s.QuestionIDs[0])
		if err != nil {
			return change{}, err
		}
		prompt = domain.QuestionPrompt{
			Question:       q.View(),
			QuestionIndex:  0,
			TotalQuestions: s.QuestionCount(),
		}
		players := len(s.Participants)
		return change{publish: func() {
			g.rooms.BroadcastToRoom(code, domain.GameStarted{QuestionPrompt: prompt}, "")
			g.logger.WithFields(logrus.Fields{"code": code, "players": players}).Info("game started")
		}}, nil
	})
	return prompt, err
}

// SubmitAnswer grades one answer for the current question. The result goes
// only to connID; the room learns that an answer arrived, not whether it was
// right.
func (g *GameService) SubmitAnswer(ctx context.Context, code, participantID, questionID string, selectedIndex int, connID string) (outcome domain.AnswerOutcome, err error) {
	ctx, span := startSpan(ctx, "GameService.SubmitAnswer", code)
	defer func() { endSpan(span, err) }()

	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		if err := s.CheckAnswer(participantID, questionID); err != nil {
			return change{}, err
		}
		q, err := g.question(ctx, questionID)
		if err != nil {
			return change{}, err
		}
		answer, score, err := s.RecordAnswer(participantID, q, selectedIndex, g.now())
		if err != nil {
			return change{}, err
		}

		outcome = domain.AnswerOutcome{
			QuestionID:         q.ID,
			IsCorrect:          answer.IsCorrect,
			CorrectAnswerIndex: q.CorrectAnswerIndex,
			Explanation:        q.Explanation,
			NewScore:           score,
		}
		p, _ := s.Participant(participantID)
		answered := domain.ParticipantAnswered{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			AnsweredCount: s.AnsweredCount(questionID),
		}
		return change{publish: func() {
			if connID != "" {
				g.rooms.Unicast(connID, domain.AnswerResult{AnswerOutcome: outcome})
			}
			g.rooms.BroadcastToRoom(code, answered, connID)
		}}, nil
	})
	return outcome, err
}

// AdvanceQuestion shows the next question, or ends the game after the last.
func (g *GameService) AdvanceQuestion(ctx context.Context, code, participantID string) (outcome domain.AdvanceOutcome, err error) {
	ctx, span := startSpan(ctx, "GameService.AdvanceQuestion", code)
	defer func() { endSpan(span, err) }()

	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		finished, err := s.Advance(participantID, g.now())
		if err != nil {
			return change{}, err
		}

		if finished {
			final, err := g.finalResults(ctx, s)
			if err != nil {
				return change{}, err
			}
			outcome = domain.AdvanceOutcome{Final: &final, Finished: true}
			return change{publish: func() {
				g.rooms.BroadcastToRoom(code, domain.GameEnded{FinalResults: final}, "")
				g.logger.WithField("code", code).Info("game ended")
			}}, nil
		}

		q, err := g.question(ctx, s.QuestionIDs[s.CurrentQuestionIndex])
		if err != nil {
			return change{}, err
		}
		prompt := domain.QuestionPrompt{
			Question:       q.View(),
			QuestionIndex:  s.CurrentQuestionIndex,
			TotalQuestions: s.QuestionCount(),
		}
		outcome = domain.AdvanceOutcome{Next: &prompt}
		changed := domain.QuestionChanged{QuestionPrompt: prompt, Scores: s.Scores()}
		return change{publish: func() {
			g.rooms.BroadcastToRoom(code, changed, "")
			g.logger.WithFields(logrus.Fields{"code": code, "index": prompt.QuestionIndex}).Debug("question advanced")
		}}, nil
	})
	return outcome, err
}

// EndSession completes the game immediately, whatever question it is on.
func (g *GameService) EndSession(ctx context.Context, code, participantID string) (final domain.FinalResults, err error) {
	ctx, span := startSpan(ctx, "GameService.EndSession", code)
	defer func() { endSpan(span, err) }()

	err = g.update(ctx, code, func(s *domain.Session) (change, error) {
		if err := s.End(participantID, g.now()); err != nil {
			return change{}, err
		}
		results, err := g.finalResults(ctx, s)
		if err != nil {
			return change{}, err
		}
		final = results
		return change{publish: func() {
			g.rooms.BroadcastToRoom(code, domain.GameEnded{FinalResults: results}, "")
			g.logger.WithField("code", code).Info("game ended early by host")
		}}, nil
	})
	return final, err
}

// GetSession returns the current projection without taking the code lock.
func (g *GameService) GetSession(ctx context.Context, code string) (snapshot domain.SessionSnapshot, err error) {
	ctx, span := startSpan(ctx, "GameService.GetSession", code)
	defer func() { endSpan(span, err) }()

	session, err := g.load(ctx, code)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return g.snapshot(ctx, &session)
}

// QuestionAt returns a question of the running game without its answer key.
// Questions past the current one stay hidden.
func (g *GameService) QuestionAt(ctx context.Context, code string, index int) (view domain.QuestionView, err error) {
	ctx, span := startSpan(ctx, "GameService.QuestionAt", code)
	defer func() { endSpan(span, err) }()

	session, err := g.load(ctx, code)
	if err != nil {
		return domain.QuestionView{}, err
	}
	if session.Phase != domain.PhaseInProgress {
		return domain.QuestionView{}, domain.ErrNotInProgress
	}
	if index < 0 || index > session.CurrentQuestionIndex {
		return domain.QuestionView{}, domain.ErrInvalidIndex
	}
	q, err := g.question(ctx, session.QuestionIDs[index])
	if err != nil {
		return domain.QuestionView{}, err
	}
	return q.View(), nil
}

// PurgeCompleted drops completed sessions idle for longer than retention.
func (g *GameService) PurgeCompleted(ctx context.Context, retention time.Duration) (int, error) {
	n, err := g.sessions.PurgeCompleted(ctx, g.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge completed sessions: %w", err)
	}
	if n > 0 {
		g.logger.WithField("purged", n).Info("completed games purged")
	}
	return n, nil
}

func (g *GameService) question(ctx context.Context, id string) (domain.Question, error) {
	q, err := g.questions.GetByID(ctx, id)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question %s: %w", id, err)
	}
	return q, nil
}

func (g *GameService) revealAll(ctx context.Context, s *domain.Session) ([]domain.RevealedQuestion, error) {
	out := make([]domain.RevealedQuestion, 0, len(s.QuestionIDs))
	for _, id := range s.QuestionIDs {
		q, err := g.question(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, q.Reveal())
	}
	return out, nil
}

func (g *GameService) finalResults(ctx context.Context, s *domain.Session) (domain.FinalResults, error) {
	questions, err := g.revealAll(ctx, s)
	if err != nil {
		return domain.FinalResults{}, err
	}
	return domain.FinalResults{
		Participants: s.Ranking(),
		Questions:    questions,
		EndedEarly:   s.EndedEarly,
	}, nil
}

// snapshot projects a session. The current question is stripped; the full
// keyed question set only appears once the game is completed.
func (g *GameService) snapshot(ctx context.Context, s *domain.Session) (domain.SessionSnapshot, error) {
	snap := domain.SessionSnapshot{
		Code:                 s.Code,
		Phase:                s.Phase,
		HostID:               s.HostID,
		Participants:         s.Summaries(),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionCount:        s.QuestionCount(),
		EndedEarly:           s.EndedEarly,
	}
	switch s.Phase {
	case domain.PhaseInProgress:
		id, _ := s.CurrentQuestionID()
		q, err := g.question(ctx, id)
		if err != nil {
			return domain.SessionSnapshot{}, err
		}
		view := q.View()
		snap.CurrentQuestion = &view
	case domain.PhaseCompleted:
		questions, err := g.revealAll(ctx, s)
		if err != nil {
			return domain.SessionSnapshot{}, err
		}
		snap.Questions = questions
		snap.Ranking = s.Ranking()
	}
	return snap, nil
}

func startSpan(ctx context.Context, name, code string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("game.code", code)))
}

// endSpan marks infrastructure failures as span errors. Rejections are
// ordinary outcomes and only get tagged with their reason.
func endSpan(span trace.Span, err error) {
	if err != nil {
		reason := domain.ReasonOf(err)
		span.SetAttributes(attribute.String("game.reject_reason", string(reason)))
		if reason == domain.ReasonInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
