package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
	"trivia-session-service/internal/infra/memory"
)

type roomEvent struct {
	code   string
	except string
	event  domain.RoomEvent
}

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu         sync.Mutex
	roomEvents []roomEvent
	direct     map[string][]domain.DirectEvent
	subscribed map[string]map[string]bool
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{
		direct:     make(map[string][]domain.DirectEvent),
		subscribed: make(map[string]map[string]bool),
	}
}

func (mb *mockBroadcaster) Subscribe(code, connID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.subscribed[code] == nil {
		mb.subscribed[code] = make(map[string]bool)
	}
	mb.subscribed[code][connID] = true
}

func (mb *mockBroadcaster) Unsubscribe(code, connID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.subscribed[code], connID)
}

func (mb *mockBroadcaster) BroadcastToRoom(code string, event domain.RoomEvent, except string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.roomEvents = append(mb.roomEvents, roomEvent{code: code, except: except, event: event})
}

func (mb *mockBroadcaster) Unicast(connID string, event domain.DirectEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.direct[connID] = append(mb.direct[connID], event)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.roomEvents = nil
	mb.direct = make(map[string][]domain.DirectEvent)
}

func (mb *mockBroadcaster) rooms() []roomEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]roomEvent(nil), mb.roomEvents...)
}

func (mb *mockBroadcaster) lastDirect(connID string) domain.DirectEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events := mb.direct[connID]
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func testQuestions(n int) []domain.Question {
	questions := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		questions = append(questions, domain.Question{
			ID:                 fmt.Sprintf("q%02d", i),
			Text:               fmt.Sprintf("Question %d?", i),
			Options:            []string{"a", "b", "c", "d"},
			CorrectAnswerIndex: i % 4,
			Explanation:        fmt.Sprintf("explanation %d", i),
			IsActive:           true,
		})
	}
	return questions
}

type fixture struct {
	service *app.GameService
	store   *memory.SessionStore
	bank    *memory.QuestionBank
	rooms   *mockBroadcaster
}

func newFixture(t *testing.T, questions int, opts ...app.Option) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	f := &fixture{
		store: memory.NewSessionStore(),
		bank:  memory.NewQuestionBank(testQuestions(questions)),
		rooms: newMockBroadcaster(),
	}
	f.service = app.NewGameService(f.store, f.bank, f.rooms, append([]app.Option{app.WithLogger(logger)}, opts...)...)
	return f
}

// startedGame creates a game with host and one player, both attached, and
// starts it.
func (f *fixture) startedGame(t *testing.T, count int) (code, host, player string) {
	t.Helper()
	ctx := context.Background()
	created, err := f.service.CreateSession(ctx, "Sint", count)
	require.NoError(t, err)
	player, err = f.service.JoinSession(ctx, created.Code, "Piet")
	require.NoError(t, err)
	_, err = f.service.Attach(ctx, created.Code, created.ParticipantID, "conn-host")
	require.NoError(t, err)
	_, err = f.service.Attach(ctx, created.Code, player, "conn-player")
	require.NoError(t, err)
	_, err = f.service.StartSession(ctx, created.Code, created.ParticipantID)
	require.NoError(t, err)
	f.rooms.clear()
	return created.Code, created.ParticipantID, player
}

func (f *fixture) current(t *testing.T, code string) domain.Question {
	t.Helper()
	snap, err := f.service.GetSession(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentQuestion)
	q, err := f.bank.GetByID(context.Background(), snap.CurrentQuestion.ID)
	require.NoError(t, err)
	return q
}

func TestCreateSessionThenStartAloneFails(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "  Sint  ", 10)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{5}$`), created.Code)

	snap, err := f.service.GetSession(ctx, created.Code)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseLobby, snap.Phase)
	require.Equal(t, 10, snap.QuestionCount)
	require.Len(t, snap.Participants, 1)
	require.Equal(t, "Sint", snap.Participants[0].Nickname)
	require.True(t, snap.Participants[0].IsHost)

	_, err = f.service.StartSession(ctx, created.Code, created.ParticipantID)
	require.ErrorIs(t, err, domain.ErrInsufficientPlayers)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, "ab", 10)
	require.ErrorIs(t, err, domain.ErrInvalidNickname)
	_, err = f.service.CreateSession(ctx, "Sint", 9)
	require.ErrorIs(t, err, domain.ErrInvalidQuestionCount)
	_, err = f.service.CreateSession(ctx, "Sint", 21)
	require.ErrorIs(t, err, domain.ErrInvalidQuestionCount)
	_, err = f.service.CreateSession(ctx, "Sint", 15)
	require.ErrorIs(t, err, domain.ErrInsufficientQuestions)
}

func TestCreateSessionRetriesCodeCollision(t *testing.T) {
	codes := []string{"111111", "111111", "222222"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c
	}
	f := newFixture(t, 12, app.WithCodeGenerator(next))
	ctx := context.Background()

	first, err := f.service.CreateSession(ctx, "Sint", 10)
	require.NoError(t, err)
	require.Equal(t, "111111", first.Code)
	second, err := f.service.CreateSession(ctx, "Piet", 10)
	require.NoError(t, err)
	require.Equal(t, "222222", second.Code)
}

func TestCreateSessionGivesUpAfterAttempts(t *testing.T) {
	f := newFixture(t, 12, app.WithCodeGenerator(func() string { return "111111" }), app.WithCodeAttempts(3))
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, "Sint", 10)
	require.NoError(t, err)
	_, err = f.service.CreateSession(ctx, "Piet", 10)
	require.ErrorIs(t, err, app.ErrCodeSpaceExhausted)
	require.Equal(t, domain.ReasonInternal, domain.ReasonOf(err))
}

func TestJoinCaseInsensitiveNickname(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	created, _ := f.service.CreateSession(ctx, "Sint", 10)

	_, err := f.service.JoinSession(ctx, created.Code, "Anna")
	require.NoError(t, err)
	_, err = f.service.JoinSession(ctx, created.Code, "anna")
	require.ErrorIs(t, err, domain.ErrNicknameTaken)

	_, err = f.service.JoinSession(ctx, "000000", "Klaas")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	snap, _ := f.service.GetSession(ctx, created.Code)
	require.Len(t, snap.Participants, 2)
}

func TestSubmitAnswersArePrivate(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, host, player := f.startedGame(t, 12)
	q := f.current(t, code)
	wrong := (q.CorrectAnswerIndex + 1) % 4

	hostOutcome, err := f.service.SubmitAnswer(ctx, code, host, q.ID, q.CorrectAnswerIndex, "conn-host")
	require.NoError(t, err)
	playerOutcome, err := f.service.SubmitAnswer(ctx, code, player, q.ID, wrong, "conn-player")
	require.NoError(t, err)

	require.True(t, hostOutcome.IsCorrect)
	require.Equal(t, 100, hostOutcome.NewScore)
	require.False(t, playerOutcome.IsCorrect)
	require.Equal(t, 0, playerOutcome.NewScore)
	require.Equal(t, q.CorrectAnswerIndex, playerOutcome.CorrectAnswerIndex)

	result, ok := f.rooms.lastDirect("conn-player").(domain.AnswerResult)
	require.True(t, ok, "player should get a private answer-result")
	require.False(t, result.IsCorrect)

	events := f.rooms.rooms()
	require.Len(t, events, 2)
	for _, ev := range events {
		answered, ok := ev.event.(domain.ParticipantAnswered)
		require.True(t, ok, "only participant-answered expected, got %T", ev.event)
		raw, err := json.Marshal(answered)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "isCorrect")
		require.NotContains(t, string(raw), "correctAnswerIndex")
	}
	require.Equal(t, "conn-host", events[0].except)
	require.Equal(t, 2, events[1].event.(domain.ParticipantAnswered).AnsweredCount)
}

func TestSubmitAnswerRejections(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, host, player := f.startedGame(t, 12)
	q := f.current(t, code)

	_, err := f.service.SubmitAnswer(ctx, code, player, q.ID, 9, "")
	require.ErrorIs(t, err, domain.ErrInvalidOption)
	_, err = f.service.SubmitAnswer(ctx, code, "ghost", q.ID, 0, "")
	require.ErrorIs(t, err, domain.ErrUnknownPlayer)
	_, err = f.service.SubmitAnswer(ctx, code, player, "not-current", 0, "")
	require.ErrorIs(t, err, domain.ErrUnknownQuestion)
	_, err = f.service.SubmitAnswer(ctx, "000000", player, q.ID, 0, "")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.service.SubmitAnswer(ctx, code, player, q.ID, q.CorrectAnswerIndex, "")
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, code, player, q.ID, q.CorrectAnswerIndex, "")
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	snap, _ := f.service.GetSession(ctx, code)
	for _, p := range snap.Participants {
		if p.ID == player {
			require.Equal(t, 100, p.Score, "second answer must not change the score")
		}
	}

	_, err = f.service.EndSession(ctx, code, host)
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, code, host, q.ID, 0, "")
	require.ErrorIs(t, err, domain.ErrNotInProgress)
}

func TestAdvanceToLastQuestionEndsGame(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, host, player := f.startedGame(t, 10)

	for i := 1; i < 10; i++ {
		q := f.current(t, code)
		_, err := f.service.SubmitAnswer(ctx, code, player, q.ID, q.CorrectAnswerIndex, "")
		require.NoError(t, err)

		out, err := f.service.AdvanceQuestion(ctx, code, host)
		require.NoError(t, err)
		require.False(t, out.Finished)
		require.Equal(t, i, out.Next.QuestionIndex)
		require.Equal(t, 10, out.Next.TotalQuestions)
	}
	f.rooms.clear()

	out, err := f.service.AdvanceQuestion(ctx, code, host)
	require.NoError(t, err)
	require.True(t, out.Finished)
	require.Nil(t, out.Next)

	events := f.rooms.rooms()
	require.Len(t, events, 1)
	ended, ok := events[0].event.(domain.GameEnded)
	require.True(t, ok)
	require.Len(t, ended.Questions, 10)
	require.False(t, ended.EndedEarly)
	require.Equal(t, player, ended.Participants[0].ID)
	require.Equal(t, 900, ended.Participants[0].Score)
	require.Equal(t, 1, ended.Participants[0].Position)
	for i := 1; i < len(ended.Participants); i++ {
		require.GreaterOrEqual(t, ended.Participants[i-1].Score, ended.Participants[i].Score)
	}
	for _, q := range ended.Questions {
		src, _ := f.bank.GetByID(ctx, q.ID)
		require.Equal(t, src.CorrectAnswerIndex, q.CorrectAnswerIndex)
		require.Equal(t, src.Explanation, q.Explanation)
	}

	snap, _ := f.service.GetSession(ctx, code)
	require.Equal(t, domain.PhaseCompleted, snap.Phase)
	require.Len(t, snap.Questions, 10)
	require.Nil(t, snap.CurrentQuestion)

	_, err = f.service.StartSession(ctx, code, host)
	require.ErrorIs(t, err, domain.ErrAlreadyStarted)
	_, err = f.service.EndSession(ctx, code, host)
	require.ErrorIs(t, err, domain.ErrGameCompleted)
}

func TestNonHostAdvanceChangesNothing(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, _, player := f.startedGame(t, 12)

	before, err := f.store.Load(ctx, code)
	require.NoError(t, err)

	_, err = f.service.AdvanceQuestion(ctx, code, player)
	require.ErrorIs(t, err, domain.ErrNotHost)
	_, err = f.service.EndSession(ctx, code, player)
	require.ErrorIs(t, err, domain.ErrNotHost)
	_, err = f.service.AdvanceQuestion(ctx, code, "ghost")
	require.ErrorIs(t, err, domain.ErrNotHost)

	after, err := f.store.Load(ctx, code)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Empty(t, f.rooms.rooms())
}

func TestEventsNeverRevealKeyBeforeAnswer(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	created, _ := f.service.CreateSession(ctx, "Sint", 10)
	player, _ := f.service.JoinSession(ctx, created.Code, "Piet")
	_, _ = f.service.Attach(ctx, created.Code, player, "conn-player")
	_, err := f.service.StartSession(ctx, created.Code, created.ParticipantID)
	require.NoError(t, err)
	_, err = f.service.AdvanceQuestion(ctx, created.Code, created.ParticipantID)
	require.NoError(t, err)
	_, err = f.service.Attach(ctx, created.Code, player, "conn-player-2")
	require.NoError(t, err)

	for _, ev := range f.rooms.rooms() {
		if _, ended := ev.event.(domain.GameEnded); ended {
			continue
		}
		raw, err := json.Marshal(ev.event)
		require.NoError(t, err)
		require.False(t, strings.Contains(string(raw), "correctAnswerIndex"), "%s leaked the key: %s", ev.event.Type(), raw)
		require.False(t, strings.Contains(string(raw), "explanation"), "%s leaked the explanation: %s", ev.event.Type(), raw)
	}
	state, ok := f.rooms.lastDirect("conn-player-2").(domain.GameState)
	require.True(t, ok)
	raw, _ := json.Marshal(state)
	require.NotContains(t, string(raw), "correctAnswerIndex")
	require.Equal(t, 1, state.Game.CurrentQuestionIndex)
}

func TestAttachDetachAndReconnect(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, _, player := f.startedGame(t, 12)
	q := f.current(t, code)

	_, err := f.service.SubmitAnswer(ctx, code, player, q.ID, q.CorrectAnswerIndex, "conn-player")
	require.NoError(t, err)

	require.NoError(t, f.service.Detach(ctx, code, player, "conn-player"))
	left := f.rooms.rooms()
	require.IsType(t, domain.ParticipantLeft{}, left[len(left)-1].event)

	snap, _ := f.service.GetSession(ctx, code)
	require.False(t, snap.Participants[1].Connected)
	require.Equal(t, 100, snap.Participants[1].Score)

	state, err := f.service.Attach(ctx, code, player, "conn-player-2")
	require.NoError(t, err)
	require.Equal(t, player, state.ParticipantID)
	require.Equal(t, 100, state.Game.Participants[1].Score)
	require.True(t, state.Game.Participants[1].Connected)

	// a stale disconnect from the old connection must not unbind the new one
	require.NoError(t, f.service.Detach(ctx, code, player, "conn-player"))
	stored, _ := f.store.Load(ctx, code)
	p, _ := stored.Participant(player)
	require.Equal(t, "conn-player-2", p.ConnectionID)

	_, err = f.service.Attach(ctx, code, "ghost", "conn-x")
	require.ErrorIs(t, err, domain.ErrUnknownPlayer)

	// the player can still answer the same question only once after reconnecting
	_, err = f.service.SubmitAnswer(ctx, code, player, q.ID, 0, "conn-player-2")
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)
}

func TestConcurrentSubmitsLoseNoUpdate(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	created, err := f.service.CreateSession(ctx, "Sint", 10)
	require.NoError(t, err)

	const players = 19
	ids := make([]string, players)
	for i := range ids {
		ids[i], err = f.service.JoinSession(ctx, created.Code, fmt.Sprintf("player-%02d", i))
		require.NoError(t, err)
	}
	_, err = f.service.StartSession(ctx, created.Code, created.ParticipantID)
	require.NoError(t, err)
	q := f.current(t, created.Code)

	var wg sync.WaitGroup
	errs := make(chan error, players*2)
	for _, id := range ids {
		for attempt := 0; attempt < 2; attempt++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := f.service.SubmitAnswer(ctx, created.Code, id, q.ID, q.CorrectAnswerIndex, "")
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	accepted, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrAlreadyAnswered):
			rejected++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, players, accepted)
	require.Equal(t, players, rejected)

	stored, _ := f.store.Load(ctx, created.Code)
	for _, id := range ids {
		p, ok := stored.Participant(id)
		require.True(t, ok)
		require.Len(t, p.Answers, 1)
		require.Equal(t, 100, p.Score)
	}
}

// failingStore fails Save while fail is set.
type failingStore struct {
	*memory.SessionStore
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) Save(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.SessionStore.Save(ctx, session)
}

func TestInfrastructureFailureLeavesSessionUntouched(t *testing.T) {
	store := &failingStore{SessionStore: memory.NewSessionStore()}
	rooms := newMockBroadcaster()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	service := app.NewGameService(store, memory.NewQuestionBank(testQuestions(12)), rooms, app.WithLogger(logger))
	ctx := context.Background()

	created, err := service.CreateSession(ctx, "Sint", 10)
	require.NoError(t, err)
	_, err = service.JoinSession(ctx, created.Code, "Piet")
	require.NoError(t, err)

	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	_, err = service.StartSession(ctx, created.Code, created.ParticipantID)
	require.Error(t, err)
	require.Equal(t, domain.ReasonInternal, domain.ReasonOf(err))
	require.Equal(t, "request failed, please retry", domain.ErrorEventFrom(err).Message)
	require.Empty(t, rooms.rooms(), "no event may be published for a failed save")

	snap, err := service.GetSession(ctx, created.Code)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseLobby, snap.Phase)
}

func TestQuestionAt(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()
	code, host, _ := f.startedGame(t, 10)

	view, err := f.service.QuestionAt(ctx, code, 0)
	require.NoError(t, err)
	require.Equal(t, domain.QuestionTypeMultipleChoice, view.QuestionType)

	_, err = f.service.QuestionAt(ctx, code, 1)
	require.ErrorIs(t, err, domain.ErrInvalidIndex)
	_, err = f.service.QuestionAt(ctx, code, -1)
	require.ErrorIs(t, err, domain.ErrInvalidIndex)

	_, err = f.service.EndSession(ctx, code, host)
	require.NoError(t, err)
	_, err = f.service.QuestionAt(ctx, code, 0)
	require.ErrorIs(t, err, domain.ErrNotInProgress)
}

func TestPurgeCompleted(t *testing.T) {
	now := time.Date(2024, 12, 5, 19, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, 12, app.WithClock(clock))
	ctx := context.Background()

	done, _ := f.service.CreateSession(ctx, "Sint", 10)
	_, err := f.service.EndSession(ctx, done.Code, done.ParticipantID)
	require.NoError(t, err)
	open, _ := f.service.CreateSession(ctx, "Piet", 10)

	now = now.Add(2 * time.Hour)
	n, err := f.service.PurgeCompleted(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.service.GetSession(ctx, done.Code)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.service.GetSession(ctx, open.Code)
	require.NoError(t, err)
}
