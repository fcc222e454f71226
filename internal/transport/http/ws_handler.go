package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Inbound message types.
const (
	msgJoinGame     = "join-game"
	msgJoin         = "join"
	msgStartGame    = "start-game"
	msgSubmitAnswer = "submit-answer"
	msgNextQuestion = "next-question"
	msgEndGame      = "end-game"
	msgGetState     = "get-state"
)

var (
	errNotJoined      = domain.Reject(domain.ReasonBadRequest, "join a game first")
	errInvalidPayload = domain.Reject(domain.ReasonBadRequest, "invalid payload")
	errUnsupported    = domain.Reject(domain.ReasonBadRequest, "unsupported message type")
)

type WSHandler struct {
	service  *app.GameService
	hub      *Hub
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, hub *Hub, logger logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinGamePayload struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
}

type joinPayload struct {
	Code     string `json:"code"`
	Nickname string `json:"nickname"`
}

type answerPayload struct {
	QuestionID    string `json:"questionId"`
	SelectedIndex *int   `json:"selectedIndex"`
}

// binding is the (code, participant) pair a connection acts as.
type binding struct {
	code          string
	participantID string
}

func (b binding) bound() bool { return b.code != "" }

// connection is owned by the read loop of ServeWS.
type connection struct {
	id   string
	conn *websocket.Conn
	as   binding
}

// ServeWS upgrades HTTP requests to websockets and wires them into the game engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := &connection{id: uuid.NewString(), conn: conn}
	log := h.logger.WithFields(logrus.Fields{"conn": c.id, "remote": r.RemoteAddr})
	log.Info("WebSocket connected")

	send := h.hub.Register(c.id)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, send, writerDone)

	readErr := h.readLoop(r.Context(), c)

	if c.as.bound() {
		// the request context is already done once the peer has gone
		if err := h.service.Detach(context.Background(), c.as.code, c.as.participantID, c.id); err != nil {
			log.WithError(err).Warn("detach failed")
		}
	}
	h.hub.Unregister(c.id)
	<-writerDone

	fields := logrus.Fields{}
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		fields["error"] = readErr
	}
	log.WithFields(fields).Info("WebSocket disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, c *connection) error {
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			return err
		}
		if err := h.dispatch(ctx, c, inbound); err != nil {
			h.hub.Unicast(c.id, domain.ErrorEventFrom(err))
			if domain.ReasonOf(err) == domain.ReasonInternal {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"conn": c.id,
					"type": inbound.Type,
				}).Error("ws request failed")
			}
		}
	}
}

// writeLoop is the only writer on conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.WithError(err).Debug("ws write error")
				// unblock the read loop so the connection is torn down
				_ = conn.Close()
				drain(send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(send)
				return
			}
		}
	}
}

func drain(send <-chan []byte) {
	for range send {
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *connection, inbound inboundMessage) error {
	switch inbound.Type {
	case msgJoinGame:
		var p joinGamePayload
		if err := decode(inbound.Payload, &p); err != nil || p.Code == "" || p.ParticipantID == "" {
			return errInvalidPayload
		}
		return h.attach(ctx, c, p.Code, p.ParticipantID)

	case msgJoin:
		var p joinPayload
		if err := decode(inbound.Payload, &p); err != nil || p.Code == "" {
			return errInvalidPayload
		}
		id, err := h.service.JoinSession(ctx, p.Code, p.Nickname)
		if err != nil {
			return err
		}
		return h.attach(ctx, c, p.Code, id)

	case msgGetState:
		if !c.as.bound() {
			return errNotJoined
		}
		snapshot, err := h.service.GetSession(ctx, c.as.code)
		if err != nil {
			return err
		}
		h.hub.Unicast(c.id, domain.GameState{Game: snapshot, ParticipantID: c.as.participantID})
		return nil

	case msgStartGame:
		if !c.as.bound() {
			return errNotJoined
		}
		_, err := h.service.StartSession(ctx, c.as.code, c.as.participantID)
		return err

	case msgSubmitAnswer:
		if !c.as.bound() {
			return errNotJoined
		}
		var p answerPayload
		if err := decode(inbound.Payload, &p); err != nil || p.QuestionID == "" || p.SelectedIndex == nil {
			return errInvalidPayload
		}
		_, err := h.service.SubmitAnswer(ctx, c.as.code, c.as.participantID, p.QuestionID, *p.SelectedIndex, c.id)
		return err

	case msgNextQuestion:
		if !c.as.bound() {
			return errNotJoined
		}
		_, err := h.service.AdvanceQuestion(ctx, c.as.code, c.as.participantID)
		return err

	case msgEndGame:
		if !c.as.bound() {
			return errNotJoined
		}
		_, err := h.service.EndSession(ctx, c.as.code, c.as.participantID)
		return err

	default:
		return errUnsupported
	}
}

// attach rebinds the connection. A previous binding is released first so one
// connection never speaks for two participants.
func (h *WSHandler) attach(ctx context.Context, c *connection, code, participantID string) error {
	next := binding{code: code, participantID: participantID}
	if c.as.bound() && c.as != next {
		if err := h.service.Detach(ctx, c.as.code, c.as.participantID, c.id); err != nil {
			h.logger.WithError(err).WithField("conn", c.id).Warn("detach previous binding failed")
		}
		c.as = binding{}
	}
	if _, err := h.service.Attach(ctx, code, participantID, c.id); err != nil {
		return err
	}
	c.as = next
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errInvalidPayload
	}
	return json.Unmarshal(raw, v)
}
