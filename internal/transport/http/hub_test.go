package http

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"trivia-session-service/internal/domain"
)

func TestHubBroadcastSkipsSenderAndOtherRooms(t *testing.T) {
	hub := NewHub(logrus.New(), 4)
	a := hub.Register("a")
	b := hub.Register("b")
	other := hub.Register("c")
	hub.Subscribe("111111", "a")
	hub.Subscribe("111111", "b")
	hub.Subscribe("222222", "c")

	hub.BroadcastToRoom("111111", domain.ParticipantLeft{ParticipantID: "p1", Nickname: "Piet"}, "a")

	if len(a) != 0 {
		t.Fatalf("sender should be skipped")
	}
	if len(other) != 0 {
		t.Fatalf("other room should not receive the event")
	}
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(<-b, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "participant-left" || msg.Payload["playerId"] != "p1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(logrus.New(), 1)
	q := hub.Register("a")

	hub.Unicast("a", domain.ErrorEvent{Code: domain.ReasonBadRequest, Message: "one"})
	hub.Unicast("a", domain.ErrorEvent{Code: domain.ReasonBadRequest, Message: "two"})

	if len(q) != 1 {
		t.Fatalf("expected one queued message, got %d", len(q))
	}
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	hub := NewHub(logrus.New(), 4)
	q := hub.Register("a")
	hub.Subscribe("111111", "a")

	hub.Unregister("a")
	if _, ok := <-q; ok {
		t.Fatalf("expected closed queue")
	}
	if hub.RoomSize("111111") != 0 {
		t.Fatalf("expected empty room after unregister")
	}
	// late events for a gone connection are ignored
	hub.Unicast("a", domain.ErrorEvent{Code: domain.ReasonInternal})
	hub.Subscribe("111111", "a")
	if hub.RoomSize("111111") != 0 {
		t.Fatalf("unregistered connection must not rejoin a room")
	}
}
