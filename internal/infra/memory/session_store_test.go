package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivia-session-service/internal/domain"
)

func newSession(code string, now time.Time) domain.Session {
	return domain.NewSession(code, domain.Participant{ID: "host", Nickname: "Sint"}, []string{"q01", "q02"}, now)
}

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	now := time.Now()

	if err := store.Create(ctx, newSession("123456", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newSession("123456", now)); !errors.Is(err, domain.ErrDuplicateCode) {
		t.Fatalf("expected duplicate code, got %v", err)
	}

	loaded, err := store.Load(ctx, "123456")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := loaded.AddParticipant("p1", "Piet", now); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	again, _ := store.Load(ctx, "123456")
	if len(again.Participants) != 1 {
		t.Fatalf("unsaved mutation leaked into store")
	}

	if err := store.Save(ctx, &loaded); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, &again); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}

	if err := store.Delete(ctx, "123456"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "123456"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSessionStorePurgeCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	old := time.Now().Add(-2 * time.Hour)

	done := newSession("111111", old)
	done.Phase = domain.PhaseCompleted
	_ = store.Create(ctx, done)
	_ = store.Create(ctx, newSession("222222", old))

	n, err := store.PurgeCompleted(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if _, err := store.Load(ctx, "222222"); err != nil {
		t.Fatalf("lobby session must survive purge: %v", err)
	}
}
