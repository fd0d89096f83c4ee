package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"skillhub/internal/storage"
)

func newValidatorStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestStoreValidator(t *testing.T) {
	store := newValidatorStore(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "live-token", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "stale-token", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}

	v := NewStoreValidator(store)

	got, err := v.Validate(ctx, "live-token")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != "alice" {
		t.Errorf("identity = %q, want alice", got)
	}

	if _, err := v.Validate(ctx, "stale-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: got %v, want ErrInvalidToken", err)
	}
	if _, err := v.Validate(ctx, "no-such-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token: got %v, want ErrInvalidToken", err)
	}
	if _, err := v.Validate(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: got %v, want ErrInvalidToken", err)
	}
}
