package session

import (
	"context"
	"testing"

	"github.com/tyemirov/authsession/pkg/credstore"
	"go.uber.org/zap/zaptest"
)

func TestNewStateHydratesUnverified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := credstore.NewTokenStore(credstore.NewMemoryBackend())
	if err := store.SaveUser(ctx, []byte(`{"name":"Cached","email":"c@example.com"}`)); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	state := NewState(ctx, store, zaptest.NewLogger(t))
	if state.User().String("name") != "Cached" {
		t.Fatalf("expected cached user, got %v", state.User())
	}
	if state.AuthVerified() {
		t.Fatalf("hydrated state must start unverified")
	}
	if state.IsAuthenticated() {
		t.Fatalf("cached profile alone must not authenticate")
	}
}

func TestSetUserAndReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := credstore.NewTokenStore(credstore.NewMemoryBackend())
	state := NewState(ctx, store, zaptest.NewLogger(t))

	state.SetUser(ctx, User{"name": "A"})
	if !state.IsAuthenticated() {
		t.Fatalf("expected authenticated after SetUser")
	}
	if _, ok := store.LoadUser(ctx); !ok {
		t.Fatalf("expected profile to be cached")
	}

	reloaded := NewState(ctx, store, zaptest.NewLogger(t))
	if reloaded.User().String("name") != "A" || reloaded.AuthVerified() {
		t.Fatalf("expected reload to see cached unverified user, got %+v", reloaded.Snapshot())
	}

	state.Reset(ctx)
	snapshot := state.Snapshot()
	if snapshot.User != nil || snapshot.AuthVerified {
		t.Fatalf("expected reset state, got %+v", snapshot)
	}
	if _, ok := store.LoadUser(ctx); ok {
		t.Fatalf("expected cache to be cleared on reset")
	}

	state.SetUser(ctx, User{"name": "B"})
	state.SetUser(ctx, nil)
	if state.IsAuthenticated() {
		t.Fatalf("nil user must reset the state")
	}
}

func TestStateWithoutCache(t *testing.T) {
	t.Parallel()

	state := NewState(context.Background(), nil, nil)
	state.SetUser(context.Background(), User{"id": float64(1)})
	if !state.IsAuthenticated() {
		t.Fatalf("expected authenticated")
	}
	state.Reset(context.Background())
	if state.IsAuthenticated() {
		t.Fatalf("expected reset")
	}
}
