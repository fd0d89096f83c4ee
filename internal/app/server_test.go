package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	intrnl "skillhub/internal"
	"skillhub/internal/storage"
)

func TestPruneExpiredSessions(t *testing.T) {
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	userID, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession fresh: %v", err)
	}

	pruneExpiredSessions(ctx, store, zerolog.Nop())

	if sess, _ := store.GetSession(ctx, "stale"); sess != nil {
		t.Error("stale session should have been pruned")
	}
	if sess, _ := store.GetSession(ctx, "fresh"); sess == nil {
		t.Error("fresh session should survive pruning")
	}
}

// TestServerEndToEnd boots a real server on a random port and walks the full
// flow: signup, login, socket handshake, presence snapshot, shutdown.
func TestServerEndToEnd(t *testing.T) {
	cfg := ServerConfig{
		Addr:     "127.0.0.1:0",
		WSPath:   "/ws",
		DBPath:   filepath.Join(t.TempDir(), "e2e.db"),
		TokenTTL: time.Hour,
		Env:      "test",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := RunServer(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("RunServer: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = handle.Stop(shutdownCtx)
		if err := handle.Wait(); err != nil {
			t.Errorf("server exited with error: %v", err)
		}
	}()

	base := "http://" + handle.Addr()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}

	if err := intrnl.Signup(base, "alice", "pw"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	login, err := intrnl.Login(base, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	wsURL, err := intrnl.WebSocketURL(base, cfg.WSPath)
	if err != nil {
		t.Fatalf("websocket url: %v", err)
	}
	agent := intrnl.NewAgent(intrnl.AgentConfig{ServerURL: wsURL, Token: login.Token})
	if err := agent.Connect(); err != nil {
		t.Fatalf("agent connect: %v", err)
	}
	defer agent.Close()

	deadline := time.After(3 * time.Second)
	for agent.State() != intrnl.AgentReady {
		select {
		case <-agent.Events():
		case <-deadline:
			t.Fatal("agent never became ready")
		}
	}

	if agent.UserID() != "alice" {
		t.Errorf("agent identity = %q, want alice", agent.UserID())
	}
	if !agent.IsOnline("alice") {
		t.Error("the agent's own user should appear in the snapshot")
	}

	if err := intrnl.Logout(base, login.Token); err != nil {
		t.Errorf("logout: %v", err)
	}
}
