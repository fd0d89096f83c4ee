package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// stubValidator maps tokens to identities in memory.
type stubValidator struct {
	users map[string]string
	err   error
}

func (v stubValidator) Validate(_ context.Context, token string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	userID, ok := v.users[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

type wsTestEnv struct {
	srv *httptest.Server
	hub *Hub
	reg *Registry
}

func newWSTestEnv(t *testing.T, validator SessionValidator) *wsTestEnv {
	t.Helper()
	logger := zerolog.Nop()
	registry := NewRegistry()
	hub := NewHub(registry, logger)
	server := NewServer(nil, registry, hub, validator, logger, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(server.ServeWS))
	t.Cleanup(srv.Close)
	return &wsTestEnv{srv: srv, hub: hub, reg: registry}
}

func (env *wsTestEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, ev Event) {
	t.Helper()
	_ = ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteJSON(ev); err != nil {
		t.Fatalf("write %s: %v", ev.Type, err)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// expectSilence asserts no event arrives within the wait. An expired read
// deadline leaves the gorilla connection unusable, so this must be the final
// read on the socket; authenticated sockets use expectNextSnapshot instead.
func expectSilence(t *testing.T, ws *websocket.Conn, wait time.Duration) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	var ev Event
	err := ws.ReadJSON(&ev)
	if err == nil {
		t.Fatalf("expected no traffic, got %s", ev.Type)
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

// expectNextSnapshot requests a snapshot and asserts it is the very next
// frame, proving no broadcast was queued on the socket before the request.
// The connection stays usable afterwards.
func expectNextSnapshot(t *testing.T, ws *websocket.Conn) []string {
	t.Helper()
	sendEvent(t, ws, Event{Type: EventGetOnlineUsers})
	ev := readEvent(t, ws)
	if ev.Type != EventOnlineUsers {
		t.Fatalf("expected online-users as the next frame, got %s %s", ev.Type, ev.UserID)
	}
	return ev.UserIDs
}

func containsUser(userIDs []string, userID string) bool {
	for _, id := range userIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// authenticate drives the handshake and asserts the ack.
func authenticate(t *testing.T, ws *websocket.Conn, token, wantUser string) {
	t.Helper()
	sendEvent(t, ws, Event{Type: EventAuthenticate, Token: token})
	ack := readEvent(t, ws)
	if ack.Type != EventAuthenticated {
		t.Fatalf("expected authenticated, got %s (%s)", ack.Type, ack.Message)
	}
	if ack.UserID != wantUser {
		t.Fatalf("expected identity %q, got %q", wantUser, ack.UserID)
	}
}

func TestHandshakeSuccess(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{"tok-alice": "alice"}})
	ws := env.dial(t)

	authenticate(t, ws, "tok-alice", "alice")

	sendEvent(t, ws, Event{Type: EventGetOnlineUsers})
	snapshot := readEvent(t, ws)
	if snapshot.Type != EventOnlineUsers {
		t.Fatalf("expected online-users, got %s", snapshot.Type)
	}
	if len(snapshot.UserIDs) != 1 || snapshot.UserIDs[0] != "alice" {
		t.Fatalf("expected snapshot [alice], got %v", snapshot.UserIDs)
	}
}

func TestHandshakeInvalidToken(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{}})
	ws := env.dial(t)

	sendEvent(t, ws, Event{Type: EventAuthenticate, Token: "bogus"})
	ev := readEvent(t, ws)
	if ev.Type != EventAuthError {
		t.Fatalf("expected authentication-error, got %s", ev.Type)
	}
	if ev.Message != ErrInvalidToken.Error() {
		t.Errorf("unexpected message %q", ev.Message)
	}
	if env.reg.OnlineCount() != 0 {
		t.Error("rejected connection must not appear in the registry")
	}
}

func TestHandshakeFailsClosedOnValidatorError(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{err: errors.New("backend down")})
	ws := env.dial(t)

	sendEvent(t, ws, Event{Type: EventAuthenticate, Token: "tok"})
	ev := readEvent(t, ws)
	if ev.Type != EventAuthError {
		t.Fatalf("expected authentication-error, got %s", ev.Type)
	}
	// the internal failure must not leak and must not admit the connection
	if strings.Contains(ev.Message, "backend down") {
		t.Errorf("validator error leaked to the client: %q", ev.Message)
	}
	if env.reg.OnlineCount() != 0 {
		t.Error("connection must stay unauthenticated when the validator fails")
	}
}

func TestPresenceBroadcast(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	}})

	alice := env.dial(t)
	authenticate(t, alice, "tok-alice", "alice")

	bob := env.dial(t)
	authenticate(t, bob, "tok-bob", "bob")

	// alice learns about bob coming online; bob gets no echo of himself
	ev := readEvent(t, alice)
	if ev.Type != EventUserOnline || ev.UserID != "bob" {
		t.Fatalf("expected user-online bob, got %s %s", ev.Type, ev.UserID)
	}

	bob.Close()
	ev = readEvent(t, alice)
	if ev.Type != EventUserOffline || ev.UserID != "bob" {
		t.Fatalf("expected user-offline bob, got %s %s", ev.Type, ev.UserID)
	}
}

func TestNoSelfNotification(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{
		"tok-a1": "alice",
		"tok-a2": "alice",
	}})

	first := env.dial(t)
	authenticate(t, first, "tok-a1", "alice")

	// a second tab of the same user is not a transition and must not be
	// announced to the first tab either way
	second := env.dial(t)
	authenticate(t, second, "tok-a2", "alice")
	time.Sleep(100 * time.Millisecond)
	expectNextSnapshot(t, first)
}

func TestMultiConnectionSingleTransition(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{
		"tok-a1":       "alice",
		"tok-a2":       "alice",
		"tok-observer": "observer",
	}})

	observer := env.dial(t)
	authenticate(t, observer, "tok-observer", "observer")

	first := env.dial(t)
	authenticate(t, first, "tok-a1", "alice")
	ev := readEvent(t, observer)
	if ev.Type != EventUserOnline || ev.UserID != "alice" {
		t.Fatalf("expected user-online alice, got %s %s", ev.Type, ev.UserID)
	}

	second := env.dial(t)
	authenticate(t, second, "tok-a2", "alice")
	time.Sleep(100 * time.Millisecond)
	if snap := expectNextSnapshot(t, observer); !containsUser(snap, "alice") {
		t.Fatalf("alice missing from snapshot %v", snap)
	}

	// closing one of two connections is not an offline transition
	first.Close()
	time.Sleep(100 * time.Millisecond)
	if snap := expectNextSnapshot(t, observer); !containsUser(snap, "alice") {
		t.Fatalf("alice should still be online, snapshot %v", snap)
	}

	second.Close()
	ev = readEvent(t, observer)
	if ev.Type != EventUserOffline || ev.UserID != "alice" {
		t.Fatalf("expected user-offline alice, got %s %s", ev.Type, ev.UserID)
	}
}

func TestUnauthenticatedGetsNoPresenceTraffic(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{"tok-bob": "bob"}})

	pending := env.dial(t)

	bob := env.dial(t)
	authenticate(t, bob, "tok-bob", "bob")

	// the pending connection must not observe bob's transition
	expectSilence(t, pending, 300*time.Millisecond)
}

func TestUnauthenticatedSnapshotIgnored(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{"tok-bob": "bob"}})

	bob := env.dial(t)
	authenticate(t, bob, "tok-bob", "bob")

	pending := env.dial(t)
	sendEvent(t, pending, Event{Type: EventGetOnlineUsers})
	expectSilence(t, pending, 300*time.Millisecond)
}

func TestDuplicateAuthenticateIgnored(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{"tok-alice": "alice"}})
	ws := env.dial(t)

	authenticate(t, ws, "tok-alice", "alice")
	sendEvent(t, ws, Event{Type: EventAuthenticate, Token: "tok-alice"})
	// no second ack or error may precede the snapshot
	expectNextSnapshot(t, ws)

	if !env.reg.IsOnline("alice") {
		t.Error("alice should remain online after the duplicate authenticate")
	}
}

func TestSendToUserPersonalRoom(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	}})

	alice := env.dial(t)
	authenticate(t, alice, "tok-alice", "alice")
	sendEvent(t, alice, Event{Type: EventJoinRoom, UserID: "alice"})

	bob := env.dial(t)
	authenticate(t, bob, "tok-bob", "bob")
	// drain bob's arrival on alice's socket
	if ev := readEvent(t, alice); ev.Type != EventUserOnline {
		t.Fatalf("expected user-online, got %s", ev.Type)
	}

	// joining a room is processed by the read pump; wait for it to land
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SendToUser("alice", encodeEvent(Event{Type: "notification", Message: "ping"})) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("alice never joined her personal room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := readEvent(t, alice)
	if ev.Type != "notification" || ev.Message != "ping" {
		t.Fatalf("expected the personal-room payload, got %s %q", ev.Type, ev.Message)
	}

	if got := env.hub.SendToUser("bob", []byte(`{"type":"notification"}`)); got != 0 {
		t.Errorf("bob never joined a room, delivered to %d connections", got)
	}
}

func TestJoinRoomForeignIdentityRefused(t *testing.T) {
	env := newWSTestEnv(t, stubValidator{users: map[string]string{"tok-alice": "alice"}})
	ws := env.dial(t)
	authenticate(t, ws, "tok-alice", "alice")

	sendEvent(t, ws, Event{Type: EventJoinRoom, UserID: "bob"})
	time.Sleep(100 * time.Millisecond)

	if got := env.hub.SendToUser("bob", []byte(`{"type":"notification"}`)); got != 0 {
		t.Errorf("join-room for a foreign identity must be refused, delivered %d", got)
	}
}
