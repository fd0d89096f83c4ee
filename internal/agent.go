package internal

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AgentState tracks where the presence agent is in its connection lifecycle.
type AgentState int

const (
	AgentDisconnected AgentState = iota
	AgentConnecting
	AgentAwaitingAuth
	AgentReady
	AgentReconnecting
)

func (s AgentState) String() string {
	switch s {
	case AgentDisconnected:
		return "disconnected"
	case AgentConnecting:
		return "connecting"
	case AgentAwaitingAuth:
		return "awaiting-auth"
	case AgentReady:
		return "ready"
	case AgentReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Agent event kinds surfaced to the embedding application.
const (
	AgentEventReady       = "ready"        // snapshot applied, presence view is live
	AgentEventPeerOnline  = "peer-online"  // a user came online
	AgentEventPeerOffline = "peer-offline" // a user went offline
	AgentEventDropped     = "dropped"      // transport lost, reconnect in progress
	AgentEventClosed      = "closed"       // terminal: auth failed, retries exhausted, or Close called
)

// AgentEvent notifies the embedding application of presence changes.
type AgentEvent struct {
	Kind   string
	UserID string
	Err    error
}

// AgentConfig configures a presence agent.
type AgentConfig struct {
	ServerURL  string // ws:// or wss:// URL of the presence endpoint
	Token      string // bearer credential presented during the handshake
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

const (
	defaultMaxRetries = 6
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 8 * time.Second
	agentAuthWait     = 15 * time.Second
	agentReadWait     = 75 * time.Second
	agentWriteWait    = 10 * time.Second
)

// Agent is the client-side counterpart of the presence server: it owns one
// connection, performs the authenticate handshake, and keeps an eventually
// consistent local view of who is online.
type Agent struct {
	cfg AgentConfig

	mu      sync.Mutex
	state   AgentState
	ws      *websocket.Conn
	online  map[string]struct{}
	userID  string
	running bool

	events   chan AgentEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func NewAgent(cfg AgentConfig) *Agent {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Agent{
		cfg:    cfg,
		online: make(map[string]struct{}),
		events: make(chan AgentEvent, 64),
		stop:   make(chan struct{}),
	}
}

// Connect starts the connection loop. Calling it again while the agent is
// already connecting or connected is a no-op.
func (a *Agent) Connect() error {
	parsed, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	if a.cfg.Token == "" {
		return errors.New("credential token is required")
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.state = AgentConnecting
	a.mu.Unlock()

	go a.run()
	return nil
}

// Close tears the connection down and clears all local presence state. The
// agent cannot be reused afterwards; build a new one on the next login.
func (a *Agent) Close() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	a.mu.Lock()
	if a.ws != nil {
		_ = a.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(agentWriteWait))
		_ = a.ws.Close()
	}
	a.state = AgentDisconnected
	a.online = make(map[string]struct{})
	a.userID = ""
	a.mu.Unlock()
}

// IsOnline reports whether the agent currently believes userID is online.
// This is a best-effort read: while the agent is not Ready it reports false
// for everyone rather than guessing from stale data.
func (a *Agent) IsOnline(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AgentReady {
		return false
	}
	_, ok := a.online[userID]
	return ok
}

// Online returns the current local view of the online set, empty unless Ready.
func (a *Agent) Online() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AgentReady {
		return nil
	}
	users := make([]string, 0, len(a.online))
	for userID := range a.online {
		users = append(users, userID)
	}
	return users
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UserID returns the identity the server acknowledged, empty before that.
func (a *Agent) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// Events exposes agent notifications. The channel is buffered; events are
// dropped rather than blocking the read loop when the consumer lags.
func (a *Agent) Events() <-chan AgentEvent {
	return a.events
}

func (a *Agent) run() {
	attempt := 0
	for {
		if a.stopped() {
			return
		}

		ws, err := a.dial()
		if err != nil {
			attempt++
			a.setState(AgentReconnecting)
			if !a.backoff(attempt, err) {
				return
			}
			continue
		}

		authed, authErr, transportErr := a.session(ws)
		if authErr != nil {
			// the server rejected the credential; retrying with the same
			// token is pointless, the application must obtain a fresh one
			a.terminate(authErr)
			return
		}
		if a.stopped() {
			return
		}
		if authed {
			attempt = 0
		}

		attempt++
		a.setState(AgentReconnecting)
		a.emit(AgentEvent{Kind: AgentEventDropped, Err: transportErr})
		if !a.backoff(attempt, transportErr) {
			return
		}
	}
}

// dial opens the transport. The handshake that follows runs in session.
func (a *Agent) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: agentAuthWait}
	ws, _, err := dialer.Dial(a.cfg.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.ws = ws
	a.state = AgentAwaitingAuth
	a.mu.Unlock()
	return ws, nil
}

// session drives one connection from handshake to transport loss. It reports
// whether authentication succeeded, a non-nil authErr when the server
// rejected the credential (terminal), and the transport error otherwise.
func (a *Agent) session(ws *websocket.Conn) (authed bool, authErr, transportErr error) {
	defer func() {
		_ = ws.Close()
		a.mu.Lock()
		if a.ws == ws {
			a.ws = nil
		}
		a.online = make(map[string]struct{})
		a.mu.Unlock()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(agentAuthWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(agentReadWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(agentWriteWait))
	})

	if err := a.write(ws, Event{Type: EventAuthenticate, Token: a.cfg.Token}); err != nil {
		return false, nil, err
	}

	for {
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			return authed, nil, err
		}
		switch ev.Type {
		case EventAuthenticated:
			authed = true
			a.mu.Lock()
			a.userID = ev.UserID
			a.mu.Unlock()
			// join the personal room, then rebuild the online view from a
			// fresh snapshot; whatever we knew before the reconnect is stale
			if err := a.write(ws, Event{Type: EventJoinRoom, UserID: ev.UserID}); err != nil {
				return authed, nil, err
			}
			if err := a.write(ws, Event{Type: EventGetOnlineUsers}); err != nil {
				return authed, nil, err
			}
			_ = ws.SetReadDeadline(time.Now().Add(agentReadWait))

		case EventAuthError:
			message := ev.Message
			if message == "" {
				message = "authentication rejected"
			}
			return false, errors.New(message), nil

		case EventOnlineUsers:
			a.mu.Lock()
			a.online = make(map[string]struct{}, len(ev.UserIDs))
			for _, userID := range ev.UserIDs {
				a.online[userID] = struct{}{}
			}
			wasReady := a.state == AgentReady
			a.state = AgentReady
			a.mu.Unlock()
			if !wasReady {
				a.emit(AgentEvent{Kind: AgentEventReady})
			}

		case EventUserOnline:
			a.mu.Lock()
			a.online[ev.UserID] = struct{}{}
			a.mu.Unlock()
			a.emit(AgentEvent{Kind: AgentEventPeerOnline, UserID: ev.UserID})

		case EventUserOffline:
			a.mu.Lock()
			delete(a.online, ev.UserID)
			a.mu.Unlock()
			a.emit(AgentEvent{Kind: AgentEventPeerOffline, UserID: ev.UserID})
		}
	}
}

func (a *Agent) write(ws *websocket.Conn, ev Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(agentWriteWait))
	return ws.WriteJSON(ev)
}

// backoff sleeps before the next attempt and reports whether to keep going.
func (a *Agent) backoff(attempt int, cause error) bool {
	if attempt > a.cfg.MaxRetries {
		if cause == nil {
			cause = errors.New("retries exhausted")
		}
		a.terminate(fmt.Errorf("giving up after %d attempts: %w", attempt-1, cause))
		return false
	}
	delay := a.cfg.BaseDelay << uint(attempt-1)
	if delay > a.cfg.MaxDelay {
		delay = a.cfg.MaxDelay
	}
	select {
	case <-time.After(delay):
		return true
	case <-a.stop:
		return false
	}
}

func (a *Agent) terminate(err error) {
	a.mu.Lock()
	a.state = AgentDisconnected
	a.online = make(map[string]struct{})
	a.mu.Unlock()
	a.emit(AgentEvent{Kind: AgentEventClosed, Err: err})
}

func (a *Agent) setState(state AgentState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

func (a *Agent) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func (a *Agent) emit(ev AgentEvent) {
	select {
	case a.events <- ev:
	default:
	}
}
