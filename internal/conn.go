package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 4096
	authWait         = 10 * time.Second
	validatorTimeout = 5 * time.Second
)

// Conn wraps a single websocket connection. It starts out pending and only
// joins the hub once the authenticate handshake succeeds.
type Conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	createdAt time.Time

	// identity; written by readPump before Register, read under the hub lock
	userID string
	authed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		ws:        ws,
		send:      make(chan []byte, 64),
		closed:    make(chan struct{}),
		createdAt: time.Now(),
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// enqueue hands a payload to the write pump without blocking. A connection
// that can't keep up gets shut down rather than backpressuring the hub.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.shutdown()
		return false
	}
}

func (c *Conn) readPump(hub *Hub, validator SessionValidator, logger zerolog.Logger) {
	defer func() {
		if c.authed {
			hub.Unregister(c)
		}
		c.shutdown()
		_ = c.ws.Close()
		connectionsActive.Dec()
	}()
	c.ws.SetReadLimit(maxMsgSize)
	// the connection has authWait to complete the handshake; afterwards the
	// deadline is driven by the pong cycle
	_ = c.ws.SetReadDeadline(time.Now().Add(authWait))
	c.ws.SetPongHandler(func(string) error {
		if c.authed {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			// transport drop or auth deadline; deferred cleanup handles both
			break
		}
		ev, err := decodeClientEvent(payload)
		if err != nil {
			logger.Debug().Err(err).Str("conn_id", c.id).Msg("discarding bad event")
			continue
		}
		switch ev.Type {
		case EventAuthenticate:
			c.handleAuthenticate(hub, validator, logger, ev.Token)
		case EventJoinRoom:
			if !c.authed {
				continue
			}
			if ev.UserID != c.userID {
				logger.Warn().Str("conn_id", c.id).Str("user", c.userID).Str("requested", ev.UserID).
					Msg("refusing join-room for another identity")
				continue
			}
			hub.JoinRoom(c)
		case EventGetOnlineUsers:
			if !c.authed {
				continue
			}
			hub.SendSnapshot(c)
		}
	}
}

func (c *Conn) handleAuthenticate(hub *Hub, validator SessionValidator, logger zerolog.Logger, token string) {
	if c.authed {
		logger.Warn().Str("conn_id", c.id).Str("user", c.userID).Msg("ignoring duplicate authenticate")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), validatorTimeout)
	defer cancel()
	userID, err := validator.Validate(ctx, token)
	if err != nil {
		authAttemptsTotal.WithLabelValues("failure").Inc()
		message := "authentication failed"
		if errors.Is(err, ErrInvalidToken) {
			message = ErrInvalidToken.Error()
		} else {
			logger.Error().Err(err).Str("conn_id", c.id).Msg("session validator error")
		}
		c.enqueue(encodeEvent(authErrorEvent(message)))
		return
	}
	c.userID = userID
	c.authed = true
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	hub.Register(c)
	c.enqueue(encodeEvent(authenticatedEvent(userID)))
	authAttemptsTotal.WithLabelValues("success").Inc()
	logger.Info().Str("conn_id", c.id).Str("user", userID).Msg("socket authenticated")
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.closed:
			// flush whatever was queued before signalling close, so a final
			// authentication-error still reaches the peer
			for {
				select {
				case message := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
