package internal

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the browser frontend is served from a different origin; cross-origin
		// upgrades are expected and the token handshake is the actual gate
		return true
	},
}

// ServeWS upgrades the request and starts the pumps. The connection stays
// pending until it completes the authenticate handshake; it receives no
// presence traffic before then.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := newConn(ws)
	connectionsActive.Inc()

	go conn.writePump()
	go conn.readPump(s.hub, s.validator, s.logger)
}
