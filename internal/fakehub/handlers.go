package fakehub

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request, runs the identity handshake and
// hands the connection to the broker.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Streaming endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	user, err := handshake(wsConn, r, s.cfg.HandshakeTimeout)
	if err != nil {
		s.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		_ = wsConn.Close()
		return
	}

	c := newConn(s, wsConn, user)
	select {
	case s.broker.register <- c:
	case <-s.broker.ctx.Done():
		c.closeSocket()
	}
}

// HealthHandler reports that the server is up.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "hubchat fake hub is running (%d streaming clients)", s.broker.connectionCount())
}
