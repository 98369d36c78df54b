package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/relay"
)

// handleWebSocket upgrades the HTTP request, binds the new connection to a
// relay session, and hands it to the hub, which launches the pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.upgradeFailed()
		s.log.Warn("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	clientLog := s.log.With(zap.String("addr", r.RemoteAddr))
	client := newClient(conn, s.hub, r.RemoteAddr, s.cfg, clientLog)
	client.session = relay.NewSession(s.relay, client, clientLog)

	s.hub.register <- client
}

// handleHealth is a plain-text liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "pinlink relay is running")
}
