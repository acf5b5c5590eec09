package aps

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServeHTTP upgrades an incoming HTTP request to a WebSocket connection and
// accepts it as a new AgentConnection. Mount at the APS ListenAddr.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	id := uuid.New().String()
	s.log.Info("agent connection accepted", zap.String("conn_id", id))
	s.Accept(id, conn)
}
