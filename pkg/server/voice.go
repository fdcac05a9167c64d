package server

import (
	"strconv"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-tony/pkg/session"
)

// handleVoice runs one voice session for the lifetime of the connection.
// The optional rate query parameter gives the client's PCM sample rate.
func (s *Server) handleVoice(c *websocket.Conn) {
	id := c.Params("session")
	rate, _ := strconv.Atoi(c.Query("rate"))

	sess := session.New(id, c, s.deps.Registry, s.sessionDeps(), session.WithClientRate(rate))
	if err := sess.Run(s.base); err != nil {
		s.logger.Warn("session ended with error", "session", id, "error", err)
	}
}
