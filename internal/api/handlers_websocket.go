package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// handleEvents upgrades the connection and streams the lifecycle events of
// the caller's project.
func (s *Server) handleEvents(c echo.Context) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return nil // Upgrade already answered the request.
	}

	client := &Client{
		hub:     s.wsHub,
		conn:    ws,
		send:    make(chan []byte, 256),
		project: scopeOf(c).Project,
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = ws.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// checkOrigin accepts the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// eventStats returns websocket connection statistics.
func (s *Server) eventStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected_clients": s.wsHub.ClientCount(),
		"status":            "operational",
	})
}
