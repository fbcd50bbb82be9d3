package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nunet-edge/overlay-node/models"
)

const logTailInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogs returns the node's accounting journal contents. A caller
// sending a websocket upgrade request instead gets a live tail: every
// logTailInterval, any entries appended since the last poll are pushed
// as a JSON array frame, since a long-running node's journal is
// otherwise only inspectable by repeated polling.
func (s *Server) handleLogs(c *gin.Context) {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		s.tailLogs(c)
		return
	}

	entries, err := s.Node.Journal.ReadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) tailLogs(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Sugar().Debugf("logs tail: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sent := 0
	ticker := time.NewTicker(logTailInterval)
	defer ticker.Stop()

	for range ticker.C {
		entries, err := s.Node.Journal.ReadAll()
		if err != nil {
			return
		}
		if len(entries) <= sent {
			continue
		}
		fresh := entries[sent:]
		sent = len(entries)
		if err := writeTailFrame(conn, fresh); err != nil {
			return
		}
	}
}

func writeTailFrame(conn *websocket.Conn, entries []models.AccountingEntry) error {
	return conn.WriteJSON(entries)
}
