package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nunet-edge/overlay-node/internal/chord"
	"github.com/nunet-edge/overlay-node/internal/chordid"
)

// handleFindSuccessor resolves the ring node responsible for ?id=N.
func (s *Server) handleFindSuccessor(c *gin.Context) {
	id, err := chordid.ParseID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	succ, err := s.Node.Ring.FindSuccessor(c.Request.Context(), s.Client, id)
	if err != nil {
		c.JSON(http.StatusOK, s.Node.Ring.Successor())
		return
	}
	c.JSON(http.StatusOK, succ)
}

// handlePredecessor returns the current predecessor, or null if none.
func (s *Server) handlePredecessor(c *gin.Context) {
	pred, ok := s.Node.Ring.Predecessor()
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// handleSuccessor returns the current successor.
func (s *Server) handleSuccessor(c *gin.Context) {
	c.JSON(http.StatusOK, s.Node.Ring.Successor())
}

// handleNotify accepts a predecessor proposal from candidate.
func (s *Server) handleNotify(c *gin.Context) {
	var candidate chord.NodeInfo
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Node.Ring.Notify(candidate)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleFingerTable samples the first 20 finger entries.
func (s *Server) handleFingerTable(c *gin.Context) {
	c.JSON(http.StatusOK, s.Node.Ring.FingerTable(20))
}

// handleFixFingers triggers an immediate bulk finger-fix pass in the
// background and returns without waiting for it to settle.
func (s *Server) handleFixFingers(c *gin.Context) {
	go s.Node.Ring.FixAllFingers(context.Background(), s.Client)
	c.JSON(http.StatusOK, gin.H{"status": "fix_fingers triggered"})
}

// handleAnalyze reports finger table health stats.
func (s *Server) handleAnalyze(c *gin.Context) {
	c.JSON(http.StatusOK, s.Node.Ring.Analyze())
}
