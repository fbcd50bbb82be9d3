package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nunet-edge/overlay-node/executor"
	"github.com/nunet-edge/overlay-node/internal/scheduler"
	"github.com/nunet-edge/overlay-node/models"
)

// handleResourceOffer returns this node's current signed self-offer.
func (s *Server) handleResourceOffer(c *gin.Context) {
	o, err := s.Node.BuildOffer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// handleStoreMetadata accepts a signed DHT update for a key this node
// may or may not currently be the authoritative holder of.
func (s *Server) handleStoreMetadata(c *gin.Context) {
	var update models.DHTUpdateEnvelope
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Node.Store.StoreMetadata(update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

// handleLookupMetadata returns every offer stored at this node under
// ?key=N, refusing if the key is outside this node's authoritative
// range.
func (s *Server) handleLookupMetadata(c *gin.Context) {
	offers, err := s.Node.Store.LookupMetadata(c.Query("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offers)
}

// handleSubmitTask is the scheduler entry point: discover, filter,
// select, dispatch, verify, and (when redundant_k > 1) reach consensus
// across redundantly-dispatched executors.
//
// @Summary      Submit a task to the auction
// @Description  Runs the discovery/filter/select/dispatch/consensus pipeline for one task.
// @Accept       json
// @Produce      json
// @Success      200  {object}  scheduler.Outcome
// @Router       /submit_task [post]
func (s *Server) handleSubmitTask(c *gin.Context) {
	var req models.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome := scheduler.ScheduleTask(
		c.Request.Context(), s.Client, s.Client,
		s.Node.Ring, s.Node.Registry.PeerList(), s.Node.Journal,
		req.Task, req.RedundantK,
	)
	if outcome.Error != "" && outcome.Result == nil && outcome.ConsensusValid == nil {
		c.JSON(http.StatusBadGateway, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleExecuteTask is the executor entry point: accept-then-thread,
// per execute_task_endpoint.
func (s *Server) handleExecuteTask(c *gin.Context) {
	var task models.TaskDescriptor
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deps := &executor.Deps{
		NodeID:     s.Node.SelfChordID().String(),
		Monitor:    s.Node.Monitor,
		Allocs:     s.Node.Allocs,
		Earnings:   s.Node.Earnings,
		Docker:     s.Node.Docker,
		Fetcher:    s.Node.Fetcher,
		Journal:    s.Node.Journal,
		HTTPClient: s.Client,
	}
	c.JSON(http.StatusOK, executor.HandleExecuteTask(deps, task))
}
