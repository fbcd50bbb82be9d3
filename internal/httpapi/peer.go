package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/models"
)

// handleRegister begins the mutual-auth handshake: the caller supplies
// its ip/port/public_key and receives a nonce it must sign to complete
// authentication. Grounded on auth.py's register route one-for-one.
func (s *Server) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := identity.ParsePublicKeyHex(req.PublicKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid public_key: " + err.Error()})
		return
	}

	challenge := s.Node.Registry.Register(req.IP, req.Port, req.PublicKey)
	c.JSON(http.StatusOK, models.ChallengeResponse{Nonce: challenge})
}

// handleAuthenticate completes the handshake by verifying the caller's
// signature over its issued challenge.
func (s *Server) handleAuthenticate(c *gin.Context) {
	var req models.AuthenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Node.Registry.Authenticate(req.IP, req.Port, req.Signature, req.PromisedCapacity); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Authenticated"})
}

// handlePeerList returns every known peer, including self.
func (s *Server) handlePeerList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": s.Node.Registry.PeerList()})
}

// handleUpdatePeer accepts an authoritative self-record gossiped by the
// peer it describes, overwriting whatever this node previously held
// for that address.
func (s *Server) handleUpdatePeer(c *gin.Context) {
	var record models.PeerRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Node.Registry.UpdatePeer(record)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// handleStatus reports this node's live self-description.
//
// @Summary      Node status
// @Description  Returns this node's chord position, advertised capacity, and current load.
// @Produce      json
// @Success      200  {object}  models.StatusResponse
// @Router       /status [get]
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Node.Status())
}

// handleLoadForward accepts the legacy load-forwarding payload. It has
// no routing effect in this implementation (the scheduler discovers
// capacity via signed offers, not load pushes); it exists so a caller
// built against the original HTTP surface still gets a 200 rather than
// a 404.
func (s *Server) handleLoadForward(c *gin.Context) {
	var req models.LoadForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
