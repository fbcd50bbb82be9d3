package httpapi

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Router builds the full route table for this node.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(corsConfig()))

	router.POST("/register", s.handleRegister)
	router.POST("/authenticate", s.handleAuthenticate)
	router.GET("/peer", s.handlePeerList)
	router.POST("/update_peer", s.handleUpdatePeer)
	router.GET("/status", s.handleStatus)

	chordGroup := router.Group("/chord")
	{
		chordGroup.GET("/find_successor", s.handleFindSuccessor)
		chordGroup.GET("/predecessor", s.handlePredecessor)
		chordGroup.GET("/successor", s.handleSuccessor)
		chordGroup.POST("/notify", s.handleNotify)
		chordGroup.GET("/finger_table", s.handleFingerTable)
		chordGroup.POST("/store_metadata", s.handleStoreMetadata)
		chordGroup.GET("/lookup_metadata", s.handleLookupMetadata)
		chordGroup.POST("/fix_fingers", s.handleFixFingers)
		chordGroup.GET("/analyze", s.handleAnalyze)
	}

	router.GET("/resource_offer", s.handleResourceOffer)
	router.POST("/submit_task", s.handleSubmitTask)
	router.POST("/execute_task", s.handleExecuteTask)
	router.POST("/handle_request", s.handleLoadForward)
	router.GET("/logs", s.handleLogs)

	return router
}

// ListenAndServe starts the HTTP(S) server on addr. TLS is used
// opportunistically when both certPath and keyPath name existing
// files; a self-signed pair is acceptable.
func (s *Server) ListenAndServe(addr, certPath, keyPath string) error {
	router := s.Router()
	if fileExists(certPath) && fileExists(keyPath) {
		zlog.Sugar().Infof("serving with TLS on %s", addr)
		return router.RunTLS(addr, certPath, keyPath)
	}
	zlog.Sugar().Infof("serving without TLS on %s", addr)
	return router.Run(addr)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func corsConfig() cors.Config {
	return cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Access-Control-Allow-Origin", "Origin", "Content-Length", "Content-Type"},
		AllowAllOrigins:  true,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}
