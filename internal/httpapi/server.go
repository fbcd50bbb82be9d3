// Package httpapi is the node's HTTP(S) boundary: every /register,
// /chord/*, /resource_offer, /submit_task, /execute_task, and /logs
// route is a thin gin handler delegating straight into nodestate,
// chord, peerregistry, dhtstore, scheduler, and executor.
package httpapi

import (
	"net/http"
	"time"

	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/internal/nodestate"
)

var zlog = logger.New("httpapi")

const outboundTimeout = 10 * time.Second

// Server wires an HTTP router to a single node's live state. Client is
// the shared outbound HTTP client used for every chord/dht/scheduler
// RPC this node makes as part of handling a request.
type Server struct {
	Node   *nodestate.Node
	Client *http.Client
}

// New builds a Server bound to node, with its own bounded outbound
// client independent of whatever client the caller used to reach this
// node.
func New(node *nodestate.Node) *Server {
	return &Server{Node: node, Client: &http.Client{Timeout: outboundTimeout}}
}
