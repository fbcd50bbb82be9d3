package docker

import (
	"github.com/nunet-edge/overlay-node/internal/logger"
)

var zlog *logger.Logger

func init() {
	zlog = logger.New("docker.executor")
}
