package executor

import (
	"context"

	"github.com/nunet-edge/overlay-node/models"
)

// Executor runs one task's worth of work on a specific backend (the
// Docker daemon, or the busy-wait default). Admission is done by
// executeTask before a backend is called; cancellation and live log
// streaming of a running container are not part of this interface.
type Executor interface {
	// IsInstalled checks if the executor is installed and available for use.
	IsInstalled(ctx context.Context) bool

	// Start initiates an execution for the given ExecutionRequest.
	// It returns an error if the execution already exists and is in a started or terminal state.
	// Implementations may also return other errors based on resource limitations or internal faults.
	Start(ctx context.Context, request *models.ExecutionRequest) error

	// Run initiates and waits for the completion of an execution for the given ExecutionRequest.
	// It returns a ExecutionResult and an error if any part of the operation fails.
	// Specifically, it will return an error if the execution already exists and is in a started or terminal state.
	Run(ctx context.Context, request *models.ExecutionRequest) (*models.ExecutionResult, error)

	// Wait monitors the completion of an execution identified by its executionID.
	// It returns two channels:
	// 1. A channel that emits the execution result once the task is complete
	//    (immediately, if it has already concluded with a result).
	// 2. An error channel that relays any issues encountered, such as when the
	//    execution is non-existent or the context ends first.
	Wait(ctx context.Context, executionID string) (<-chan *models.ExecutionResult, <-chan error)
}
