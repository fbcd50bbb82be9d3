package docker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/nunet-edge/overlay-node/models"
)

const (
	labelExecutorName = "overlay-executor"
	labelJobID        = "overlay-jobID"
	labelExecutionID  = "overlay-executionID"
)

func labelJobValue(executorID string, jobID string) string {
	return fmt.Sprintf("%s_%s", executorID, jobID)
}

func labelExecutionValue(executorID string, jobID string, executionID string) string {
	return fmt.Sprintf("%s_%s_%s", executorID, jobID, executionID)
}

// Executor runs docker_image tasks on the local Docker daemon. One
// Executor is created per node and tracks every handler it has ever
// started so that Cleanup can tear down stragglers left over from a
// crashed or cancelled run.
type Executor struct {
	id     string
	client *Client

	mu       sync.Mutex
	handlers map[string]*executionHandler // keyed by executionID
}

// NewExecutor builds a Docker-backed Executor identified by id, which
// is stamped onto every container this executor creates so that a
// later Cleanup can find and remove them by label even across process
// restarts.
func NewExecutor(ctx context.Context, id string) (*Executor, error) {
	c, err := NewDockerClient()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize docker client")
	}
	return &Executor{
		id:       id,
		client:   c,
		handlers: make(map[string]*executionHandler),
	}, nil
}

// IsInstalled reports whether the Docker daemon is reachable.
func (e *Executor) IsInstalled(ctx context.Context) bool {
	return e.client.IsInstalled(ctx)
}

func (e *Executor) getHandler(executionID string) (*executionHandler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[executionID]
	return h, ok
}

// Start creates and launches a container for request, returning once
// the container has begun running. It returns an error if executionID
// is already known to this executor.
func (e *Executor) Start(ctx context.Context, request *models.ExecutionRequest) error {
	if _, exists := e.getHandler(request.ExecutionID); exists {
		return fmt.Errorf("execution %s already started", request.ExecutionID)
	}

	spec, err := DecodeSpec(request.EngineSpec)
	if err != nil {
		return errors.Wrap(err, "failed to decode docker engine spec")
	}

	config := &container.Config{
		Image:      spec.Image,
		Entrypoint: spec.Entrypoint,
		Cmd:        spec.Cmd,
		Env:        spec.Environment,
		WorkingDir: spec.WorkingDirectory,
		Labels: map[string]string{
			labelExecutorName: e.id,
			labelJobID:        labelJobValue(e.id, request.JobID),
			labelExecutionID:  labelExecutionValue(e.id, request.JobID, request.ExecutionID),
		},
	}

	hostConfig := &container.HostConfig{}
	if request.Resources != nil {
		hostConfig.Resources = container.Resources{
			NanoCPUs: int64(request.Resources.CPU),
			Memory:   int64(request.Resources.Memory),
		}
	}
	for _, in := range request.Inputs {
		if in == nil {
			continue
		}
		bind := in.Source + ":" + in.Target
		if in.ReadOnly {
			bind += ":ro"
		}
		hostConfig.Binds = append(hostConfig.Binds, bind)
	}

	name := fmt.Sprintf("overlay-%s-%s-%s", e.id, request.JobID, request.ExecutionID)
	containerID, err := e.client.CreateContainer(
		ctx,
		config,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		name,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create container")
	}

	h := &executionHandler{
		ID:          e.id,
		client:      e.client,
		jobID:       request.JobID,
		executionID: request.ExecutionID,
		containerID: containerID,
		resultsDir:  request.ResultsDir,
		activeCh:    make(chan bool),
		waitCh:      make(chan bool),
		running:     &atomic.Bool{},
	}

	e.mu.Lock()
	e.handlers[request.ExecutionID] = h
	e.mu.Unlock()

	go h.run(ctx)

	select {
	case <-h.activeCh:
		return nil
	case <-h.waitCh:
		if h.result != nil {
			return fmt.Errorf("container exited before becoming active: %s", h.result.ErrorMsg)
		}
		return fmt.Errorf("container exited before becoming active")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts request and blocks until its result is available.
func (e *Executor) Run(
	ctx context.Context,
	request *models.ExecutionRequest,
) (*models.ExecutionResult, error) {
	if err := e.Start(ctx, request); err != nil {
		return nil, err
	}

	resultCh, errCh := e.Wait(ctx, request.ExecutionID)
	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait returns channels that deliver request's result, or an error if
// executionID is unknown.
func (e *Executor) Wait(
	ctx context.Context,
	executionID string,
) (<-chan *models.ExecutionResult, <-chan error) {
	resultCh := make(chan *models.ExecutionResult, 1)
	errCh := make(chan error, 1)

	h, ok := e.getHandler(executionID)
	if !ok {
		errCh <- fmt.Errorf("unknown execution %s", executionID)
		return resultCh, errCh
	}

	go func() {
		select {
		case <-h.waitCh:
			if h.result != nil {
				resultCh <- h.result
			} else {
				errCh <- fmt.Errorf("execution %s finished without a result", executionID)
			}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return resultCh, errCh
}

// Cleanup removes every container and network this executor has ever
// labeled, regardless of whether this process instance started them.
func (e *Executor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var errs error
	for _, id := range ids {
		if h, ok := e.getHandler(id); ok && h.active() {
			if err := h.kill(ctx); err != nil {
				errs = multierr.Append(errs, errors.Wrap(err, "failed to kill handler during cleanup"))
			}
		}
	}

	if err := e.client.RemoveObjectsWithLabel(ctx, labelExecutorName, e.id); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
