package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/internal/accounting"
	"github.com/nunet-edge/overlay-node/internal/resourcemonitor"
	"github.com/nunet-edge/overlay-node/models"
)

// UnitRewardUSD is credited to this node's running earnings total on
// every task that completes with exit code 0, matching
// executor.py's flat demo reward (no per-resource pricing on the
// executor side; pricing only governs which offers the requester
// selects).
const UnitRewardUSD = 1.0

const defaultMaxDurationSeconds = 3600

// AllocationTable is the in-memory admitted-task bookkeeping shared
// across every worker HandleExecuteTask spawns, grounded on
// executor.py's package-level allocated_resources dict and promoted
// to a mutex-guarded table per task_id.
type AllocationTable struct {
	mu    sync.Mutex
	table map[string]*models.Allocation
}

// NewAllocationTable builds an empty table.
func NewAllocationTable() *AllocationTable {
	return &AllocationTable{table: make(map[string]*models.Allocation)}
}

// Reserve records cpu/ram as admitted for taskID.
func (a *AllocationTable) Reserve(taskID string, cpu, ram float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.table[taskID] = &models.Allocation{TaskID: taskID, CPUCores: cpu, RAMGB: ram, Status: models.AllocationAdmitted}
}

// SetStatus updates taskID's allocation status in place, a no-op if
// the task is unknown (already released, or never admitted).
func (a *AllocationTable) SetStatus(taskID, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if alloc, ok := a.table[taskID]; ok {
		alloc.Status = status
	}
}

// Release frees taskID's allocation, unconditionally, on every exit
// path from executeTask.
func (a *AllocationTable) Release(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.table, taskID)
}

// Snapshot returns every currently admitted allocation.
func (a *AllocationTable) Snapshot() []models.Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Allocation, 0, len(a.table))
	for _, alloc := range a.table {
		out = append(out, *alloc)
	}
	return out
}

// Earnings tracks this node's running total, credited on every
// exit-code-zero completion.
type Earnings struct {
	mu    sync.Mutex
	total float64
}

// NewEarnings builds a zeroed counter.
func NewEarnings() *Earnings {
	return &Earnings{}
}

// Add credits amount and returns the new running total.
func (e *Earnings) Add(amount float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total += amount
	return e.total
}

// Total returns the current running total.
func (e *Earnings) Total() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// InputFetcher stages a task's input_data_url onto the local
// filesystem ahead of container launch, returning the local path it
// wrote to.
type InputFetcher interface {
	Fetch(ctx context.Context, rawURL, destDir string) (localPath string, err error)
}

// HTTPFetcher downloads http(s):// input URLs, the only scheme
// executor.py's execute_containerized_task supports.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds a fetcher using client, or a bounded default
// if client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build input fetch request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch task input")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("input fetch returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create input staging directory")
	}
	path := filepath.Join(destDir, "input.data")
	out, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to create staged input file")
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return "", errors.Wrap(werr, "failed to write staged input file")
			}
		}
		if rerr != nil {
			break
		}
	}
	return path, nil
}

// S3Downloader is the capability an S3-backed staging provider needs;
// satisfied by s3.DownloaderAdapter (which wraps *s3.Storage) without executor importing the s3 package
// directly, avoiding a dependency on the AWS SDK for callers that
// never configure S3 staging.
type S3Downloader interface {
	Download(ctx context.Context, bucket, key, destDir string) (string, error)
}

// S3Fetcher stages s3:// input URLs (bucket is the host, key is the
// path) via an S3Downloader, so a node can also stage private
// object-storage inputs alongside plain HTTP URLs.
type S3Fetcher struct {
	Downloader S3Downloader
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid s3 input url")
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", errors.New("s3 input url must be s3://bucket/key")
	}
	return f.Downloader.Download(ctx, bucket, key, destDir)
}

// CompositeFetcher dispatches to HTTP or S3 based on rawURL's scheme.
type CompositeFetcher struct {
	HTTP InputFetcher
	S3   InputFetcher
}

func (c CompositeFetcher) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		if c.S3 == nil {
			return "", errors.New("input url is s3:// but no S3 fetcher is configured")
		}
		return c.S3.Fetch(ctx, rawURL, destDir)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return c.HTTP.Fetch(ctx, rawURL, destDir)
	default:
		return "", errors.Errorf("unsupported input_data_url scheme: %s", rawURL)
	}
}

// Deps bundles every collaborator HandleExecuteTask's background
// worker needs, threaded explicitly rather than held as package
// globals (unlike executor.py's module-level allocated_resources and
// total_earnings).
type Deps struct {
	NodeID     string
	Monitor    *resourcemonitor.Monitor
	Allocs     *AllocationTable
	Earnings   *Earnings
	Docker     Executor
	Fetcher    InputFetcher
	Journal    *accounting.Journal
	HTTPClient *http.Client
}

// AcceptResponse is what execute_task replies with immediately, before
// the background worker has even begun admission checks.
type AcceptResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// HandleExecuteTask logs acceptance, launches the background worker,
// and returns the immediate response — grounded on
// execute_task_endpoint's accept-then-thread pattern.
func HandleExecuteTask(deps *Deps, task models.TaskDescriptor) AcceptResponse {
	if _, err := deps.Journal.Append(models.AccountingEventAdmitted, task.TaskID, deps.NodeID, nil); err != nil {
		zlog.Sugar().Warnf("failed to write accounting entry: %v", err)
	}
	go executeTask(deps, task)
	return AcceptResponse{TaskID: task.TaskID, Status: "accepted"}
}

func executeTask(deps *Deps, task models.TaskDescriptor) {
	reqs := task.ResourceRequirements
	stats := deps.Monitor.Snapshot()

	if float64(stats.CPUCoresLogical) < reqs.CPUCores || stats.MemoryAvailableGB < reqs.RAMGB {
		logAppend(deps, models.AccountingEventFailed, task.TaskID, map[string]interface{}{"reason": "insufficient resources"})
		return
	}

	deps.Allocs.Reserve(task.TaskID, reqs.CPUCores, reqs.RAMGB)
	logAppend(deps, models.AccountingEventResourceAllocated, task.TaskID, map[string]interface{}{
		"cpu_cores": reqs.CPUCores, "ram_gb": reqs.RAMGB,
	})
	logAppend(deps, models.AccountingEventStarted, task.TaskID, nil)
	defer func() {
		deps.Allocs.Release(task.TaskID)
		logAppend(deps, models.AccountingEventResourceFreed, task.TaskID, nil)
	}()

	switch task.TaskType {
	case models.TaskTypeDockerImage:
		runDockerTask(deps, task, reqs)
	default:
		runBusyWaitTask(deps, task)
	}
}

func runDockerTask(deps *Deps, task models.TaskDescriptor, reqs models.ResourceRequirements) {
	deps.Allocs.SetStatus(task.TaskID, models.AllocationRunning)

	if deps.Docker == nil {
		failTask(deps, task, errors.New("no docker daemon available on this node"))
		return
	}

	imageName, _ := task.Payload["image_name"].(string)
	if imageName == "" {
		failTask(deps, task, errors.New("task_type docker_image requires payload.image_name"))
		return
	}

	var inputVolume *models.StorageVolume
	var stagedPath string
	if inputURL, ok := task.Payload["input_data_url"].(string); ok && inputURL != "" {
		destDir, err := os.MkdirTemp("", "overlay-input-*")
		if err != nil {
			failTask(deps, task, errors.Wrap(err, "failed to create input staging directory"))
			return
		}
		defer os.RemoveAll(destDir)

		stagedPath, err = deps.Fetcher.Fetch(context.Background(), inputURL, destDir)
		if err != nil {
			failTask(deps, task, errors.Wrap(err, "failed to stage task input"))
			return
		}
		inputVolume = &models.StorageVolume{
			Type: models.StorageVolumeTypeBind, Source: stagedPath,
			Target: "/input/input.data", ReadOnly: true,
		}
	}

	maxDuration := defaultMaxDurationSeconds
	if v, ok := task.Payload["max_duration_seconds"].(float64); ok && v > 0 {
		maxDuration = int(v)
	}

	env := envSliceFromPayload(task.Payload["environment_vars"])

	spec := models.NewSpecConfig(models.ExecutorTypeDocker).
		WithParam("image", imageName).
		WithParam("environment", env)

	var inputs []*models.StorageVolume
	if inputVolume != nil {
		inputs = append(inputs, inputVolume)
	}

	request := &models.ExecutionRequest{
		JobID:       task.RequesterID,
		ExecutionID: task.TaskID,
		EngineSpec:  spec,
		Resources: &models.ExecutionResources{
			CPU:    reqs.CPUCores * 1e9,
			Memory: uint64(reqs.RAMGB * (1024 * 1024 * 1024)),
		},
		Inputs: inputs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(maxDuration)*time.Second)
	defer cancel()

	result, err := deps.Docker.Run(ctx, request)
	if err != nil {
		failTask(deps, task, err)
		return
	}

	logs := result.STDOUT + result.STDERR
	completeTask(deps, task, result.ExitCode, logs, result.ErrorMsg)
}

// runBusyWaitTask handles task_type values the original executor never
// recognized beyond docker_image (prime, matrix, and anything else):
// it spins for a nominal interval to simulate compute and reports
// success, so the scheduler's dispatch/verify/consensus path has a
// real executor to exercise without requiring a container image.
func runBusyWaitTask(deps *Deps, task models.TaskDescriptor) {
	deps.Allocs.SetStatus(task.TaskID, models.AllocationRunning)

	const busyWaitDuration = 200 * time.Millisecond
	time.Sleep(busyWaitDuration)

	logs := fmt.Sprintf("%s task %s busy-waited %s", task.TaskType, task.TaskID, busyWaitDuration)
	completeTask(deps, task, models.ExecutionStatusCodeSuccess, logs, "")
}

func completeTask(deps *Deps, task models.TaskDescriptor, exitCode int, logs, errMsg string) {
	deps.Allocs.SetStatus(task.TaskID, models.AllocationCompleted)

	result := models.TaskResult{
		TaskID:      task.TaskID,
		NodeID:      deps.NodeID,
		Output:      logs,
		ErrorMsg:    errMsg,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if logs != "" {
		sum := sha256.Sum256([]byte(logs))
		result.Checksum = hex.EncodeToString(sum[:])
	}
	if exitCode == models.ExecutionStatusCodeSuccess {
		result.Status = models.AllocationCompleted
	} else {
		result.Status = models.AllocationFailed
	}

	submitResult(deps, task, result)

	logAppend(deps, models.AccountingEventCompleted, task.TaskID, map[string]interface{}{
		"exit_code": exitCode, "output_checksum": result.Checksum,
	})

	if exitCode == models.ExecutionStatusCodeSuccess {
		total := deps.Earnings.Add(UnitRewardUSD)
		logAppend(deps, models.AccountingEventEarnings, task.TaskID, map[string]interface{}{
			"amount": UnitRewardUSD, "total_earnings": total,
		})
	}
}

func failTask(deps *Deps, task models.TaskDescriptor, err error) {
	deps.Allocs.SetStatus(task.TaskID, models.AllocationFailed)
	logAppend(deps, models.AccountingEventFailed, task.TaskID, map[string]interface{}{"error": err.Error()})

	result := models.TaskResult{
		TaskID: task.TaskID, NodeID: deps.NodeID, Status: models.AllocationFailed,
		ErrorMsg: err.Error(), CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	submitResult(deps, task, result)
}

func submitResult(deps *Deps, task models.TaskDescriptor, result models.TaskResult) {
	if task.SubmissionURL == "" {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		zlog.Sugar().Warnf("failed to marshal task result for submission: %v", err)
		return
	}

	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodPost, task.SubmissionURL, bytes.NewReader(body))
	if err != nil {
		zlog.Sugar().Warnf("failed to build result submission request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		zlog.Sugar().Debugf("failed to submit task result to %s: %v", task.SubmissionURL, err)
		return
	}
	resp.Body.Close()
}

func logAppend(deps *Deps, eventType, taskID string, details map[string]interface{}) {
	if _, err := deps.Journal.Append(eventType, taskID, deps.NodeID, details); err != nil {
		zlog.Sugar().Warnf("failed to write accounting entry: %v", err)
	}
}

func envSliceFromPayload(raw interface{}) []string {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	return out
}
