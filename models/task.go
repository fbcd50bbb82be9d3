package models

// TaskDescriptor is a requester's submission, routed through the
// scheduler's discovery/filter/select/dispatch pipeline. Signature is
// optional, and neither the scheduler nor the executor verifies it.
type TaskDescriptor struct {
	TaskID               string               `json:"task_id"`
	RequesterID          string               `json:"requester_id"`
	TaskType             string               `json:"task_type"`
	Payload              map[string]interface{} `json:"payload,omitempty"`
	ResourceRequirements ResourceRequirements `json:"resource_requirements"`
	MaxPriceUSD          float64              `json:"max_price_usd"`
	DeadlineUTC          string               `json:"deadline_utc,omitempty"`
	SubmissionURL        string               `json:"submission_url,omitempty"`
	TimestampUTC         string               `json:"timestamp_utc"`
	Signature            string               `json:"signature,omitempty"`
}

// SubmitTaskRequest is the /submit_task route's request body: the task
// to auction off plus how many executors should run it redundantly.
// RedundantK <= 0 is treated as 1 (no redundancy) by the scheduler.
type SubmitTaskRequest struct {
	Task       TaskDescriptor `json:"task"`
	RedundantK int            `json:"redundant_k,omitempty"`
}

// TaskResult is what an executor hands back to the scheduler (and, via
// submission_url, to the original requester) once a dispatched task
// finishes on an executing node.
type TaskResult struct {
	TaskID      string `json:"task_id"`
	NodeID      string `json:"node_id"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
	CompletedAt string `json:"completed_at_utc,omitempty"`
}

// Allocation is the executor's in-memory bookkeeping record for one
// admitted task, tracked from Admitted through Released.
type Allocation struct {
	TaskID   string
	CPUCores float64
	RAMGB    float64
	Status   string
}

const (
	AllocationAccepted  = "accepted"
	AllocationAdmitted  = "admitted"
	AllocationRunning   = "running"
	AllocationCompleted = "completed"
	AllocationFailed    = "failed"
	AllocationTimeout   = "timeout"
	AllocationReleased  = "released"
)
