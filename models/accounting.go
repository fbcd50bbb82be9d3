package models

// AccountingEntry is one append-only line of the node's earnings
// journal. Signature is left empty (explicit null on the wire, not an
// omitted field) when the node has no signer configured, so that a
// reader of the journal can distinguish "unsigned" from "field absent
// because of an old journal format".
type AccountingEntry struct {
	TimestampUTC string                 `json:"timestamp_utc"`
	TaskID       string                 `json:"task_id"`
	EventType    string                 `json:"event_type"`
	NodeID       string                 `json:"node_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Signature    *string                `json:"signature"`
}

// Executor-side event types, emitted by the executing node itself as a
// task moves through admission, allocation, and completion. Names
// match original_source/edge_server/executor.py's append_log_entry
// calls literally, since readers of the journal (and the scheduler's
// own TASK_SCHEDULED_TO_NODE_X family) depend on the exact strings.
const (
	AccountingEventAdmitted          = "TASK_ACCEPTED_BY_NODE_X"
	AccountingEventResourceAllocated = "RESOURCE_ALLOCATED"
	AccountingEventStarted           = "TASK_STARTED_ON_NODE_X"
	AccountingEventCompleted         = "TASK_COMPLETED_ON_NODE_X"
	AccountingEventFailed            = "TASK_FAILED_ON_NODE_X"
	AccountingEventEarnings          = "PAYMENT_EARNED_BY_NODE_X"
	AccountingEventResourceFreed     = "RESOURCE_DEALLOCATED"
)

// Scheduler-side event types, emitted by the requester's node as a
// task moves through discovery and dispatch rather than execution.
const (
	AccountingEventScheduledToNode  = "TASK_SCHEDULED_TO_NODE_X"
	AccountingEventAcceptedByNode   = "TASK_ACCEPTED_BY_NODE_X"
	AccountingEventChecksumVerified = "TASK_RESULT_CHECKSUM_VERIFIED"
	AccountingEventDispatchFailed   = "TASK_DISPATCH_FAILED"
)
